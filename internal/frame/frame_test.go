package frame_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fincache/fincache/internal/codec"
	"github.com/fincache/fincache/internal/frame"
)

func TestAppendAndSortByTimestamp(t *testing.T) {
	f := frame.New([]string{"date", "close"}, map[string]codec.LogicalType{
		"date":  codec.TypeTimestamp,
		"close": codec.TypeFloat,
	})

	t2 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	f.AppendRow(map[string]any{"date": t2, "close": 2.0})
	f.AppendRow(map[string]any{"date": t1, "close": 1.0})

	require.Equal(t, 2, f.Len())
	require.NoError(t, f.SortByTimestampColumn("date"))

	assert.Equal(t, t1, f.Column("date")[0])
	assert.Equal(t, 1.0, f.Column("close")[0])
	assert.Equal(t, t2, f.Column("date")[1])

	max, ok := f.MaxTimestamp("date")
	require.True(t, ok)
	assert.True(t, max.Equal(t2))
}

func TestInsertColumnFront(t *testing.T) {
	f := frame.New([]string{"date"}, map[string]codec.LogicalType{"date": codec.TypeTimestamp})
	f.AppendRow(map[string]any{"date": time.Now()})
	f.InsertColumnFront("symbol", codec.TypeString, "AAPL")

	assert.Equal(t, []string{"symbol", "date"}, f.Columns())
	assert.Equal(t, "AAPL", f.Column("symbol")[0])
}

func TestEmptyFrame(t *testing.T) {
	f := frame.New([]string{"date"}, map[string]codec.LogicalType{"date": codec.TypeTimestamp})
	assert.True(t, f.Empty())
	_, ok := f.MaxTimestamp("date")
	assert.False(t, ok)
}

func TestDeduplicateByColumnsKeepsLastOccurrence(t *testing.T) {
	f := frame.New([]string{"symbol", "date", "close"}, map[string]codec.LogicalType{
		"symbol": codec.TypeString, "date": codec.TypeTimestamp, "close": codec.TypeFloat,
	})
	d1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	f.AppendRow(map[string]any{"symbol": "AAPL", "date": d1, "close": 1.0})
	f.AppendRow(map[string]any{"symbol": "AAPL", "date": d2, "close": 2.0})
	f.AppendRow(map[string]any{"symbol": "AAPL", "date": d1, "close": 99.0}) // later duplicate wins

	f.DeduplicateByColumns([]string{"symbol", "date"})

	require.Equal(t, 2, f.Len())
	assert.Equal(t, d2, f.Column("date")[0])
	assert.Equal(t, 99.0, f.Column("close")[1])
	assert.Equal(t, d1, f.Column("date")[1])
}
