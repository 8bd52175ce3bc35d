package timeparse_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fincache/fincache/internal/timeparse"
)

func TestParseNativeTime(t *testing.T) {
	in := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	got, err := timeparse.Parse(in)
	require.NoError(t, err)
	assert.True(t, in.Equal(got))
}

func TestParseSecondsEpoch(t *testing.T) {
	got, err := timeparse.Parse(int64(1700000000))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), got.Unix())
}

func TestParseMicrosecondEpoch(t *testing.T) {
	got, err := timeparse.Parse(int64(1700000000000000))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), got.Unix())
}

func TestParseDateOnlyString(t *testing.T) {
	got, err := timeparse.Parse("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, 2024, got.Year())
	assert.Equal(t, time.March, got.Month())
	assert.Equal(t, 1, got.Day())
}

func TestParseCompactString(t *testing.T) {
	got, err := timeparse.Parse("20240301120000")
	require.NoError(t, err)
	assert.Equal(t, 12, got.Hour())
}

func TestParseUnrecognizedStringFails(t *testing.T) {
	_, err := timeparse.Parse("not a date")
	require.Error(t, err)
}

func TestParseUnsupportedTypeFails(t *testing.T) {
	_, err := timeparse.Parse([]int{1, 2, 3})
	require.Error(t, err)
}
