package cacheerr_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fincache/fincache/internal/cacheerr"
)

func TestWrappedErrorsMatchSentinel(t *testing.T) {
	cause := errors.New("boom")

	err := cacheerr.FetcherFailure("calling provider", cause)
	require.Error(t, err)
	assert.True(t, cacheerr.Is(err, cacheerr.ErrFetcherFailure))
	assert.False(t, cacheerr.Is(err, cacheerr.ErrStorageFailure))
	assert.Contains(t, err.Error(), "boom")
}

func TestMissNoFetcherHasNoCause(t *testing.T) {
	err := cacheerr.MissNoFetcher("symbol=X")
	require.Error(t, err)
	assert.True(t, cacheerr.Is(err, cacheerr.ErrCacheMissNoFetcher))
}
