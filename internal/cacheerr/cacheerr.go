// Package cacheerr defines the error taxonomy surfaced by the cache
// core. Every error the core returns to a caller wraps one of the
// sentinels below via github.com/pkg/errors, so that callers can test
// the failure kind with errors.Is while still getting a wrapped
// message and stack trace for logs.
package cacheerr

import "github.com/pkg/errors"

var (
	// ErrConfiguration covers missing start/end parameters on a
	// range-wrapped function, or duplicate dataset registration under
	// the same key with conflicting config.
	ErrConfiguration = errors.New("configuration error")

	// ErrSchemaConflict is returned when the sidecar catalog disagrees
	// with an observed value or column's logical type.
	ErrSchemaConflict = errors.New("schema conflict")

	// ErrCacheInconsistency is returned when a point lookup returns
	// more than one row, or a manifest interval violates monotonicity.
	ErrCacheInconsistency = errors.New("cache inconsistency")

	// ErrCacheMissNoFetcher is returned by the point cache on a miss
	// when no fetcher was supplied.
	ErrCacheMissNoFetcher = errors.New("cache miss with no fetcher")

	// ErrFetcherFailure wraps an error returned verbatim by a caller's
	// fetcher callback.
	ErrFetcherFailure = errors.New("fetcher failure")

	// ErrStorageFailure wraps a lower-layer store error.
	ErrStorageFailure = errors.New("storage failure")
)

// Configuration wraps err (or, if err is nil, just msg) as a
// configuration error.
func Configuration(msg string, err error) error {
	return wrap(ErrConfiguration, msg, err)
}

// SchemaConflict wraps err as a schema-conflict error.
func SchemaConflict(msg string, err error) error {
	return wrap(ErrSchemaConflict, msg, err)
}

// Inconsistency wraps err as a cache-inconsistency error.
func Inconsistency(msg string, err error) error {
	return wrap(ErrCacheInconsistency, msg, err)
}

// MissNoFetcher builds a cache-miss-no-fetcher error for the given key
// description.
func MissNoFetcher(msg string) error {
	return wrap(ErrCacheMissNoFetcher, msg, nil)
}

// FetcherFailure wraps a fetcher's returned error.
func FetcherFailure(msg string, err error) error {
	return wrap(ErrFetcherFailure, msg, err)
}

// StorageFailure wraps a lower-layer store error.
func StorageFailure(msg string, err error) error {
	return wrap(ErrStorageFailure, msg, err)
}

// kindError associates a wrapped cause with one of the sentinel kinds
// above, so that both errors.Is(err, ErrFetcherFailure) and the usual
// Cause/stack-trace inspection from github.com/pkg/errors keep working.
type kindError struct {
	sentinel error
	cause    error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.sentinel.Error()
	}
	return e.sentinel.Error() + ": " + e.cause.Error()
}

func (e *kindError) Unwrap() error { return e.cause }

func (e *kindError) Is(target error) bool { return target == e.sentinel }

func wrap(sentinel error, msg string, err error) error {
	var cause error
	if err != nil {
		cause = errors.WithMessage(err, msg)
	} else if msg != "" {
		cause = errors.New(msg)
	}
	return &kindError{sentinel: sentinel, cause: cause}
}

// Is reports whether err is ultimately one of the sentinels in this
// package, unwrapping through github.com/pkg/errors' Cause chain as
// well as the standard errors.Is chain.
func Is(err, sentinel error) bool {
	return errors.Is(err, sentinel)
}
