// Package timeparse implements the router's generalized timestamp
// parsing (SPEC_FULL.md §4.6 step 4), grounded on the original
// _parse_datetime helper in original_source/fintools/utils.py: accept
// a native time.Time, an epoch integer (seconds or microseconds), or
// one of a fixed list of string layouts, and normalize to an aware,
// local-zone time.Time.
package timeparse

import (
	"time"

	"github.com/pkg/errors"
)

// epochMicrosCutover mirrors the source's heuristic for telling a
// microsecond epoch from a second epoch: a value larger than this
// cannot plausibly be a seconds-since-epoch timestamp for the
// foreseeable future, so it is assumed to already be in microseconds.
const epochMicrosCutover = 9_999_999_999_999

// layouts are tried in order against a string input, matching the
// source's strptime fallback chain.
var layouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"20060102150405",
	"2006-01-02",
	"2006/01/02",
	"20060102",
}

// Parse accepts a time.Time, an int/int64/float64 epoch (seconds or
// microseconds, auto-detected the way the source does), or a string
// in one of the recognized layouts, and returns it normalized to the
// local time zone. It mirrors _parse_datetime's input contract and
// its "try everything, fail loudly" behavior on an unrecognized
// string.
func Parse(input any) (time.Time, error) {
	switch v := input.(type) {
	case time.Time:
		return v.Local(), nil
	case int:
		return parseEpoch(int64(v)), nil
	case int64:
		return parseEpoch(v), nil
	case float64:
		return parseEpoch(int64(v)), nil
	case string:
		return parseString(v)
	default:
		return time.Time{}, errors.Errorf("unsupported datetime input type %T", input)
	}
}

func parseEpoch(v int64) time.Time {
	if v > epochMicrosCutover {
		v /= 1_000_000
	}
	return time.Unix(v, 0).Local()
}

func parseString(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Local(), nil
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t.Local(), nil
		}
	}
	return time.Time{}, errors.Errorf("string datetime format not recognized: %q", s)
}

// ToMicros converts a parsed time.Time to UTC microseconds since
// epoch, the unit the manifest and store use internally.
func ToMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}
