package mapper

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/tidwall/gjson"
	"github.com/vjranagit/tsviz/pkg/types"
)

// maxEpochMillis is the largest epoch millisecond value whose nanosecond
// form fits in an int64.
const maxEpochMillis = float64(math.MaxInt64 / int64(time.Millisecond))

// ParseTimestamp converts a raw timestamp value to a UTC instant.
// Numbers are epoch milliseconds. Strings without an explicit offset are
// read in loc (UTC when nil).
func ParseTimestamp(raw gjson.Result, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}

	switch raw.Type {
	case gjson.Number:
		if math.IsNaN(raw.Num) || math.IsInf(raw.Num, 0) || math.Abs(raw.Num) > maxEpochMillis {
			return time.Time{}, fmt.Errorf("%w: %s", types.ErrMalformedTimestamp, raw.Raw)
		}
		return time.Unix(0, int64(raw.Num*float64(time.Millisecond))).UTC(), nil

	case gjson.String:
		s := strings.TrimSpace(raw.Str)
		if s == "" {
			return time.Time{}, fmt.Errorf("%w: empty string", types.ErrMalformedTimestamp)
		}
		t, err := dateparse.ParseIn(s, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q: %v", types.ErrMalformedTimestamp, s, err)
		}
		return t.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("%w: unsupported value %s", types.ErrMalformedTimestamp, raw.Raw)
}

// parseValue returns nil for anything that is not a finite number.
func parseValue(raw gjson.Result, ok bool) *float64 {
	if !ok {
		return nil
	}

	var v float64
	switch raw.Type {
	case gjson.Number:
		v = raw.Num
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw.Str), 64)
		if err != nil {
			return nil
		}
		v = f
	default:
		return nil
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// LoadLocation resolves an IANA zone name. Empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", types.ErrMalformedInput, name)
	}
	return loc, nil
}
