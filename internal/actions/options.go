package actions

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Options is the loosely typed option bag of one step.
type Options map[string]any

// String returns the option rendered as a string, or def when absent or
// null. Lists and maps cannot be rendered and fail with ErrInvalidOption.
func (o Options) String(key, def string) (string, error) {
	raw, ok := o.lookup(key)
	if !ok || raw == nil {
		return def, nil
	}
	switch raw.(type) {
	case []any, map[string]any, map[any]any:
		return "", fmt.Errorf("%w: %s must be a scalar, got %T", ErrInvalidOption, key, raw)
	}
	s, err := cast.ToStringE(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidOption, key, err)
	}
	return s, nil
}

// Int returns the option as an integer. Absent, null, and unparsable values
// all yield def; a malformed number never fails compilation. Strings must be
// plain base-10 integers. Floats are truncated and saturate at the int64
// range.
func (o Options) Int(key string, def int64) int64 {
	raw, ok := o.lookup(key)
	if !ok || raw == nil {
		return def
	}
	switch v := raw.(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return def
		}
		return n
	case bool:
		return def
	case float32:
		return saturate(float64(v))
	case float64:
		return saturate(v)
	case uint64:
		if v > math.MaxInt64 {
			return math.MaxInt64
		}
	case uint:
		if uint64(v) > math.MaxInt64 {
			return math.MaxInt64
		}
	}
	n, err := cast.ToInt64E(raw)
	if err != nil {
		return def
	}
	return n
}

func saturate(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

// lookup matches keys case-insensitively, preferring an exact match.
func (o Options) lookup(key string) (any, bool) {
	if v, ok := o[key]; ok {
		return v, true
	}
	for k, v := range o {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
