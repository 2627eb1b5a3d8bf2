package normalize

import (
	"fmt"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

// FirstString returns the first non-empty string among keys, trimmed.
func FirstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// FirstDecimal returns the first present, non-empty value among keys as a decimal.
// A present but malformed value is an error; no value at all is zero.
func FirstDecimal(m map[string]any, keys ...string) (decimal.Decimal, error) {
	d, _, err := firstDecimal(m, keys)
	return d, err
}

// RequiredDecimal is FirstDecimal that fails when none of keys carry a value.
func RequiredDecimal(m map[string]any, keys ...string) (decimal.Decimal, error) {
	d, found, err := firstDecimal(m, keys)
	if err != nil {
		return decimal.Zero, err
	}
	if !found {
		return decimal.Zero, fmt.Errorf("%w: missing required field %q", domain.ErrSemantic, strings.Join(keys, "|"))
	}
	return d, nil
}

// LookupDecimal is FirstDecimal that also reports whether any of keys carried a value.
func LookupDecimal(m map[string]any, keys ...string) (decimal.Decimal, bool, error) {
	return firstDecimal(m, keys)
}

func firstDecimal(m map[string]any, keys []string) (decimal.Decimal, bool, error) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		d, err := Decimal(v)
		if err != nil {
			return decimal.Zero, true, fmt.Errorf("field %q: %w", k, err)
		}
		return d, true, nil
	}
	return decimal.Zero, false, nil
}

// Bool reads a loosely typed boolean flag ("true", true, 1).
func Bool(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s == "true" || s == "si" || s == "sí" || s == "1"
	case float64:
		return v != 0
	}
	return false
}

// Upper trims and upper-cases s.
func Upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
