package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

var amountReplacer = strings.NewReplacer("$", "", ",", "", " ", "", "\u00a0", "")

// Decimal converts a decoded JSON value into an exact decimal. Every value goes
// through its string form first so binary float artifacts never reach the ledger.
// nil and empty strings are zero.
func Decimal(v any) (decimal.Decimal, error) {
	var s string
	switch val := v.(type) {
	case nil:
		return decimal.Zero, nil
	case string:
		s = val
	case json.Number:
		s = val.String()
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		s = strconv.Itoa(val)
	case int64:
		s = strconv.FormatInt(val, 10)
	case decimal.Decimal:
		return val, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: value has type %T, want number", domain.ErrSemantic, v)
	}

	s = amountReplacer.Replace(strings.TrimSpace(s))
	if s == "" {
		return decimal.Zero, nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid number %q", domain.ErrSemantic, s)
	}
	return d, nil
}

// DecimalString renders an optional decimal for a JSON payload; nil stays null.
func DecimalString(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}
