package billing

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

// BuildContext renders the known store list for the invoice extraction prompt so the
// model can normalise the store name and report whether it recognised it.
func BuildContext(ctx context.Context, repo StoreRepository) (string, error) {
	stores, err := repo.AllStores(ctx)
	if err != nil {
		return "", fmt.Errorf("BuildContext: %w", err)
	}
	if len(stores) == 0 {
		return "No hay tiendas conocidas registradas.", nil
	}

	sort.Slice(stores, func(i, j int) bool { return stores[i].Store < stores[j].Store })

	var b strings.Builder
	b.WriteString("Tiendas conocidas y los datos que piden para facturar:\n")
	for _, s := range stores {
		fmt.Fprintf(&b, "- %s", strings.ToUpper(s.Store))
		if len(s.RequiredFields) > 0 {
			fmt.Fprintf(&b, " (campos: %s)", strings.Join(s.RequiredFields, ", "))
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// MergeInvoiceFields crosses extracted data with the fields a store requires for
// invoicing. It returns the values found and the required fields still missing.
func MergeInvoiceFields(cfg *domain.StoreBillingConfig, data map[string]any) (map[string]string, []string) {
	fields := make(map[string]string)
	var missing []string

	if cfg == nil {
		return fields, nil
	}

	for _, f := range cfg.RequiredFields {
		v, ok := lookupField(data, f)
		if !ok {
			missing = append(missing, f)
			continue
		}
		fields[f] = v
	}
	return fields, missing
}

// lookupField finds f at the top level or inside a "datos_facturacion" object.
func lookupField(data map[string]any, f string) (string, bool) {
	if s, ok := stringify(data[f]); ok {
		return s, true
	}
	if nested, ok := data["datos_facturacion"].(map[string]any); ok {
		return stringify(nested[f])
	}
	return "", false
}

func stringify(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		return s, s != ""
	case float64:
		return decimal.NewFromFloat(val).String(), true
	case bool:
		return fmt.Sprintf("%t", val), true
	}
	return "", false
}
