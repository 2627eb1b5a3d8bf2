package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/amortization"
	"github.com/dvloznov/finance-ingest/internal/billing"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/extraction"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/normalize"
	"github.com/shopspring/decimal"
)

// unknownStore is recorded when the model could not name the store.
const unknownStore = "DESCONOCIDO"

func copyPayload(data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+4)
	for k, v := range data {
		out[k] = v
	}
	return out
}

func (w *Worker) transformTicket(ctx context.Context, state *PipelineState) error {
	state.Payload = copyPayload(state.Result.Data)
	return nil
}

// transformInvestment normalises quantities, looks up the purchase-date FX
// rate and a current price, and stores the money values as strings.
func (w *Worker) transformInvestment(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	data := state.Result.Data

	quantity, err := normalize.Decimal(data["cantidad_titulos"])
	if err != nil {
		return fmt.Errorf("invalid numeric data: cantidad_titulos: %w", err)
	}
	unitPrice, err := normalize.Decimal(data["precio_por_titulo"])
	if err != nil {
		return fmt.Errorf("invalid numeric data: precio_por_titulo: %w", err)
	}

	purchased := normalize.ParseDateSafely(normalize.FirstString(data, "fecha_compra", "fecha"), w.now())

	rate, err := w.deps.Rates.USDMXN(ctx, purchased)
	if err != nil {
		log.Warn().Err(err).Time("date", purchased).Msg("Exchange rate unavailable")
		rate = nil
	}

	ticker := normalize.Upper(normalize.FirstString(data, "emisora_ticker"))
	var current *decimal.Decimal
	if ticker != "" {
		if current, err = w.deps.Prices.CurrentPrice(ctx, ticker); err != nil {
			log.Warn().Err(err).Str("ticker", ticker).Msg("Current price unavailable")
			current = nil
		}
	}
	currency := normalize.Upper(normalize.FirstString(data, "moneda"))
	if current == nil {
		switch {
		case currency == "USD":
			current = &unitPrice
		case rate != nil && rate.IsPositive():
			converted := unitPrice.Div(*rate).Round(6)
			current = &converted
		}
	}

	name := normalize.FirstString(data, "nombre_activo")
	if name == "" {
		name = ticker
	}
	kind := normalize.Upper(normalize.FirstString(data, "tipo_inversion"))
	if kind == "" {
		kind = "ACCION"
	}

	payload := copyPayload(data)
	payload["fecha_compra"] = purchased.Format("2006-01-02")
	payload["emisora_ticker"] = ticker
	payload["nombre_activo"] = name
	payload["tipo_inversion"] = kind
	payload["moneda"] = currency
	payload["cantidad_titulos"] = quantity.String()
	payload["precio_por_titulo"] = unitPrice.String()
	payload["tipo_cambio"] = normalize.DecimalString(rate)
	payload["precio_actual"] = normalize.DecimalString(current)
	state.Payload = payload
	return nil
}

// transformAmortization requires a parseable "tabla" so bad schedules fail
// here rather than at approval.
func (w *Worker) transformAmortization(ctx context.Context, state *PipelineState) error {
	data := state.Result.Data
	tabla, ok := data["tabla"].([]any)
	if !ok {
		if items, isList := data["items"].([]any); isList {
			tabla = items
		} else {
			return fmt.Errorf("%w: extracted schedule has no tabla", domain.ErrSemantic)
		}
	}
	// The opening balance is only known at approval, against the debt's schedule.
	_, err := amortization.FromExtracted(state.Job.DebtID, tabla, nil, w.now().Location())
	if err != nil && !errors.Is(err, amortization.ErrNoOpeningBalance) {
		return err
	}

	payload := copyPayload(data)
	delete(payload, "items")
	payload["tabla"] = tabla
	payload["filas"] = len(tabla)
	state.Payload = payload
	return nil
}

func (w *Worker) ocr(ctx context.Context, state *PipelineState) error {
	text, err := w.deps.OCR.Text(ctx, state.Data, state.MIMEType)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: OCR found no text", domain.ErrSemantic)
	}
	state.OCRText = text
	return nil
}

func (w *Worker) extractInvoice(ctx context.Context, state *PipelineState) error {
	promptContext, err := billing.BuildContext(ctx, w.deps.Stores)
	if err != nil {
		return err
	}
	state.Prompt = extraction.PromptInvoiceText
	res, err := w.deps.Extractor.ExtractFromText(ctx, extraction.PromptInvoiceText, state.OCRText, promptContext)
	if err != nil {
		return err
	}
	state.Result = res
	return rejectErrorPayload(res.Data)
}

// transformInvoice resolves the store name. A name the model recognised from
// the known list is kept; otherwise the fuzzy matcher may replace it.
func (w *Worker) transformInvoice(ctx context.Context, state *PipelineState) error {
	data := state.Result.Data

	detected := normalize.FirstString(data, "tienda")
	if detected == "" {
		detected = unknownStore
	}

	resolved := detected
	if !normalize.Bool(data, "es_conocida") {
		match, err := w.matcher.Match(ctx, detected)
		if err != nil {
			return err
		}
		if match != nil {
			resolved = match.Store
		}
	}

	payload := copyPayload(data)
	payload["tienda"] = resolved
	payload["tienda_detectada"] = detected
	payload["texto_ocr"] = state.OCRText
	state.Payload = payload

	log := logger.FromContext(ctx)
	log.Info().Str("detected", detected).Str("store", resolved).Msg("Resolved invoice store")
	return nil
}
