package extraction

import (
	"fmt"
	"strings"
)

// PromptName selects an extraction prompt.
type PromptName string

const (
	PromptTickets     PromptName = "tickets"
	PromptInvestment  PromptName = "inversion"
	PromptDebts       PromptName = "deudas"
	PromptInvoiceText PromptName = "facturacion_from_text_with_context"
)

const (
	contextPlaceholder = "{context_str}"
	textPlaceholder    = "{text_content}"
)

var defaultPrompts = map[PromptName]string{
	PromptTickets: "Eres un asistente experto en contabilidad.\n" +
		"Lee el ticket de compra o comprobante de transferencia adjunto y extrae sus datos.\n" +
		"Devuelve SOLO JSON válido, sin texto adicional ni bloques de código.\n\n" +
		"FORMATO REQUERIDO:\n" +
		"{\n" +
		"  \"tipo_documento\": \"TICKET_COMPRA | TRANSFERENCIA | OTRO\",\n" +
		"  \"fecha\": \"YYYY-MM-DD\",\n" +
		"  \"establecimiento\": \"nombre del comercio\",\n" +
		"  \"descripcion_corta\": \"resumen breve, por ejemplo Supermercado\",\n" +
		"  \"total\": 0.00,\n" +
		"  \"confianza_extraccion\": \"ALTA | MEDIA | BAJA\"\n" +
		"}\n\n" +
		"Reglas:\n" +
		"- \"total\" es un número decimal sin símbolo de moneda ni separadores de miles.\n" +
		"- Si no encuentras la fecha usa null.\n" +
		"- Si el documento no es legible devuelve {\"error\": \"motivo\"}.\n",

	PromptInvestment: "Eres un analista de inversiones.\n" +
		"Lee la confirmación de compra de valores adjunta y extrae la operación.\n" +
		"Devuelve SOLO JSON válido, sin texto adicional ni bloques de código.\n\n" +
		"FORMATO REQUERIDO:\n" +
		"{\n" +
		"  \"tipo_inversion\": \"ACCION | ETF | FIBRA | BONO | OTRO\",\n" +
		"  \"emisora_ticker\": \"símbolo bursátil\",\n" +
		"  \"nombre_activo\": \"nombre del instrumento\",\n" +
		"  \"fecha_compra\": \"YYYY-MM-DD\",\n" +
		"  \"cantidad_titulos\": 0,\n" +
		"  \"precio_por_titulo\": 0.00,\n" +
		"  \"moneda\": \"MXN | USD\"\n" +
		"}\n\n" +
		"Reglas:\n" +
		"- Los números van sin símbolo de moneda ni separadores de miles.\n" +
		"- Si el documento no es legible devuelve {\"error\": \"motivo\"}.\n",

	PromptDebts: "Eres un analista de crédito.\n" +
		"Lee la tabla de amortización adjunta y transcribe cada pago.\n" +
		"Devuelve SOLO JSON válido, sin texto adicional ni bloques de código.\n\n" +
		"FORMATO REQUERIDO:\n" +
		"{\n" +
		"  \"institucion\": \"nombre del acreedor\",\n" +
		"  \"monto_credito\": 0.00,\n" +
		"  \"tasa_anual\": 0.00,\n" +
		"  \"tabla\": [\n" +
		"    {\"numero\": 1, \"fecha\": \"YYYY-MM-DD\", \"pago\": 0.00, \"interes\": 0.00, \"capital\": 0.00, \"saldo\": 0.00}\n" +
		"  ]\n" +
		"}\n\n" +
		"Reglas:\n" +
		"- Incluye todas las filas en orden.\n" +
		"- Los números van sin símbolo de moneda ni separadores de miles.\n",

	PromptInvoiceText: "Eres un auditor fiscal.\n\n" +
		"CONTEXTO CONOCIDO:\n" +
		contextPlaceholder + "\n\n" +
		"Analiza el siguiente texto de un ticket:\n" +
		textPlaceholder + "\n\n" +
		"Identifica si la tienda del ticket está en la lista conocida y extrae los datos de facturación.\n" +
		"Devuelve SOLO JSON válido, sin texto adicional ni bloques de código.\n\n" +
		"FORMATO REQUERIDO:\n" +
		"{\n" +
		"  \"tienda\": \"nombre de la tienda, tal como aparece en la lista si es conocida\",\n" +
		"  \"es_conocida\": true,\n" +
		"  \"rfc\": \"RFC del emisor\",\n" +
		"  \"fecha\": \"YYYY-MM-DD\",\n" +
		"  \"total\": 0.00,\n" +
		"  \"folio\": \"folio o número de ticket\",\n" +
		"  \"campos\": {\"nombre_del_campo\": \"valor\"}\n" +
		"}\n\n" +
		"Reglas:\n" +
		"- En \"campos\" incluye cada dato que la tienda pide para facturar y que aparezca en el ticket.\n" +
		"- Si un dato no aparece omítelo.\n",
}

// Prompts is a registry of prompt templates by name.
type Prompts struct {
	templates map[PromptName]string
}

// NewPrompts returns the built-in prompts, with any override replacing the
// template of the same name.
func NewPrompts(overrides map[string]string) *Prompts {
	templates := make(map[PromptName]string, len(defaultPrompts)+len(overrides))
	for name, tpl := range defaultPrompts {
		templates[name] = tpl
	}
	for name, tpl := range overrides {
		if strings.TrimSpace(tpl) == "" {
			continue
		}
		templates[PromptName(name)] = tpl
	}
	return &Prompts{templates: templates}
}

// Render fills the template's placeholders. Text that the template has no
// placeholder for is appended after a blank line.
func (p *Prompts) Render(name PromptName, text, context string) (string, error) {
	tpl, ok := p.templates[name]
	if !ok {
		return "", fmt.Errorf("Render: unknown prompt %q", name)
	}

	out := strings.ReplaceAll(tpl, contextPlaceholder, context)
	if strings.Contains(out, textPlaceholder) {
		return strings.ReplaceAll(out, textPlaceholder, text), nil
	}
	if text != "" {
		out += "\n\n" + text
	}
	return out, nil
}

// Names lists the registered prompt names.
func (p *Prompts) Names() []PromptName {
	names := make([]PromptName, 0, len(p.templates))
	for name := range p.templates {
		names = append(names, name)
	}
	return names
}
