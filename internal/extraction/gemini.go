package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/config"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// Extractor turns documents or OCR text into structured data.
type Extractor interface {
	// ExtractFromFile sends a document together with the rendered prompt.
	ExtractFromFile(ctx context.Context, prompt PromptName, data []byte, mimeType, promptContext string) (*Result, error)

	// ExtractFromText sends already-recognised text with the rendered prompt.
	ExtractFromText(ctx context.Context, prompt PromptName, text, promptContext string) (*Result, error)
}

// Result is a decoded model response together with what produced it.
type Result struct {
	Data   map[string]any
	Raw    string
	Model  string
	Prompt string
}

// contentGenerator is the subset of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements Extractor on the Gemini API.
type GeminiClient struct {
	models  contentGenerator
	prompts *Prompts
	model   string
	gen     *genai.GenerateContentConfig
}

// NewGeminiClient creates a Gemini-backed extractor from configuration.
func NewGeminiClient(ctx context.Context, cfg config.ExtractionConfig) (*GeminiClient, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("NewGeminiClient: %w: missing API key", domain.ErrConnection)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiClient: create genai client: %w", err)
	}
	return newGeminiClient(client.Models, cfg), nil
}

func newGeminiClient(models contentGenerator, cfg config.ExtractionConfig) *GeminiClient {
	model := cfg.Model
	if model == "" {
		model = DefaultModelName
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 0.1
	}
	maxTokens := cfg.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &GeminiClient{
		models:  models,
		prompts: NewPrompts(cfg.Prompts),
		model:   model,
		gen: &genai.GenerateContentConfig{
			Temperature:     genai.Ptr(temperature),
			MaxOutputTokens: maxTokens,
		},
	}
}

// ExtractFromFile renders prompt with promptContext and sends it with the file inline.
func (c *GeminiClient) ExtractFromFile(ctx context.Context, prompt PromptName, data []byte, mimeType, promptContext string) (*Result, error) {
	text, err := c.prompts.Render(prompt, "", promptContext)
	if err != nil {
		return nil, fmt.Errorf("ExtractFromFile: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("ExtractFromFile: %w: empty file", domain.ErrSemantic)
	}

	parts := []*genai.Part{
		{Text: text},
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
	}
	return c.generate(ctx, "ExtractFromFile", text, parts)
}

// ExtractFromText renders prompt with the text and context and sends it alone.
func (c *GeminiClient) ExtractFromText(ctx context.Context, prompt PromptName, text, promptContext string) (*Result, error) {
	rendered, err := c.prompts.Render(prompt, text, promptContext)
	if err != nil {
		return nil, fmt.Errorf("ExtractFromText: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("ExtractFromText: %w: no text to analyse", domain.ErrSemantic)
	}
	return c.generate(ctx, "ExtractFromText", rendered, []*genai.Part{{Text: rendered}})
}

func (c *GeminiClient) generate(ctx context.Context, op, prompt string, parts []*genai.Part) (*Result, error) {
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, c.gen)
	if err != nil {
		return nil, ClassifyError(op+": generate content", err)
	}

	raw := resp.Text()
	data, err := DecodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Result{Data: data, Raw: raw, Model: c.model, Prompt: prompt}, nil
}
