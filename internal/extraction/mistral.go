package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
)

// OCR turns a document into plain text.
type OCR interface {
	Text(ctx context.Context, data []byte, mimeType string) (string, error)
}

const (
	mistralOCRModel     = "mistral-ocr-latest"
	mistralDefaultURL   = "https://api.mistral.ai"
	mistralMaxErrorBody = 512
)

// MistralOCR calls the Mistral OCR endpoint.
type MistralOCR struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewMistralOCR creates an OCR client. An empty baseURL uses the public API.
func NewMistralOCR(baseURL, apiKey string) *MistralOCR {
	if baseURL == "" {
		baseURL = mistralDefaultURL
	}
	return &MistralOCR{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type ocrDocument struct {
	Type        string `json:"type"`
	ImageURL    string `json:"image_url,omitempty"`
	DocumentURL string `json:"document_url,omitempty"`
}

type ocrRequest struct {
	Model    string      `json:"model"`
	Document ocrDocument `json:"document"`
}

type ocrResponse struct {
	Pages []struct {
		Index    int    `json:"index"`
		Markdown string `json:"markdown"`
	} `json:"pages"`
}

// Text uploads the document as a data URL and joins the recognised pages.
func (m *MistralOCR) Text(ctx context.Context, data []byte, mimeType string) (string, error) {
	if m.apiKey == "" {
		return "", fmt.Errorf("MistralOCR.Text: %w: missing API key", domain.ErrConnection)
	}

	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	doc := ocrDocument{Type: "image_url", ImageURL: dataURL}
	if mimeType == "application/pdf" {
		doc = ocrDocument{Type: "document_url", DocumentURL: dataURL}
	}

	body, err := json.Marshal(ocrRequest{Model: mistralOCRModel, Document: doc})
	if err != nil {
		return "", fmt.Errorf("MistralOCR.Text: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/ocr", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("MistralOCR.Text: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", ClassifyError("MistralOCR.Text", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, mistralMaxErrorBody))
		return "", ClassifyError("MistralOCR.Text", &HTTPError{StatusCode: resp.StatusCode, Body: string(msg)})
	}

	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("MistralOCR.Text: %w: decode response: %w", domain.ErrSemantic, err)
	}

	pages := make([]string, 0, len(out.Pages))
	for _, p := range out.Pages {
		if s := strings.TrimSpace(p.Markdown); s != "" {
			pages = append(pages, s)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}
