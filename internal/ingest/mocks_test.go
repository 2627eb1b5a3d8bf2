package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/finance-ingest/internal/cloudfiles"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/extraction"
	infra "github.com/dvloznov/finance-ingest/internal/infra/bigquery"
	"github.com/dvloznov/finance-ingest/internal/jobs"
	"github.com/dvloznov/finance-ingest/internal/market"
	"github.com/shopspring/decimal"
)

// MockSource is a mock implementation of cloudfiles.Source.
type MockSource struct {
	ListFilesFunc       func(ctx context.Context, folder string, mimeTypes []string) ([]cloudfiles.File, error)
	DownloadFunc        func(ctx context.Context, fileID string) ([]byte, error)
	MoveToProcessedFunc func(ctx context.Context, fileID, folder string) error
}

func (m *MockSource) ListFiles(ctx context.Context, folder string, mimeTypes []string) ([]cloudfiles.File, error) {
	return m.ListFilesFunc(ctx, folder, mimeTypes)
}

func (m *MockSource) Download(ctx context.Context, fileID string) ([]byte, error) {
	if m.DownloadFunc == nil {
		return []byte("%PDF-1.7 " + fileID), nil
	}
	return m.DownloadFunc(ctx, fileID)
}

func (m *MockSource) MoveToProcessed(ctx context.Context, fileID, folder string) error {
	if m.MoveToProcessedFunc == nil {
		return nil
	}
	return m.MoveToProcessedFunc(ctx, fileID, folder)
}

func factoryFor(src cloudfiles.Source) cloudfiles.Factory {
	return cloudfiles.FactoryFunc(func(ctx context.Context, ownerID string) (cloudfiles.Source, error) {
		return src, nil
	})
}

// MockExtractor is a mock implementation of extraction.Extractor.
type MockExtractor struct {
	ExtractFromFileFunc func(ctx context.Context, prompt extraction.PromptName, data []byte, mimeType, promptContext string) (*extraction.Result, error)
	ExtractFromTextFunc func(ctx context.Context, prompt extraction.PromptName, text, promptContext string) (*extraction.Result, error)
}

func (m *MockExtractor) ExtractFromFile(ctx context.Context, prompt extraction.PromptName, data []byte, mimeType, promptContext string) (*extraction.Result, error) {
	return m.ExtractFromFileFunc(ctx, prompt, data, mimeType, promptContext)
}

func (m *MockExtractor) ExtractFromText(ctx context.Context, prompt extraction.PromptName, text, promptContext string) (*extraction.Result, error) {
	return m.ExtractFromTextFunc(ctx, prompt, text, promptContext)
}

func result(data map[string]any) *extraction.Result {
	return &extraction.Result{Data: data, Raw: fmt.Sprint(data), Model: "gemini-test"}
}

// MockOCR is a mock implementation of extraction.OCR.
type MockOCR struct {
	TextFunc func(ctx context.Context, data []byte, mimeType string) (string, error)
}

func (m *MockOCR) Text(ctx context.Context, data []byte, mimeType string) (string, error) {
	return m.TextFunc(ctx, data, mimeType)
}

// MockPrices is a mock implementation of market.PriceSource.
type MockPrices struct {
	CurrentPriceFunc func(ctx context.Context, ticker string) (*decimal.Decimal, error)
}

func (m *MockPrices) CurrentPrice(ctx context.Context, ticker string) (*decimal.Decimal, error) {
	if m.CurrentPriceFunc == nil {
		return nil, nil
	}
	return m.CurrentPriceFunc(ctx, ticker)
}

func (m *MockPrices) MonthlySeries(ctx context.Context, ticker string, from, to time.Time) ([]market.PricePoint, error) {
	return nil, nil
}

// MockRates is a mock implementation of market.RateSource.
type MockRates struct {
	USDMXNFunc func(ctx context.Context, date time.Time) (*decimal.Decimal, error)
}

func (m *MockRates) USDMXN(ctx context.Context, date time.Time) (*decimal.Decimal, error) {
	if m.USDMXNFunc == nil {
		return nil, nil
	}
	return m.USDMXNFunc(ctx, date)
}

// recordingSink records analytics calls.
type recordingSink struct {
	infra.NoopSink

	mu        sync.Mutex
	runs      []*infra.ExtractionRunRow
	outputs   []*infra.ModelOutputRow
	failed    []string
	succeeded []string
	startErr  error
}

func (s *recordingSink) StartExtractionRun(ctx context.Context, row *infra.ExtractionRunRow) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return "", s.startErr
	}
	s.runs = append(s.runs, row)
	return fmt.Sprintf("run-%d", len(s.runs)), nil
}

func (s *recordingSink) MarkExtractionRunFailed(ctx context.Context, runID string, runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, runID)
}

func (s *recordingSink) MarkExtractionRunSucceeded(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded = append(s.succeeded, runID)
	return nil
}

func (s *recordingSink) InsertModelOutput(ctx context.Context, row *infra.ModelOutputRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = append(s.outputs, row)
	return nil
}

// MockPublisher is a mock implementation of jobs.Publisher.
type MockPublisher struct {
	PublishGroupFunc func(ctx context.Context, group *jobs.Group, batch []*jobs.Job) error
}

func (m *MockPublisher) PublishGroup(ctx context.Context, group *jobs.Group, batch []*jobs.Job) error {
	return m.PublishGroupFunc(ctx, group, batch)
}

func (m *MockPublisher) Close() error { return nil }

// MockDebts is a mock implementation of DebtLookup.
type MockDebts struct {
	GetDebtFunc func(ctx context.Context, ownerID, id string) (*domain.Debt, error)
}

func (m *MockDebts) GetDebt(ctx context.Context, ownerID, id string) (*domain.Debt, error) {
	return m.GetDebtFunc(ctx, ownerID, id)
}
