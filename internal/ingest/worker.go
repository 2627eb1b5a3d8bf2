package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-ingest/internal/billing"
	"github.com/dvloznov/finance-ingest/internal/cloudfiles"
	"github.com/dvloznov/finance-ingest/internal/config"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/extraction"
	"github.com/dvloznov/finance-ingest/internal/imaging"
	infra "github.com/dvloznov/finance-ingest/internal/infra/bigquery"
	"github.com/dvloznov/finance-ingest/internal/jobs"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/market"
	"github.com/google/uuid"
)

// Extractor labels recorded on extraction runs.
const (
	extractorVision = "GEMINI_VISION"
	extractorOCR    = "MISTRAL_OCR+GEMINI"
)

// PendingWriter stores extraction results for review.
type PendingWriter interface {
	CreatePending(ctx context.Context, p *domain.PendingExtraction) error
}

// WorkerConfig tunes per-file processing.
type WorkerConfig struct {
	ImageMaxWidth int
	JPEGQuality   int
	MoveProcessed bool
	Folders       config.FoldersConfig
}

// Deps are the collaborators a Worker needs. Sink may be nil.
type Deps struct {
	Files     cloudfiles.Factory
	Extractor extraction.Extractor
	OCR       extraction.OCR
	Stores    billing.StoreRepository
	Pending   PendingWriter
	Prices    market.PriceSource
	Rates     market.RateSource
	Sink      infra.Sink
}

// Worker processes one file per job.
type Worker struct {
	deps    Deps
	matcher *billing.Matcher
	cfg     WorkerConfig
	now     func() time.Time
}

// NewWorker creates a worker.
func NewWorker(deps Deps, cfg WorkerConfig) *Worker {
	if deps.Sink == nil {
		deps.Sink = infra.NoopSink{}
	}
	return &Worker{
		deps:    deps,
		matcher: billing.NewMatcher(deps.Stores),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Handle implements jobs.JobHandler. The returned error carries the domain
// error class that decides the job's outcome.
func (w *Worker) Handle(ctx context.Context, job *jobs.Job) error {
	p, err := w.pipelineFor(job.Kind)
	if err != nil {
		return err
	}

	state := &PipelineState{Job: job}
	if err := p.Execute(ctx, state); err != nil {
		if state.RunID != "" {
			w.deps.Sink.MarkExtractionRunFailed(ctx, state.RunID, err)
		}
		return err
	}
	return nil
}

// pipelineFor assembles the steps of a kind.
func (w *Worker) pipelineFor(kind domain.PendingKind) (*Pipeline, error) {
	var extract []PipelineStep
	extractor := extractorVision

	switch kind {
	case domain.KindTicket:
		extract = []PipelineStep{w.extractFileStep(extraction.PromptTickets), step("transform_ticket", w.transformTicket)}
	case domain.KindInvestment:
		extract = []PipelineStep{w.extractFileStep(extraction.PromptInvestment), step("transform_investment", w.transformInvestment)}
	case domain.KindAmortization:
		extract = []PipelineStep{w.extractFileStep(extraction.PromptDebts), step("transform_amortization", w.transformAmortization)}
	case domain.KindInvoice:
		extractor = extractorOCR
		extract = []PipelineStep{
			step("ocr", w.ocr),
			step("extract_invoice", w.extractInvoice),
			step("transform_invoice", w.transformInvoice),
		}
	default:
		return nil, fmt.Errorf("Handle: %w: unknown kind %q", domain.ErrSemantic, kind)
	}

	steps := []PipelineStep{
		step("open_source", w.openSource),
		step("start_run", w.startRun(extractor)),
		step("download", w.download),
		step("optimize", w.optimize),
	}
	steps = append(steps, extract...)
	steps = append(steps,
		step("store_model_output", w.storeModelOutput),
		step("save_pending", w.savePending),
		step("move_processed", w.moveProcessed),
		step("mark_success", w.markSuccess),
	)
	return NewPipeline(steps...), nil
}

func (w *Worker) openSource(ctx context.Context, state *PipelineState) error {
	src, err := w.deps.Files.For(ctx, state.Job.OwnerID)
	if err != nil {
		return err
	}
	state.Source = src
	return nil
}

// startRun records the extraction run. Analytics failures never fail the job.
func (w *Worker) startRun(extractor string) func(ctx context.Context, state *PipelineState) error {
	return func(ctx context.Context, state *PipelineState) error {
		job := state.Job
		runID, err := w.deps.Sink.StartExtractionRun(ctx, &infra.ExtractionRunRow{
			JobID:     job.JobID,
			GroupID:   job.GroupID,
			OwnerID:   job.OwnerID,
			Kind:      string(job.Kind),
			FileID:    job.FileID,
			FileName:  job.FileName,
			Extractor: extractor,
		})
		if err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Msg("Failed to record extraction run")
			return nil
		}
		state.RunID = runID
		return nil
	}
}

func (w *Worker) download(ctx context.Context, state *PipelineState) error {
	data, err := state.Source.Download(ctx, state.Job.FileID)
	if err != nil {
		return err
	}
	state.Data = data
	state.MIMEType = state.Job.MIMEType
	return nil
}

func (w *Worker) optimize(ctx context.Context, state *PipelineState) error {
	before := len(state.Data)
	state.Data, state.MIMEType = imaging.Prepare(state.Data, state.MIMEType, w.cfg.ImageMaxWidth, w.cfg.JPEGQuality)
	if len(state.Data) != before {
		log := logger.FromContext(ctx)
		log.Debug().Int("bytes_before", before).Int("bytes_after", len(state.Data)).Msg("Optimized image")
	}
	return nil
}

func (w *Worker) extractFileStep(prompt extraction.PromptName) PipelineStep {
	return step("extract_"+string(prompt), func(ctx context.Context, state *PipelineState) error {
		state.Prompt = prompt
		res, err := w.deps.Extractor.ExtractFromFile(ctx, prompt, state.Data, state.MIMEType, "")
		if err != nil {
			return err
		}
		state.Result = res
		return rejectErrorPayload(res.Data)
	})
}

// rejectErrorPayload fails when the model answered with an error object.
func rejectErrorPayload(data map[string]any) error {
	if msg, ok := extraction.ErrorField(data); ok {
		return fmt.Errorf("%w: model reported: %s", domain.ErrSemantic, msg)
	}
	return nil
}

func (w *Worker) storeModelOutput(ctx context.Context, state *PipelineState) error {
	if state.RunID == "" || state.Result == nil {
		return nil
	}
	row := &infra.ModelOutputRow{
		OutputID:  uuid.NewString(),
		RunID:     state.RunID,
		FileID:    state.Job.FileID,
		ModelName: state.Result.Model,
		Prompt:    string(state.Prompt),
		RawJSON:   bigquery.NullJSON{JSONVal: state.Result.Raw, Valid: state.Result.Raw != ""},
		CreatedTS: bigquery.NullTimestamp{Timestamp: w.now(), Valid: true},
	}
	if state.OCRText != "" {
		row.ExtractedText = bigquery.NullString{StringVal: state.OCRText, Valid: true}
	}
	if err := w.deps.Sink.InsertModelOutput(ctx, row); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Failed to record model output")
	}
	return nil
}

func (w *Worker) savePending(ctx context.Context, state *PipelineState) error {
	payload, err := json.Marshal(state.Payload)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", domain.ErrSemantic, err)
	}
	job := state.Job
	p := &domain.PendingExtraction{
		ID:             uuid.NewString(),
		OwnerID:        job.OwnerID,
		Kind:           job.Kind,
		Payload:        payload,
		Status:         domain.StatusPending,
		SourceFileID:   job.FileID,
		SourceFileName: job.FileName,
		DebtID:         job.DebtID,
		CreatedAt:      w.now(),
	}
	if err := w.deps.Pending.CreatePending(ctx, p); err != nil {
		return fmt.Errorf("saving pending record: %w", err)
	}
	state.Pending = p
	log := logger.FromContext(ctx)
	log.Info().Str("pending_id", p.ID).Msg("Pending record created")
	return nil
}

// moveProcessed files the document away once its record is saved. A failed
// move is logged; the record already exists.
func (w *Worker) moveProcessed(ctx context.Context, state *PipelineState) error {
	if !w.cfg.MoveProcessed {
		return nil
	}
	folder, err := FolderFor(w.cfg.Folders, state.Job.Kind)
	if err != nil {
		return nil
	}
	if err := state.Source.MoveToProcessed(ctx, state.Job.FileID, folder); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Failed to move processed file")
	}
	return nil
}

func (w *Worker) markSuccess(ctx context.Context, state *PipelineState) error {
	if state.RunID == "" {
		return nil
	}
	if err := w.deps.Sink.MarkExtractionRunSucceeded(ctx, state.RunID); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Failed to mark extraction run succeeded")
	}
	return nil
}
