package ingest

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-ingest/internal/cloudfiles"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/extraction"
	"github.com/dvloznov/finance-ingest/internal/jobs"
)

// PipelineStep represents a single step in the per-file pipeline.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Job    *jobs.Job
	Source cloudfiles.Source
	RunID  string

	Data     []byte
	MIMEType string

	Prompt  extraction.PromptName
	OCRText string
	Result  *extraction.Result

	// Payload is the normalised record stored for review.
	Payload map[string]any
	Pending *domain.PendingExtraction
}

// stepFunc adapts a named function to PipelineStep.
type stepFunc struct {
	name string
	fn   func(ctx context.Context, state *PipelineState) error
}

func (s stepFunc) Name() string { return s.name }

func (s stepFunc) Execute(ctx context.Context, state *PipelineState) error {
	return s.fn(ctx, state)
}

func step(name string, fn func(ctx context.Context, state *PipelineState) error) PipelineStep {
	return stepFunc{name: name, fn: fn}
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially, stopping at the first failure.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, s := range p.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, s.Name(), err)
		}
	}
	return nil
}

// Steps lists step names in order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}
