package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/finance-ingest/internal/jobs"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/google/uuid"
)

// ErrQueueClosed is returned when publishing to a stopped queue.
var ErrQueueClosed = errors.New("queue is closed")

// Config tunes a Queue.
type Config struct {
	// BufferSize determines how many jobs can be queued before publishing blocks.
	BufferSize int
	// Workers is the number of concurrent handlers.
	Workers int
	// MaxRetries applies to jobs published without MaxAttempts.
	MaxRetries int
	// RetryDelay is the fixed wait before a transient failure is retried.
	RetryDelay time.Duration
}

// DefaultConfig matches the service defaults.
func DefaultConfig() Config {
	return Config{BufferSize: 100, Workers: 5, MaxRetries: 3, RetryDelay: 60 * time.Second}
}

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// This implementation is suitable for single-instance deployments and testing.
type Queue struct {
	cfg       Config
	jobChan   chan *jobs.Job
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool

	timersMu sync.Mutex
	timers   map[*time.Timer]*jobs.Job
}

// NewQueue creates a new in-memory job queue backed by store.
func NewQueue(cfg Config, store jobs.JobStore) *Queue {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	return &Queue{
		cfg:       cfg,
		jobChan:   make(chan *jobs.Job, cfg.BufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		timers:    make(map[*time.Timer]*jobs.Job),
	}
}

// PublishGroup records the group and all of its jobs before enqueueing any of
// them, so every job is visible to progress queries even if enqueueing is
// interrupted. Jobs that could not be enqueued are marked failed.
func (q *Queue) PublishGroup(ctx context.Context, group *jobs.Group, batch []*jobs.Job) error {
	if q.isClosed() {
		return ErrQueueClosed
	}

	if group.GroupID == "" {
		group.GroupID = uuid.New().String()
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now()
	}
	group.Total = len(batch)
	group.JobIDs = make([]string, 0, len(batch))

	for _, job := range batch {
		q.prepare(job, group)
		group.JobIDs = append(group.JobIDs, job.JobID)
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("PublishGroup: saving job %s: %w", job.JobID, err)
		}
	}
	if err := q.store.SaveGroup(ctx, group); err != nil {
		return fmt.Errorf("PublishGroup: saving group %s: %w", group.GroupID, err)
	}

	for i, job := range batch {
		if err := q.enqueue(ctx, job); err != nil {
			for _, rest := range batch[i:] {
				q.finish(ctx, rest, jobs.OutcomeFailure, err)
			}
			return fmt.Errorf("PublishGroup: enqueueing job %s: %w", job.JobID, err)
		}
	}
	return nil
}

func (q *Queue) prepare(job *jobs.Job, group *jobs.Group) {
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	job.GroupID = group.GroupID
	if job.OwnerID == "" {
		job.OwnerID = group.OwnerID
	}
	if job.Kind == "" {
		job.Kind = group.Kind
	}
	job.Status = jobs.JobStatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = group.CreatedAt
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.cfg.MaxRetries + 1
	}
}

func (q *Queue) enqueue(ctx context.Context, job *jobs.Job) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return ErrQueueClosed
	}
}

func (q *Queue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Start implements the Consumer interface.
// It starts the configured number of workers, each calling handler per job.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	if q.isClosed() {
		return ErrQueueClosed
	}

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

// worker processes jobs from the queue.
func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob runs one attempt and either finishes the job or schedules a retry.
func (q *Queue) processJob(ctx context.Context, job *jobs.Job, handler jobs.JobHandler) {
	log := logger.ForJob(logger.FromContext(ctx), job.JobID, job.GroupID, job.FileID, string(job.Kind))
	jobCtx := logger.WithContext(ctx, log)

	job.Status = jobs.JobStatusRunning
	job.Attempts++
	now := time.Now()
	job.StartedAt = &now
	_ = q.store.SaveJob(jobCtx, job)

	err := q.run(jobCtx, job, handler)
	outcome, retry := jobs.Classify(err)

	if err != nil && retry && job.Attempts < job.MaxAttempts {
		job.Status = jobs.JobStatusRetrying
		job.Error = err.Error()
		_ = q.store.SaveJob(jobCtx, job)

		log.Warn().Err(err).
			Int("attempt", job.Attempts).
			Dur("retry_in", q.cfg.RetryDelay).
			Msg("Job failed, retrying")
		q.scheduleRetry(ctx, job)
		return
	}

	if err != nil {
		log.Error().Err(err).Str("outcome", string(outcome)).Int("attempt", job.Attempts).Msg("Job failed")
	} else {
		log.Info().Int("attempt", job.Attempts).Msg("Job completed")
	}
	q.finish(jobCtx, job, outcome, err)
}

// run invokes handler, turning a panic into an ordinary transient error.
func (q *Queue) run(ctx context.Context, job *jobs.Job, handler jobs.JobHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (q *Queue) finish(ctx context.Context, job *jobs.Job, outcome jobs.Outcome, err error) {
	completedAt := time.Now()
	job.CompletedAt = &completedAt
	job.Outcome = outcome
	if err != nil {
		job.Status = jobs.JobStatusFailed
		job.Error = err.Error()
	} else {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	}
	_ = q.store.SaveJob(ctx, job)
}

// scheduleRetry re-enqueues job after the fixed retry delay. Stop cancels
// pending timers and fails their jobs.
func (q *Queue) scheduleRetry(ctx context.Context, job *jobs.Job) {
	q.timersMu.Lock()
	defer q.timersMu.Unlock()

	if q.isClosed() {
		q.finish(ctx, job, jobs.OutcomeFailure, ErrQueueClosed)
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(q.cfg.RetryDelay, func() {
		q.timersMu.Lock()
		delete(q.timers, timer)
		q.timersMu.Unlock()

		if err := q.enqueue(ctx, job); err != nil {
			q.finish(ctx, job, jobs.OutcomeFailure, fmt.Errorf("retry not enqueued: %w", err))
		}
	})
	q.timers[timer] = job
}

// Stop implements the Consumer interface.
// It cancels pending retries, stops the queue and waits for in-flight jobs.
// Jobs that will no longer run, queued or awaiting a retry, are marked failed
// so their groups still complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	saveCtx := context.WithoutCancel(ctx)

	q.timersMu.Lock()
	for timer, job := range q.timers {
		if timer.Stop() {
			q.finish(saveCtx, job, jobs.OutcomeFailure, ErrQueueClosed)
		}
	}
	q.timers = make(map[*time.Timer]*jobs.Job)
	q.timersMu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	q.drain(saveCtx)
	return err
}

// drain fails every job still buffered in the channel.
func (q *Queue) drain(ctx context.Context) {
	for {
		select {
		case job := <-q.jobChan:
			if job != nil {
				q.finish(ctx, job, jobs.OutcomeFailure, ErrQueueClosed)
			}
		default:
			return
		}
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
