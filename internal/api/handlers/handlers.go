package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/dvloznov/finance-ingest/internal/api/middleware"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/ingest"
	"github.com/dvloznov/finance-ingest/internal/jobs"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/gorilla/mux"
)

// dateLayout is the date format accepted in request bodies and query strings.
const dateLayout = "2006-01-02"

// Starter starts an ingestion run.
type Starter interface {
	Start(ctx context.Context, kind domain.PendingKind, ownerID string, opts ingest.StartOptions) (*ingest.StartResult, error)
}

// IngestHandler handles ingestion endpoints.
type IngestHandler struct {
	coordinator Starter
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(coordinator Starter) *IngestHandler {
	return &IngestHandler{coordinator: coordinator}
}

// Start handles POST /api/ingest/{kind}
func (h *IngestHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	kind, err := domain.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		DebtID string `json:"debt_id"`
	}
	if err := decodeOptional(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.DebtID == "" {
		req.DebtID = r.URL.Query().Get("debt_id")
	}

	res, err := h.coordinator.Start(ctx, kind, middleware.OwnerID(ctx), ingest.StartOptions{DebtID: req.DebtID})
	if err != nil {
		middleware.WriteDomainError(w, log, err, "Failed to start ingestion")
		return
	}

	status := http.StatusAccepted
	if res.Status == ingest.StatusNoFiles {
		status = http.StatusOK
	}
	middleware.WriteJSON(w, status, res)
}

// JobsHandler handles job and group endpoints.
type JobsHandler struct {
	store jobs.JobStore
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore) *JobsHandler {
	return &JobsHandler{store: store}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := mux.Vars(r)["id"]

	job, err := h.store.GetJob(ctx, jobID)
	if err == nil && job.OwnerID != middleware.OwnerID(ctx) {
		err = domain.ErrNotFound
	}
	if err != nil {
		log := logger.FromContext(ctx)
		log.Debug().Err(err).Str("job_id", jobID).Msg("Job lookup failed")
		middleware.WriteError(w, middleware.StatusFor(err), "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		OwnerID: middleware.OwnerID(ctx),
		GroupID: query.Get("group_id"),
		Kind:    domain.PendingKind(query.Get("kind")),
		Status:  jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// GetGroup handles GET /api/groups/{id}
func (h *JobsHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := mux.Vars(r)["id"]

	group, err := h.store.GetGroup(ctx, groupID)
	if err == nil && group.OwnerID != middleware.OwnerID(ctx) {
		err = domain.ErrNotFound
	}
	if err != nil {
		middleware.WriteError(w, middleware.StatusFor(err), "Group not found")
		return
	}

	progress, err := h.store.GroupProgress(ctx, groupID)
	if err != nil {
		middleware.WriteDomainError(w, logger.FromContext(ctx), err, "Failed to read group progress")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, progress)
}

// decodeOptional decodes a JSON body into v. An empty body leaves v unchanged.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
