package handlers

import (
	"context"
	"net/http"

	"github.com/dvloznov/finance-ingest/internal/api/middleware"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/review"
	"github.com/gorilla/mux"
)

// Reviewer lists and resolves pending extractions.
type Reviewer interface {
	ListPending(ctx context.Context, ownerID string, kind domain.PendingKind) ([]domain.PendingExtraction, error)
	Approve(ctx context.Context, ownerID, id string, in review.ApproveTicketInput) (*review.Approval, error)
	Reject(ctx context.Context, ownerID, id string) error
}

// PendingHandler handles the review queue.
type PendingHandler struct {
	reviewer Reviewer
}

// NewPendingHandler creates a new pending handler.
func NewPendingHandler(reviewer Reviewer) *PendingHandler {
	return &PendingHandler{reviewer: reviewer}
}

// ListPending handles GET /api/pending
func (h *PendingHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var kind domain.PendingKind
	if k := r.URL.Query().Get("kind"); k != "" {
		parsed, err := domain.ParseKind(k)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		kind = parsed
	}

	list, err := h.reviewer.ListPending(ctx, middleware.OwnerID(ctx), kind)
	if err != nil {
		middleware.WriteDomainError(w, logger.FromContext(ctx), err, "Failed to list pending records")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"pending": list,
		"count":   len(list),
	})
}

// Approve handles POST /api/pending/{id}/approve. The body is only read for
// tickets.
func (h *PendingHandler) Approve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	var in review.ApproveTicketInput
	if err := decodeOptional(r, &in); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	approval, err := h.reviewer.Approve(ctx, middleware.OwnerID(ctx), id, in)
	if err != nil {
		middleware.WriteDomainError(w, logger.FromContext(ctx).With().Str("pending_id", id).Logger(), err, "Failed to approve")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, approval)
}

// Reject handles POST /api/pending/{id}/reject
func (h *PendingHandler) Reject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if err := h.reviewer.Reject(ctx, middleware.OwnerID(ctx), id); err != nil {
		middleware.WriteDomainError(w, logger.FromContext(ctx).With().Str("pending_id", id).Logger(), err, "Failed to reject")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(domain.StatusRejected)})
}
