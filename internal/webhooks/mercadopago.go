// Package webhooks receives notifications from the payment provider and from
// Google's cross-account protection service.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dvloznov/finance-ingest/internal/api/middleware"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/rs/zerolog"
)

// Notification types that describe a subscription.
const (
	TypePreapproval             = "preapproval"
	TypeSubscriptionPreapproval = "subscription_preapproval"
)

// maxBody caps webhook request bodies.
const maxBody = 64 << 10

// Preapproval is the part of a Mercado Pago subscription this service reads.
type Preapproval struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference"`
	PayerEmail        string `json:"payer_email"`
	PlanID            string `json:"preapproval_plan_id"`
}

// PreapprovalFetcher loads a subscription by id.
type PreapprovalFetcher interface {
	Preapproval(ctx context.Context, id string) (*Preapproval, error)
}

// MercadoPagoClient reads subscriptions from the Mercado Pago REST API.
type MercadoPagoClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewMercadoPagoClient creates a client authenticated with an access token.
func NewMercadoPagoClient(baseURL, token string) *MercadoPagoClient {
	return &MercadoPagoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Preapproval implements PreapprovalFetcher.
func (c *MercadoPagoClient) Preapproval(ctx context.Context, id string) (*Preapproval, error) {
	if c.token == "" {
		return nil, fmt.Errorf("Preapproval: %w: access token not configured", domain.ErrConnection)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/preapproval/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("Preapproval: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Preapproval: %w: %w", domain.ErrConnection, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("Preapproval %s: %w", id, domain.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("Preapproval: %w", domain.ErrThrottled)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("Preapproval: %w: status %d", domain.ErrConnection, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("Preapproval: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var p Preapproval
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("Preapproval: decoding response: %w", err)
	}
	return &p, nil
}

// SubscriptionStore persists subscriptions.
type SubscriptionStore interface {
	UpsertSubscription(ctx context.Context, s *domain.Subscription) error
}

// MercadoPagoHandler handles POST /webhooks/mercadopago. Mercado Pago only
// sends the resource id, so the subscription is always re-read from the API.
type MercadoPagoHandler struct {
	client PreapprovalFetcher
	store  SubscriptionStore
	planID string
	log    zerolog.Logger
	now    func() time.Time
}

// NewMercadoPagoHandler creates the handler. A non-empty planID ignores
// subscriptions to other plans.
func NewMercadoPagoHandler(client PreapprovalFetcher, store SubscriptionStore, planID string, log zerolog.Logger) *MercadoPagoHandler {
	return &MercadoPagoHandler{client: client, store: store, planID: planID, log: log, now: time.Now}
}

type notification struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

// parseNotification reads the JSON body, falling back to the query string
// form Mercado Pago also uses.
func parseNotification(r *http.Request) (notification, error) {
	var n notification
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return n, err
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &n); err != nil {
			return n, err
		}
	}

	q := r.URL.Query()
	if n.Type == "" {
		n.Type = q.Get("type")
	}
	if n.Type == "" {
		n.Type = q.Get("topic")
	}
	if n.Data.ID == "" {
		n.Data.ID = q.Get("data.id")
	}
	if n.Data.ID == "" {
		n.Data.ID = q.Get("id")
	}
	return n, nil
}

func (h *MercadoPagoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n, err := parseNotification(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid notification")
		return
	}
	log := h.log.With().Str("type", n.Type).Str("resource_id", n.Data.ID).Logger()

	if n.Type != TypePreapproval && n.Type != TypeSubscriptionPreapproval {
		log.Debug().Msg("Ignoring notification")
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if n.Data.ID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Missing resource id")
		return
	}

	sub, err := h.sync(r.Context(), n.Data.ID)
	switch {
	case errors.Is(err, errIgnored):
		log.Info().Err(err).Msg("Subscription not applied")
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case err != nil:
		log.Error().Err(err).Msg("Failed to sync subscription")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to sync subscription")
		return
	}

	log.Info().Str("owner_id", sub.OwnerID).Str("status", sub.Status).Msg("Subscription updated")
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var errIgnored = errors.New("notification ignored")

func (h *MercadoPagoHandler) sync(ctx context.Context, id string) (*domain.Subscription, error) {
	p, err := h.client.Preapproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if h.planID != "" && p.PlanID != "" && p.PlanID != h.planID {
		return nil, fmt.Errorf("%w: plan %s", errIgnored, p.PlanID)
	}
	owner := strings.TrimSpace(p.ExternalReference)
	if owner == "" {
		return nil, fmt.Errorf("%w: no external_reference", errIgnored)
	}

	sub := &domain.Subscription{
		OwnerID:    owner,
		ProviderID: p.ID,
		PlanID:     p.PlanID,
		Status:     p.Status,
		PayerEmail: p.PayerEmail,
		UpdatedAt:  h.now(),
	}
	if sub.ProviderID == "" {
		sub.ProviderID = id
	}
	if err := h.store.UpsertSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}
