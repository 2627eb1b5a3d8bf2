package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/finance-ingest/internal/api/middleware"
	"github.com/dvloznov/finance-ingest/internal/domain"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// RISC event types.
const (
	EventAccountDisabled = "https://schemas.openid.net/secevent/risc/event-type/account-disabled"
	EventSessionsRevoked = "https://schemas.openid.net/secevent/risc/event-type/sessions-revoked"
	EventVerification    = "https://schemas.openid.net/secevent/risc/event-type/verification"
)

const (
	DefaultKeyTTL         = time.Hour
	DefaultClockTolerance = 5 * time.Minute
)

// ErrInvalidToken is returned for security event tokens that fail verification.
var ErrInvalidToken = errors.New("invalid security event token")

// KeySource returns the key set that signs security event tokens.
type KeySource interface {
	// Keys returns the current key set. refresh bypasses any cache.
	Keys(ctx context.Context, refresh bool) (*jose.JSONWebKeySet, error)
}

// RemoteKeys discovers the JWKS through the RISC configuration document and
// caches it.
type RemoteKeys struct {
	configURL string
	http      *http.Client
	cache     *expirable.LRU[string, *jose.JSONWebKeySet]
	group     singleflight.Group
}

// NewRemoteKeys creates a key source for the configuration at configURL.
func NewRemoteKeys(configURL string, ttl time.Duration) *RemoteKeys {
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	return &RemoteKeys{
		configURL: configURL,
		http:      &http.Client{Timeout: 10 * time.Second},
		cache:     expirable.NewLRU[string, *jose.JSONWebKeySet](1, nil, ttl),
	}
}

// Keys implements KeySource.
func (k *RemoteKeys) Keys(ctx context.Context, refresh bool) (*jose.JSONWebKeySet, error) {
	if !refresh {
		if set, ok := k.cache.Get(k.configURL); ok {
			return set, nil
		}
	}
	v, err, _ := k.group.Do(k.configURL, func() (any, error) {
		set, err := k.fetch(ctx)
		if err != nil {
			return nil, err
		}
		k.cache.Add(k.configURL, set)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*jose.JSONWebKeySet), nil
}

func (k *RemoteKeys) fetch(ctx context.Context) (*jose.JSONWebKeySet, error) {
	var cfg struct {
		Issuer  string `json:"issuer"`
		JWKSURI string `json:"jwks_uri"`
	}
	if err := k.getJSON(ctx, k.configURL, &cfg); err != nil {
		return nil, fmt.Errorf("loading RISC configuration: %w", err)
	}
	if cfg.JWKSURI == "" {
		return nil, fmt.Errorf("RISC configuration has no jwks_uri")
	}
	var set jose.JSONWebKeySet
	if err := k.getJSON(ctx, cfg.JWKSURI, &set); err != nil {
		return nil, fmt.Errorf("loading JWKS: %w", err)
	}
	return &set, nil
}

func (k *RemoteKeys) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := k.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", endpoint, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SecurityEvent is one event carried by a security event token.
type SecurityEvent struct {
	TokenID string
	Type    string
	Subject string
	Email   string
	Reason  string
	State   string
}

type eventBody struct {
	Subject struct {
		SubjectType string `json:"subject_type"`
		Sub         string `json:"sub"`
		Email       string `json:"email"`
	} `json:"subject"`
	Reason string `json:"reason"`
	State  string `json:"state"`
}

// Verifier checks security event tokens.
type Verifier struct {
	keys      KeySource
	issuer    string
	audience  string
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a verifier for tokens issued by issuer to audience.
func NewVerifier(keys KeySource, issuer, audience string) *Verifier {
	return &Verifier{keys: keys, issuer: issuer, audience: audience, tolerance: DefaultClockTolerance, now: time.Now}
}

// Verify checks the RS256 signature, issuer and audience of raw and returns its
// events. An unknown key id forces one key refresh before failing.
func (v *Verifier) Verify(ctx context.Context, raw string) ([]SecurityEvent, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if len(tok.Headers) == 0 {
		return nil, fmt.Errorf("%w: no header", ErrInvalidToken)
	}
	kid := tok.Headers[0].KeyID

	key, err := v.key(ctx, kid)
	if err != nil {
		return nil, err
	}

	var (
		claims jwt.Claims
		extra  struct {
			Events map[string]json.RawMessage `json:"events"`
		}
	)
	if err := tok.Claims(key.Key, &claims, &extra); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	expected := jwt.Expected{Issuer: v.issuer, AnyAudience: jwt.Audience{v.audience}, Time: v.now()}
	if err := claims.ValidateWithLeeway(expected, v.tolerance); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if len(extra.Events) == 0 {
		return nil, fmt.Errorf("%w: no events", ErrInvalidToken)
	}

	events := make([]SecurityEvent, 0, len(extra.Events))
	for typ, body := range extra.Events {
		var b eventBody
		if err := json.Unmarshal(body, &b); err != nil {
			return nil, fmt.Errorf("%w: event %s: %w", ErrInvalidToken, typ, err)
		}
		events = append(events, SecurityEvent{
			TokenID: claims.ID,
			Type:    typ,
			Subject: b.Subject.Sub,
			Email:   b.Subject.Email,
			Reason:  b.Reason,
			State:   b.State,
		})
	}
	return events, nil
}

func (v *Verifier) key(ctx context.Context, kid string) (*jose.JSONWebKey, error) {
	for _, refresh := range []bool{false, true} {
		set, err := v.keys.Keys(ctx, refresh)
		if err != nil {
			return nil, fmt.Errorf("loading signing keys: %w", err)
		}
		if found := set.Key(kid); len(found) > 0 {
			return &found[0], nil
		}
	}
	return nil, fmt.Errorf("%w: unknown key id %q", ErrInvalidToken, kid)
}

// AccountStore is what the RISC receiver changes when an account is compromised.
type AccountStore interface {
	UserBySubject(ctx context.Context, subject string) (*domain.User, error)
	UserByEmail(ctx context.Context, email string) (*domain.User, error)
	SetUserActive(ctx context.Context, id string, active bool) error
	DeleteSessions(ctx context.Context, userID string) (int, error)
}

// RISCHandler handles POST /webhooks/risc. The body is the raw token.
type RISCHandler struct {
	verifier *Verifier
	accounts AccountStore
	log      zerolog.Logger
}

// NewRISCHandler creates the handler.
func NewRISCHandler(verifier *Verifier, accounts AccountStore, log zerolog.Logger) *RISCHandler {
	return &RISCHandler{verifier: verifier, accounts: accounts, log: log}
}

func (h *RISCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil || len(strings.TrimSpace(string(body))) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Missing security event token")
		return
	}

	events, err := h.verifier.Verify(r.Context(), strings.TrimSpace(string(body)))
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			h.log.Warn().Err(err).Msg("Rejected security event token")
			middleware.WriteError(w, http.StatusBadRequest, "Invalid security event token")
			return
		}
		h.log.Error().Err(err).Msg("Failed to verify security event token")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Unable to verify token")
		return
	}

	for _, ev := range events {
		if err := h.apply(r.Context(), ev); err != nil {
			h.log.Error().Err(err).Str("event", ev.Type).Msg("Failed to apply security event")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to apply security event")
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

// apply deactivates the account and purges its sessions for disabling events.
// Unknown accounts are logged and acknowledged.
func (h *RISCHandler) apply(ctx context.Context, ev SecurityEvent) error {
	log := h.log.With().Str("event", ev.Type).Str("jti", ev.TokenID).Logger()

	switch ev.Type {
	case EventVerification:
		log.Info().Str("state", ev.State).Msg("RISC verification event received")
		return nil
	case EventAccountDisabled, EventSessionsRevoked:
	default:
		log.Info().Msg("Ignoring security event")
		return nil
	}

	user, err := h.findUser(ctx, ev)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Msg("Security event for unknown account")
		return nil
	}
	if err != nil {
		return err
	}

	if err := h.accounts.SetUserActive(ctx, user.ID, false); err != nil {
		return fmt.Errorf("deactivating user %s: %w", user.ID, err)
	}
	n, err := h.accounts.DeleteSessions(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("deleting sessions of %s: %w", user.ID, err)
	}
	log.Warn().Str("user_id", user.ID).Str("reason", ev.Reason).Int("sessions", n).Msg("Account locked by security event")
	return nil
}

func (h *RISCHandler) findUser(ctx context.Context, ev SecurityEvent) (*domain.User, error) {
	if ev.Subject != "" {
		user, err := h.accounts.UserBySubject(ctx, ev.Subject)
		if err == nil || !errors.Is(err, domain.ErrNotFound) {
			return user, err
		}
	}
	if ev.Email != "" {
		return h.accounts.UserByEmail(ctx, ev.Email)
	}
	return nil, domain.ErrNotFound
}
