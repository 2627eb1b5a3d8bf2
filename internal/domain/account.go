package domain

import "time"

// User is a local account.
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	GoogleSubject string `json:"google_subject,omitempty"`
	Active        bool   `json:"active"`
}

// Session is a login session belonging to a user.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Subscription mirrors the payment provider's view of the owner's plan.
type Subscription struct {
	OwnerID    string    `json:"owner_id"`
	ProviderID string    `json:"provider_id"`
	PlanID     string    `json:"plan_id,omitempty"`
	Status     string    `json:"status"`
	PayerEmail string    `json:"payer_email,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Active reports whether the provider considers the subscription paid up.
func (s *Subscription) Active() bool {
	return s.Status == "authorized"
}

// GoogleCredentials are the owner's stored OAuth tokens for Drive access.
type GoogleCredentials struct {
	OwnerID      string    `json:"owner_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	Expiry       time.Time `json:"expiry"`
	Scopes       []string  `json:"scopes"`
}
