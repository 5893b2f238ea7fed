package models

import "time"

// FlowState tracks an OAuth session through its lifecycle.
type FlowState string

const (
	FlowStateAwaitingCallback FlowState = "awaiting_callback"
	FlowStateExchanging       FlowState = "exchanging"
	FlowStateAuthenticated    FlowState = "authenticated"
	FlowStateFailed           FlowState = "failed"
)

// OAuthSession is the ephemeral per-flow state held between BeginFlow and
// CompleteFlow. Single use: consumed on the first completion attempt,
// successful or not.
type OAuthSession struct {
	ID        string       `json:"id"`
	Provider  ProviderKind `json:"provider"`
	State     string       `json:"state"` // anti-CSRF token
	FlowState FlowState    `json:"flow_state"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Expired reports whether the session TTL has passed at the given instant.
func (s *OAuthSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// FlowStart is returned by BeginFlow for the web layer to redirect the user.
type FlowStart struct {
	SessionID        string `json:"session_id"`
	AuthorizationURL string `json:"authorization_url"`
}

// AccountIdentity is the basic identity retrieved from the provider after
// a successful token exchange.
type AccountIdentity struct {
	Provider  ProviderKind `json:"provider"`
	AccountID string       `json:"account_id"`
	Email     string       `json:"email,omitempty"`
}
