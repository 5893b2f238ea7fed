package interfaces

import (
	"context"

	"github.com/warewatch/camsync/internal/models"
)

// OAuthFlowService owns the authorization-code protocol and token custody.
// The HTTP redirect/callback surface lives in the web layer, which passes
// code/state through verbatim and never sees raw tokens.
type OAuthFlowService interface {
	// BeginFlow creates a single-use session and returns the provider
	// authorization URL embedding the anti-CSRF state.
	BeginFlow(ctx context.Context, provider models.ProviderKind) (*models.FlowStart, error)

	// CompleteFlow validates state, exchanges the code for tokens, fetches
	// the account identity, and persists the credential. The session is
	// destroyed whether completion succeeds or fails.
	CompleteFlow(ctx context.Context, sessionID, code, state string) (*models.AccountIdentity, error)

	AccessTokenProvider

	// Disconnect deletes the stored credential for the account.
	Disconnect(ctx context.Context, provider models.ProviderKind, accountKey string) error
}
