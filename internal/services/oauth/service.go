// Package oauth implements the authorization-code flow and token custody
// for the cloud providers. The web layer owns the HTTP redirect/callback
// surface; this service owns the protocol logic and never exposes raw
// tokens to it.
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/warewatch/camsync/internal/common"
	"github.com/warewatch/camsync/internal/interfaces"
	"github.com/warewatch/camsync/internal/models"
)

// refreshMargin is the safety window before expiry inside which a token is
// treated as already expired.
const refreshMargin = 60 * time.Second

// ProviderConfig binds one OAuth provider's endpoints and client settings.
type ProviderConfig struct {
	OAuth2 oauth2.Config
	// IdentityURL returns the authenticated account's identity.
	IdentityURL string
	// IdentityMethod is GET or POST (Dropbox requires POST).
	IdentityMethod string
	// ExtraAuthParams are appended to the authorization URL
	// (e.g. Dropbox's token_access_type=offline).
	ExtraAuthParams map[string]string
}

// DropboxProviderConfig returns the standard Dropbox endpoints.
func DropboxProviderConfig(cfg common.DropboxConfig) *ProviderConfig {
	return &ProviderConfig{
		OAuth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://www.dropbox.com/oauth2/authorize",
				TokenURL: "https://api.dropboxapi.com/oauth2/token",
			},
			Scopes: []string{"files.metadata.read", "files.content.read", "account_info.read"},
		},
		IdentityURL:    "https://api.dropboxapi.com/2/users/get_current_account",
		IdentityMethod: http.MethodPost,
		ExtraAuthParams: map[string]string{
			"token_access_type": "offline",
		},
	}
}

// ImouProviderConfig returns the standard Imou Life open-platform endpoints.
func ImouProviderConfig(cfg common.ImouConfig) *ProviderConfig {
	return &ProviderConfig{
		OAuth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://open.imoulife.com/oauth/authorize",
				TokenURL: "https://open.imoulife.com/oauth/token",
			},
			Scopes: []string{"device:read", "record:read"},
		},
		IdentityURL:    "https://open.imoulife.com/openapi/user/info",
		IdentityMethod: http.MethodGet,
	}
}

// Service implements interfaces.OAuthFlowService
type Service struct {
	vault      interfaces.CredentialVault
	sessions   *SessionStore
	providers  map[models.ProviderKind]*ProviderConfig
	httpClient *http.Client
	refreshes  singleflight.Group
	logger     arbor.ILogger
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithHTTPClient sets the HTTP client used for token and identity calls.
// Tests point this at httptest servers.
func WithHTTPClient(client *http.Client) ServiceOption {
	return func(s *Service) {
		s.httpClient = client
	}
}

// WithProvider registers or replaces a provider configuration.
func WithProvider(kind models.ProviderKind, cfg *ProviderConfig) ServiceOption {
	return func(s *Service) {
		s.providers[kind] = cfg
	}
}

// NewService creates the OAuth flow engine.
func NewService(vault interfaces.CredentialVault, sessions *SessionStore, logger arbor.ILogger, opts ...ServiceOption) *Service {
	s := &Service{
		vault:      vault,
		sessions:   sessions,
		providers:  make(map[models.ProviderKind]*ProviderConfig),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// BeginFlow creates a single-use session and returns the authorization URL
// embedding a fresh anti-CSRF state token.
func (s *Service) BeginFlow(ctx context.Context, provider models.ProviderKind) (*models.FlowStart, error) {
	cfg, ok := s.providers[provider]
	if !ok {
		return nil, fmt.Errorf("no oauth configuration for provider %s", provider)
	}

	state, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state token: %w", err)
	}

	session := &models.OAuthSession{
		ID:        common.NewSessionID(),
		Provider:  provider,
		State:     state,
		FlowState: models.FlowStateAwaitingCallback,
	}
	s.sessions.Put(session)

	var authOpts []oauth2.AuthCodeOption
	for k, v := range cfg.ExtraAuthParams {
		authOpts = append(authOpts, oauth2.SetAuthURLParam(k, v))
	}

	s.logger.Info().
		Str("provider", string(provider)).
		Str("session", session.ID).
		Msg("OAuth flow started")

	return &models.FlowStart{
		SessionID:        session.ID,
		AuthorizationURL: cfg.OAuth2.AuthCodeURL(state, authOpts...),
	}, nil
}

// CompleteFlow validates the callback, exchanges the code for tokens,
// fetches the account identity, and stores the credential. The session is
// consumed on entry: a second attempt with the same id fails regardless of
// the first outcome.
func (s *Service) CompleteFlow(ctx context.Context, sessionID, code, state string) (*models.AccountIdentity, error) {
	session, ok := s.sessions.Consume(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, interfaces.ErrSessionExpired)
	}

	if subtle.ConstantTimeCompare([]byte(session.State), []byte(state)) != 1 {
		session.FlowState = models.FlowStateFailed
		s.logger.Warn().
			Str("provider", string(session.Provider)).
			Str("session", sessionID).
			Msg("OAuth callback state mismatch")
		return nil, fmt.Errorf("session %s: %w", sessionID, interfaces.ErrStateMismatch)
	}

	cfg := s.providers[session.Provider]
	session.FlowState = models.FlowStateExchanging

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	token, err := cfg.OAuth2.Exchange(ctx, code)
	if err != nil {
		session.FlowState = models.FlowStateFailed
		return nil, fmt.Errorf("%s token exchange failed: %w", session.Provider, err)
	}

	identity, err := s.fetchIdentity(ctx, cfg, session.Provider, token.AccessToken)
	if err != nil {
		session.FlowState = models.FlowStateFailed
		return nil, err
	}

	secret := &models.Secret{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		AccountID:    identity.AccountID,
		Email:        identity.Email,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		secret.Expiry = &expiry
	}

	if err := s.vault.Store(ctx, session.Provider, identity.AccountID, secret); err != nil {
		session.FlowState = models.FlowStateFailed
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}

	session.FlowState = models.FlowStateAuthenticated
	s.logger.Info().
		Str("provider", string(session.Provider)).
		Str("account", identity.AccountID).
		Msg("OAuth flow completed")

	return identity, nil
}

// GetValidAccessToken returns a token whose expiry is in the future,
// refreshing first when the stored one has expired or is inside the safety
// margin. Concurrent callers for the same account share one refresh.
func (s *Service) GetValidAccessToken(ctx context.Context, provider models.ProviderKind, accountKey string) (string, error) {
	secret, err := s.vault.Load(ctx, provider, accountKey)
	if err != nil {
		return "", err
	}

	if secret.Expiry == nil || time.Until(*secret.Expiry) > refreshMargin {
		return secret.AccessToken, nil
	}

	return s.refresh(ctx, provider, accountKey)
}

// ForceRefresh discards the cached access token and performs one refresh
// exchange, still single-flight per account.
func (s *Service) ForceRefresh(ctx context.Context, provider models.ProviderKind, accountKey string) (string, error) {
	return s.refresh(ctx, provider, accountKey)
}

// Disconnect deletes the stored credential for the account.
func (s *Service) Disconnect(ctx context.Context, provider models.ProviderKind, accountKey string) error {
	s.logger.Info().
		Str("provider", string(provider)).
		Str("account", accountKey).
		Msg("Disconnecting account")
	return s.vault.Delete(ctx, provider, accountKey)
}

// refresh performs the refresh-token exchange, single-flight per
// (provider, accountKey). Some providers invalidate a refresh token after
// first use, so duplicate concurrent exchanges are not just wasteful but
// destructive.
func (s *Service) refresh(ctx context.Context, provider models.ProviderKind, accountKey string) (string, error) {
	key := models.CredentialKey(provider, accountKey)

	result, err, _ := s.refreshes.Do(key, func() (interface{}, error) {
		// Re-load inside the flight: a caller that lost the race sees the
		// token its winner stored.
		secret, err := s.vault.Load(ctx, provider, accountKey)
		if err != nil {
			return nil, err
		}
		if secret.Expiry != nil && time.Until(*secret.Expiry) > refreshMargin {
			return secret.AccessToken, nil
		}

		if secret.RefreshToken == "" {
			return nil, fmt.Errorf("%s/%s has no refresh token: %w", provider, accountKey, interfaces.ErrReauthRequired)
		}

		cfg, ok := s.providers[provider]
		if !ok {
			return nil, fmt.Errorf("no oauth configuration for provider %s", provider)
		}

		tctx := context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
		token, err := cfg.OAuth2.TokenSource(tctx, &oauth2.Token{RefreshToken: secret.RefreshToken}).Token()
		if err != nil {
			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
				(retrieveErr.Response.StatusCode == http.StatusBadRequest || retrieveErr.Response.StatusCode == http.StatusUnauthorized) {
				// Revoked or rotated away; user action needed
				return nil, fmt.Errorf("%s/%s refresh rejected: %w", provider, accountKey, interfaces.ErrReauthRequired)
			}
			return nil, fmt.Errorf("%s/%s refresh failed: %w", provider, accountKey, err)
		}

		secret.AccessToken = token.AccessToken
		if token.RefreshToken != "" {
			secret.RefreshToken = token.RefreshToken
		}
		if !token.Expiry.IsZero() {
			expiry := token.Expiry
			secret.Expiry = &expiry
		}

		if err := s.vault.Store(ctx, provider, accountKey, secret); err != nil {
			return nil, fmt.Errorf("failed to store refreshed credential: %w", err)
		}

		s.logger.Debug().
			Str("provider", string(provider)).
			Str("account", accountKey).
			Msg("Access token refreshed")

		return token.AccessToken, nil
	})
	if err != nil {
		return "", err
	}

	return result.(string), nil
}

// fetchIdentity retrieves the basic account identity from the provider.
func (s *Service) fetchIdentity(ctx context.Context, cfg *ProviderConfig, provider models.ProviderKind, accessToken string) (*models.AccountIdentity, error) {
	method := cfg.IdentityMethod
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.IdentityURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s identity request failed: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%s identity request returned status %d: %s", provider, resp.StatusCode, string(body))
	}

	var payload struct {
		AccountID string `json:"account_id"`
		UserID    string `json:"user_id"`
		OpenID    string `json:"openid"`
		Email     string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s identity response: %w", provider, err)
	}

	accountID := payload.AccountID
	if accountID == "" {
		accountID = payload.UserID
	}
	if accountID == "" {
		accountID = payload.OpenID
	}
	if accountID == "" {
		return nil, fmt.Errorf("%s identity response carried no account id", provider)
	}

	return &models.AccountIdentity{
		Provider:  provider,
		AccountID: accountID,
		Email:     payload.Email,
	}, nil
}

// randomToken returns a 32-byte cryptographically random URL-safe token.
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Ensure interface compliance
var _ interfaces.OAuthFlowService = (*Service)(nil)
