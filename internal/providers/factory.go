// Package providers constructs the concrete adapter for a configured
// video source.
package providers

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/warewatch/camsync/internal/common"
	"github.com/warewatch/camsync/internal/digest"
	"github.com/warewatch/camsync/internal/interfaces"
	"github.com/warewatch/camsync/internal/models"
	"github.com/warewatch/camsync/internal/providers/dropbox"
	"github.com/warewatch/camsync/internal/providers/hikvision"
	"github.com/warewatch/camsync/internal/providers/imou"
)

// Factory builds provider adapters from source configuration. OAuth
// providers share the token provider; Hikvision devices get their
// connection details and credentials from the vault.
type Factory struct {
	config *common.Config
	vault  interfaces.CredentialVault
	tokens interfaces.AccessTokenProvider
	logger arbor.ILogger
}

// NewFactory creates an adapter factory.
func NewFactory(config *common.Config, vault interfaces.CredentialVault, tokens interfaces.AccessTokenProvider, logger arbor.ILogger) *Factory {
	return &Factory{
		config: config,
		vault:  vault,
		tokens: tokens,
		logger: logger,
	}
}

// ForSource returns an adapter ready to serve the given source.
func (f *Factory) ForSource(ctx context.Context, source *models.SourceConfig) (interfaces.ProviderAdapter, error) {
	switch source.Provider {
	case models.ProviderDropbox:
		cfg := f.config.Providers.Dropbox
		return dropbox.NewAdapter(f.tokens, source.AccountKey,
			dropbox.WithLogger(f.logger),
			dropbox.WithRateLimit(cfg.RateLimit),
			dropbox.WithRefreshOnPermissionDenied(cfg.RefreshOnPermissionDenied),
		), nil

	case models.ProviderImou:
		cfg := f.config.Providers.Imou
		return imou.NewAdapter(f.tokens, source.AccountKey,
			imou.WithLogger(f.logger),
			imou.WithRateLimit(cfg.RateLimit),
			imou.WithRefreshOnPermissionDenied(cfg.RefreshOnPermissionDenied),
		), nil

	case models.ProviderHikvision:
		return f.hikvisionAdapter(ctx, source)

	default:
		return nil, fmt.Errorf("unknown provider %q for source %s", source.Provider, source.ID)
	}
}

func (f *Factory) hikvisionAdapter(ctx context.Context, source *models.SourceConfig) (interfaces.ProviderAdapter, error) {
	record, err := f.vault.LoadRecord(ctx, models.ProviderHikvision, source.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load device record for source %s: %w", source.ID, err)
	}
	if record.Host == "" {
		return nil, fmt.Errorf("device record for source %s has no host", source.ID)
	}

	secret, err := f.vault.Load(ctx, models.ProviderHikvision, source.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load device credentials for source %s: %w", source.ID, err)
	}

	port := record.Port
	if port == 0 {
		port = 80
	}

	session := digest.NewSession(
		fmt.Sprintf("http://%s:%d", record.Host, port),
		secret.Username,
		secret.Password,
		digest.WithLogger(f.logger),
	)

	return hikvision.NewAdapter(session, source.AccountKey,
		hikvision.WithLogger(f.logger),
		hikvision.WithRateLimit(f.config.Providers.Hikvision.RateLimit),
	), nil
}
