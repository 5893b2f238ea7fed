package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/warewatch/camsync/internal/common"
	"github.com/warewatch/camsync/internal/interfaces"
	"github.com/warewatch/camsync/internal/models"
	"github.com/warewatch/camsync/internal/providers"
	"github.com/warewatch/camsync/internal/services/download"
	"github.com/warewatch/camsync/internal/services/oauth"
	syncsvc "github.com/warewatch/camsync/internal/services/sync"
	"github.com/warewatch/camsync/internal/services/vault"
	"github.com/warewatch/camsync/internal/storage/badger"
)

var (
	configFile   = flag.String("config", "", "Configuration file path")
	configFileC  = flag.String("c", "", "Configuration file path (shorthand)")
	sourceID     = flag.String("source", "", "Sync a single source by id and exit")
	runOnce      = flag.Bool("once", false, "Sync all sources once and exit")
	connectKind  = flag.String("connect", "", "Run the OAuth flow for a provider (dropbox, imou) and exit")
	addDevice    = flag.String("add-device", "", "Store digest credentials for a device account key and exit")
	deviceHost   = flag.String("device-host", "", "Device host for -add-device")
	devicePort   = flag.Int("device-port", 80, "Device port for -add-device")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Camsync version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Startup order: config, logger, banner, then wiring.
	configPath := *configFile
	if configPath == "" {
		configPath = *configFileC
	}
	if configPath == "" {
		if _, err := os.Stat("camsync.toml"); err == nil {
			configPath = "camsync.toml"
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		common.GetLogger().Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	masterKey, err := common.MasterKey()
	if err != nil {
		logger.Fatal().Err(err).Msg("Vault master key unavailable")
		os.Exit(1)
	}

	storage, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open storage")
		os.Exit(1)
	}
	defer storage.Close()

	credVault, err := vault.NewService(storage.CredentialStorage(), masterKey, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize credential vault")
		os.Exit(1)
	}

	sessions := oauth.NewSessionStore(config.OAuth.SessionTTL, config.OAuth.SweepInterval)
	defer sessions.Stop()

	flows := oauth.NewService(credVault, sessions, logger,
		oauth.WithProvider(models.ProviderDropbox, oauth.DropboxProviderConfig(config.Providers.Dropbox)),
		oauth.WithProvider(models.ProviderImou, oauth.ImouProviderConfig(config.Providers.Imou)),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch {
	case *connectKind != "":
		if err := runConnect(ctx, flows, models.ProviderKind(*connectKind)); err != nil {
			logger.Fatal().Err(err).Msg("OAuth connect failed")
			os.Exit(1)
		}
		return
	case *addDevice != "":
		if err := runAddDevice(ctx, credVault, *addDevice, *deviceHost, *devicePort); err != nil {
			logger.Fatal().Err(err).Msg("Failed to store device credentials")
			os.Exit(1)
		}
		return
	}

	factory := providers.NewFactory(config, credVault, flows, logger)
	downloads := download.NewService(storage.LedgerStorage(), download.RetryPolicy{
		MaxAttempts: config.Downloads.MaxAttempts,
		BaseDelay:   config.Downloads.BaseDelay,
		MaxDelay:    config.Downloads.MaxDelay,
		Jitter:      0.2,
	}, logger)
	coordinator := syncsvc.NewService(factory, downloads, storage.CursorStorage(),
		config.Storage.VideoDir, config.Downloads.Concurrency, logger)

	switch {
	case *sourceID != "":
		err = syncOne(ctx, coordinator, config, *sourceID, logger)
	case *runOnce:
		err = syncAll(ctx, coordinator, config, logger)
	default:
		err = runScheduler(ctx, coordinator, config, logger)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("Sync failed")
		os.Exit(1)
	}
}

// runScheduler registers every source carrying a cron schedule and blocks
// until a shutdown signal arrives.
func runScheduler(ctx context.Context, coordinator interfaces.SyncService, config *common.Config, logger arbor.ILogger) error {
	scheduler := cron.New()

	// Overlapping runs of the same source are skipped, not queued.
	var mu sync.Mutex
	running := make(map[string]bool)

	registered := 0
	for _, entry := range config.Sources {
		if entry.Schedule == "" {
			continue
		}
		source := toSourceConfig(entry)
		_, err := scheduler.AddFunc(entry.Schedule, func() {
			mu.Lock()
			if running[source.ID] {
				mu.Unlock()
				logger.Warn().Str("source", source.ID).Msg("Previous sync still running, skipping")
				return
			}
			running[source.ID] = true
			mu.Unlock()

			defer func() {
				mu.Lock()
				running[source.ID] = false
				mu.Unlock()
			}()

			if _, err := coordinator.Run(ctx, source); err != nil {
				logger.Error().Str("source", source.ID).Err(err).Msg("Scheduled sync failed")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid schedule %q for source %s: %w", entry.Schedule, entry.ID, err)
		}
		registered++
	}

	if registered == 0 {
		return fmt.Errorf("no sources with a schedule configured; use -once or -source for manual runs")
	}

	logger.Info().Int("sources", registered).Msg("Scheduler started - Press Ctrl+C to stop")
	scheduler.Start()

	<-ctx.Done()
	logger.Info().Msg("Shutting down scheduler")
	<-scheduler.Stop().Done()

	return nil
}

func syncOne(ctx context.Context, coordinator interfaces.SyncService, config *common.Config, id string, logger arbor.ILogger) error {
	for _, entry := range config.Sources {
		if entry.ID != id {
			continue
		}
		report, err := coordinator.Run(ctx, toSourceConfig(entry))
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	}
	return fmt.Errorf("source %q is not configured", id)
}

func syncAll(ctx context.Context, coordinator interfaces.SyncService, config *common.Config, logger arbor.ILogger) error {
	if len(config.Sources) == 0 {
		return fmt.Errorf("no sources configured")
	}

	var failed int
	for _, entry := range config.Sources {
		report, err := coordinator.Run(ctx, toSourceConfig(entry))
		if err != nil {
			logger.Error().Str("source", entry.ID).Err(err).Msg("Sync failed")
			failed++
			continue
		}
		printReport(report)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d sources failed", failed, len(config.Sources))
	}
	return nil
}

// runConnect walks the OAuth flow on the terminal: print the authorization
// URL, then read the code and state the provider appended to the redirect.
func runConnect(ctx context.Context, flows interfaces.OAuthFlowService, provider models.ProviderKind) error {
	start, err := flows.BeginFlow(ctx, provider)
	if err != nil {
		return err
	}

	fmt.Printf("Open this URL in a browser and authorize access:\n\n  %s\n\n", start.AuthorizationURL)
	fmt.Print("Paste the 'code' parameter from the redirect: ")
	code, err := readLine()
	if err != nil {
		return err
	}
	fmt.Print("Paste the 'state' parameter from the redirect: ")
	state, err := readLine()
	if err != nil {
		return err
	}

	identity, err := flows.CompleteFlow(ctx, start.SessionID, code, state)
	if err != nil {
		return err
	}

	fmt.Printf("Connected %s account %s\n", provider, identity.AccountID)
	return nil
}

// runAddDevice stores digest credentials for a direct-device source. The
// password is read from the terminal, never from argv.
func runAddDevice(ctx context.Context, credVault *vault.Service, accountKey, host string, port int) error {
	if host == "" {
		return fmt.Errorf("-device-host is required")
	}

	fmt.Print("Device username: ")
	username, err := readLine()
	if err != nil {
		return err
	}
	fmt.Print("Device password: ")
	password, err := readLine()
	if err != nil {
		return err
	}

	secret := &models.Secret{Username: username, Password: password}
	if err := credVault.StoreDevice(ctx, models.ProviderHikvision, accountKey, secret, host, port); err != nil {
		return err
	}

	fmt.Printf("Stored credentials for device %s (%s:%d)\n", accountKey, host, port)
	return nil
}

func toSourceConfig(entry common.SourceEntry) *models.SourceConfig {
	provider := models.ProviderKind(entry.Provider)
	containers := make([]models.ContainerRef, 0, len(entry.Containers))
	for _, id := range entry.Containers {
		containers = append(containers, models.ContainerRef{Provider: provider, ID: id})
	}
	return &models.SourceConfig{
		ID:         entry.ID,
		Provider:   provider,
		AccountKey: entry.AccountKey,
		Containers: containers,
	}
}

func printReport(report *models.SyncReport) {
	fmt.Printf("%s: found %d, downloaded %d, skipped %d, failed %d in %s\n",
		report.SourceID, report.Found, report.Downloaded, report.Skipped, report.Failed,
		report.Duration.Round(time.Millisecond))
}

func readLine() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
