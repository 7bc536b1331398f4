package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/cache"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/config"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/httpserver"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/httpserver/handler"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/jetstream"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/storage"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/usecase"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/whatsapp"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/utils"
)

const shutdownTimeout = 30 * time.Second

func main() {
	time.Local = time.UTC

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(cfg.Metrics.Enabled)

	logger.Log.Info("Starting Daisi CRM Engine",
		zap.String("environment", cfg.Environment),
		zap.String("company_id", cfg.Company.ID),
		zap.Bool("notifier_enabled", cfg.NATS.URL != ""),
	)

	postgresRepo, err := initPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate, cfg.Company.ID)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}
	repos := storage.NewRepositories(postgresRepo)

	settingsCache := cache.NewSettingsCache(cfg.Company.ID, cfg.CRM.SettingsCacheTTL)
	channelCache := cache.NewChannelCache(cfg.Company.ID)
	settings := usecase.NewSettingsProvider(
		repos.Settings,
		settingsCache,
		model.TenantSettings{
			CompanyID:         cfg.Company.ID,
			BusinessAccountID: cfg.WhatsApp.BusinessAccountID,
			AutoCreateChannel: cfg.CRM.AutoCreateChannel,
			PanelWindowDays:   cfg.CRM.PanelWindowDays,
		},
	)

	sender, err := whatsapp.NewClient(whatsapp.Config{
		BaseURL:     cfg.WhatsApp.BaseURL,
		APIVersion:  cfg.WhatsApp.APIVersion,
		AccessToken: cfg.WhatsApp.AccessToken,
		Timeout:     cfg.WhatsApp.Timeout,
	})
	if err != nil {
		logger.Log.Fatal("Failed to initialize WhatsApp client", zap.Error(err))
	}

	// Domain events are optional; without a NATS URL nothing is published.
	var (
		jsClient *jetstream.Client
		notifier *usecase.JetStreamNotifier
	)
	if cfg.NATS.URL != "" {
		jsClient, notifier, err = initNotifier(cfg)
		if err != nil {
			logger.Log.Fatal("Failed to initialize domain-event notifier", zap.Error(err))
		}
	}

	var engineNotifier usecase.Notifier
	if notifier != nil {
		engineNotifier = notifier
	}
	engine := usecase.NewEngineService(repos, sender, engineNotifier, settings, channelCache, cfg.CRM)

	server := httpserver.NewServer(httpserver.Config{
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		CompanyID:    cfg.Company.ID,
	}, postgresRepo, logger.Log)

	handler.NewWebhookHandler(engine, handler.WebhookConfig{
		VerifyToken: cfg.WhatsApp.VerifyToken,
		AppSecret:   cfg.WhatsApp.AppSecret,
		SoftBudget:  cfg.CRM.WebhookSoftBudget,
	}).Register(server)
	handler.NewCRMHandler(engine).Register(server)

	if cfg.Metrics.Enabled {
		server.RegisterMetricsHandler(promhttp.Handler())
	}
	server.Start()

	logger.Log.Info("HTTP endpoints available",
		zap.String("webhook", fmt.Sprintf("http://localhost:%d%s", cfg.Server.Port, handler.WebhookPath)),
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Server.Port)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", shutdownTimeout))

	// The server stops first so no new work reaches the notifier or the database.
	stopComponent("HTTP server", func() {
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping HTTP server", zap.Error(err))
		}
	})

	var wg sync.WaitGroup
	if notifier != nil {
		wg.Add(1)
		utils.SafeGo(func() {
			defer wg.Done()
			stopComponent("domain-event notifier", func() {
				notifier.Stop()
				jsClient.Close()
			})
		}, shutdownPanic("domain-event notifier", &wg))
	}

	wg.Add(1)
	utils.SafeGo(func() {
		defer wg.Done()
		stopComponent("PostgreSQL connection", func() {
			if err := postgresRepo.Close(shutdownCtx); err != nil {
				logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
			}
		})
	}, shutdownPanic("PostgreSQL connection", &wg))

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("Cache statistics",
		zap.Any("tenant_settings", settingsCache.Stats()),
		zap.Any("channel", channelCache.Stats()),
	)
	logger.Log.Info("Daisi CRM Engine shutdown complete")
}

func stopComponent(name string, stop func()) {
	logger.Log.Info("[shutdown] Stopping " + name)
	start := time.Now()
	stop()
	logger.Log.Info("[shutdown] Stopped "+name, zap.Duration("duration", time.Since(start)))
}

func shutdownPanic(name string, wg *sync.WaitGroup) utils.RecoverFn {
	return func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping "+name,
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	}
}

// Initialize PostgreSQL repository
func initPostgresRepo(dsn string, autoMigrate bool, companyID string) (*storage.PostgresRepo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(dsn, autoMigrate, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

// initNotifier connects to JetStream, makes sure the domain-event stream
// exists and starts the publishing pool.
func initNotifier(cfg *config.Config) (*jetstream.Client, *usecase.JetStreamNotifier, error) {
	client, err := jetstream.NewClient(cfg.NATS.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create JetStream client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.SetupStream(ctx, jetstream.DomainStreamConfig(cfg.NATS.Stream, cfg.NATS.SubjectPrefix)); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to set up domain-event stream: %w", err)
	}

	notifier, err := usecase.NewJetStreamNotifier(cfg.WorkerPools.Notifier, client, cfg.NATS.SubjectPrefix, logger.Log)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, notifier, nil
}
