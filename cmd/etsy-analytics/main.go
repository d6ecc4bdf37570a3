package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/analytics"
	"github.com/architecte-ia/etsy-analytics-pro/internal/collector"
	"github.com/architecte-ia/etsy-analytics-pro/internal/config"
	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/handler"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/blob"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/cache"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/mailer"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/observability"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/payment"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/postgres"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/resilience"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/sqlite"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/supabase"
	"github.com/architecte-ia/etsy-analytics-pro/internal/port"
	"github.com/architecte-ia/etsy-analytics-pro/internal/scheduler"
	"github.com/architecte-ia/etsy-analytics-pro/internal/service"
	"github.com/architecte-ia/etsy-analytics-pro/internal/session"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_, _ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_driver", cfg.StoreDriver),
		zap.String("collection_mode", cfg.CollectionMode),
		zap.Bool("consent_gated_access", cfg.ConsentGatedAccess),
		zap.Int("weekly_analysis_limit", cfg.WeeklyAnalysisLimit),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("session_ttl", cfg.SessionTTL),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "etsy-analytics-pro")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	// --- Access Store ---
	var store port.CustomerStore
	var supabaseClient *supabase.Client

	switch cfg.StoreDriver {
	case config.StoreSupabase:
		logger.Info("using Supabase as access store", zap.String("supabase_url", cfg.SupabaseURL))
		supabaseClient = supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase", logger),
			resilienceCfg,
			logger,
		)
		store = supabaseClient
	case config.StorePostgres:
		conn, err := postgres.NewConnection(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer conn.Close()
		if err := conn.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate postgres", zap.Error(err))
		}
		logger.Info("using Postgres as access store")
		store = postgres.NewCustomerStore(conn)
	default:
		db, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			logger.Fatal("failed to open sqlite", zap.Error(err))
		}
		logger.Info("using SQLite as access store", zap.String("path", cfg.SQLitePath))
		store = sqlite.NewCustomerStore(db)
	}

	// --- Collection backend ---
	var blobs port.BlobStore
	if cfg.UseSupabaseStorage() {
		if supabaseClient == nil {
			supabaseClient = supabase.NewClient(
				httpClient,
				cfg.SupabaseURL,
				cfg.SupabaseAnonKey,
				cfg.SupabaseServiceKey,
				resilience.NewCircuitBreaker("supabase", logger),
				resilienceCfg,
				logger,
			)
		}
		blobs = supabase.NewStorage(supabaseClient, cfg.StorageBucket)
	} else {
		local, err := blob.NewLocal(cfg.CollectionDir)
		if err != nil {
			logger.Fatal("failed to prepare collection directory", zap.Error(err))
		}
		blobs = local
	}
	logger.Info("collection backend ready", zap.String("backend", blobs.Name()))

	// --- Mailer ---
	var mail port.Mailer
	if cfg.ResendAPIKey != "" {
		mail = mailer.NewResend(cfg.ResendAPIKey, cfg.MailFrom, resilience.NewCircuitBreaker("resend", logger), resilienceCfg, logger)
	} else {
		logger.Warn("RESEND_API_KEY not set: access emails are only logged")
		mail = mailer.NewLog(logger)
	}

	// --- Cache ---
	customerCache := cache.New[*domain.Customer](cfg.CacheTTL)
	defer customerCache.Close()
	tableCache := cache.New[*analytics.Table](cfg.CacheTTL)
	defer tableCache.Close()

	// --- Services ---
	access := service.NewAccessManager(store, customerCache, service.AccessOptions{
		ConsentGated: cfg.ConsentGatedAccess,
		WeeklyLimit:  cfg.WeeklyAnalysisLimit,
	}, metrics, logger)
	consent := service.NewConsentService(store, access, logger)
	onboarding := service.NewOnboardingService(store, access, mail, payment.NewStripeVerifier(cfg.StripeWebhookSecret), cfg.PublicBaseURL, metrics, logger)
	engine := analytics.NewEngine(tableCache, metrics, logger)
	collect := collector.New(blobs, cfg.CollectionMode, cfg.MaxConcurrency, metrics, logger)
	analysis := service.NewAnalysisService(engine, access, collect, metrics, logger)

	if cfg.StripeWebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set: purchase webhooks will be refused")
	}

	// --- Scheduler ---
	usageReset := scheduler.NewUsageResetJob(store, cfg.UsageResetCron, service.UsageWindow, logger)
	if err := usageReset.Start(ctx); err != nil {
		logger.Fatal("failed to schedule usage reset", zap.Error(err))
	}

	// --- Sessions ---
	keys, err := session.DeriveKeys(cfg.SessionSecret)
	if err != nil {
		logger.Fatal("failed to derive session keys", zap.Error(err))
	}

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		Access:     access,
		Consent:    consent,
		Onboarding: onboarding,
		Analysis:   analysis,
		Sessions:   session.NewCodec(keys.Session, cfg.SessionTTL, cfg.CookieSecure),
		CSRFKey:    keys.CSRF,
		Health: []handler.HealthCheck{
			{Name: "access-store", Check: store.Ping},
			{Name: "usage-reset", Check: usageReset.Check},
		},
		Metrics: metrics,
		Logger:  logger,
		Options: handler.Options{
			MaxUploadBytes: cfg.MaxUploadBytes,
			WeeklyLimit:    cfg.WeeklyAnalysisLimit,
			ConsentGated:   cfg.ConsentGatedAccess,
			CookieSecure:   cfg.CookieSecure,
			AllowedOrigins: cfg.AllowedOrigins,
		},
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped", zap.Any("usage_reset", usageReset.Status()))
}
