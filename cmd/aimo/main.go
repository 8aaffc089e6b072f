package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/aimoverse/aimo-gateway/pkg/api"
	"github.com/aimoverse/aimo-gateway/pkg/auth"
	"github.com/aimoverse/aimo-gateway/pkg/config"
	"github.com/aimoverse/aimo-gateway/pkg/email"
	"github.com/aimoverse/aimo-gateway/pkg/invitation"
	"github.com/aimoverse/aimo-gateway/pkg/middleware"
	"github.com/aimoverse/aimo-gateway/pkg/observability"
	"github.com/aimoverse/aimo-gateway/pkg/storage"
	"github.com/aimoverse/aimo-gateway/pkg/upstream"
	"github.com/aimoverse/aimo-gateway/pkg/usage"
	"github.com/aimoverse/aimo-gateway/pkg/wallet"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "", "YAML config file (overrides AIMO_CONFIG_FILE)")
	migrate := flag.Bool("migrate", true, "Apply database migrations on startup")
	flag.Parse()

	if *configFile != "" {
		_ = os.Setenv("AIMO_CONFIG_FILE", *configFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(context.Background(), cfg, logger, *migrate); err != nil {
		logger.WithError(err).Error("Gateway stopped with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger, migrate bool) error {
	otel, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("init opentelemetry: %w", err)
	}

	db, err := storage.OpenPostgres(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	logger.Info("Connected to PostgreSQL")

	rdb, err := storage.NewRedisClient(ctx, cfg.Storage)
	if err != nil {
		// quota enforcement fails open, so a Redis outage at boot is not fatal
		logger.WithError(err).Warn("Redis unavailable at startup")
		opts, optErr := storage.RedisOptions(cfg.Storage)
		if optErr != nil {
			return optErr
		}
		rdb = redis.NewClient(opts)
	} else {
		logger.Info("Connected to Redis")
	}

	if migrate {
		if err := invitation.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Info("Database migrations applied")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	issuer, err := auth.NewIssuer(auth.Config{
		Secret:       []byte(cfg.Auth.JWTSecret),
		Algorithm:    cfg.Auth.Algorithm,
		Expiry:       cfg.Auth.TokenExpiry,
		DefaultQuota: cfg.Auth.DefaultQuota,
	})
	if err != nil {
		return err
	}

	loc, err := cfg.Usage.Location()
	if err != nil {
		return err
	}
	counter := usage.NewCounter(rdb,
		usage.WithPrefix(cfg.Usage.KeyPrefix),
		usage.WithLocation(loc),
		usage.WithAtomic(cfg.Usage.Atomic),
	)

	store := invitation.NewSQLStore(db,
		invitation.WithUnboundTTL(cfg.Invitation.UnboundTTL),
		invitation.WithBoundTTL(cfg.Invitation.BoundTTL),
	)
	lookup := invitation.NewCachedLookup(store, cfg.Invitation.CacheSize, cfg.Invitation.CacheTTL, metrics)

	codes := email.NewCodeStore(rdb,
		email.WithCodeTTL(cfg.Email.CodeTTL),
		email.WithMaxAttempts(cfg.Email.MaxCodeAttempts),
	)

	deps := api.Deps{
		Issuer:  issuer,
		Usage:   counter,
		Store:   store,
		Lookup:  lookup,
		Codes:   codes,
		Health:  observability.NewHealthChecker(db, rdb).WithVersion(version),
		Metrics: metrics,
		Logger:  logger,
	}
	if err := wireOptional(cfg, &deps, metrics, logger); err != nil {
		return err
	}

	srv, err := api.NewServer(api.Config{
		BasePath:        cfg.Server.BasePath,
		AdminAPIKey:     cfg.Auth.AdminAPIKey,
		CORSOrigins:     cfg.Server.CORSOrigins,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		ListLimit:       cfg.Invitation.ListLimit,
		AuthExclusions:  cfg.Auth.ExcludedPaths,
		UsageExclusions: cfg.Usage.Exclusions,
		Throttle: middleware.ThrottleConfig{
			RequestsPerWindow: cfg.Server.ThrottleRequests,
			WindowDuration:    cfg.Server.ThrottleWindow,
			BurstSize:         cfg.Server.ThrottleBurst,
			TrustedProxies:    cfg.Server.TrustedProxies,
		},
	}, deps)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	srv.Throttle().StartCleanup(runCtx)

	var handler http.Handler = srv
	if cfg.Observability.OTelEnabled {
		handler = observability.InstrumentHandler(handler, "aimo-gateway")
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, deps.Health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)

	if cfg.Invitation.SweepEnabled {
		sweeper := invitation.NewSweeper(store, cfg.Invitation.SweepSchedule, logger, metrics)
		if err := sweeper.Start(); err != nil {
			return err
		}
		shutdown.RegisterShutdownFunc(sweeper.Stop)
	}
	shutdown.RegisterShutdownFunc(func(context.Context) error { return rdb.Close() })
	shutdown.RegisterShutdownFunc(func(context.Context) error { return db.Close() })
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otel, logger)
	})

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("Starting API server")
		return listen(httpServer)
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Starting health server")
		return listen(healthServer)
	})
	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Gateway stopped")
	return nil
}

// wireOptional attaches the upstream, email and wallet clients that are
// configured. Routes whose dependency is missing answer 500.
func wireOptional(cfg *config.Config, deps *api.Deps, metrics *observability.Metrics, logger *observability.Logger) error {
	up := cfg.Upstream
	if up.CompletionURL != "" {
		completer, err := upstream.NewHTTPCompleter(upstream.CompleterConfig{
			BaseURL: up.CompletionURL,
			APIKey:  up.CompletionAPIKey,
			Model:   up.CompletionModel,
			Timeout: up.CompletionTimeout,
		}, metrics)
		if err != nil {
			return err
		}
		deps.Completer = completer
	} else {
		logger.Warn("Completion provider not configured")
	}

	if up.ClassifierURL != "" {
		classifier, err := upstream.NewHTTPClassifier(upstream.ClassifierConfig{
			URL:       up.ClassifierURL,
			APIKey:    up.ClassifierAPIKey,
			Threshold: up.ClassifierThreshold,
			Timeout:   up.ClassifierTimeout,
		}, metrics)
		if err != nil {
			return err
		}
		deps.Classifier = classifier
	} else {
		logger.Warn("Emotion classifier not configured")
	}

	if e := cfg.Email; e.ListmonkURL != "" {
		mailer, err := email.NewListmonkClient(email.ListmonkConfig{
			URL:        e.ListmonkURL,
			Username:   e.Username,
			APIKey:     e.APIKey,
			ListID:     e.ListID,
			TemplateID: e.TemplateID,
			Timeout:    e.Timeout,
		}, metrics)
		if err != nil {
			return err
		}
		deps.Mailer = mailer
	} else {
		logger.Warn("Listmonk not configured, email login disabled")
	}

	if w := cfg.Wallet; w.PrivyAppID != "" {
		verifier, err := wallet.NewPrivyVerifier(wallet.PrivyConfig{
			AppID:     w.PrivyAppID,
			AppSecret: w.PrivyAppSecret,
			APIURL:    w.PrivyAPIURL,
			JWKSURL:   w.JWKSURL,
			Timeout:   w.Timeout,
		}, metrics)
		if err != nil {
			return err
		}
		deps.Wallets = verifier
	} else {
		logger.Warn("Privy not configured, wallet login disabled")
	}
	return nil
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	return nil
}
