package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"retailerp/backend/internal/cache"
	"retailerp/backend/internal/config"
	"retailerp/backend/internal/events"
	"retailerp/backend/internal/httpapi"
	"retailerp/backend/internal/logging"
	"retailerp/backend/internal/metrics"
	"retailerp/backend/internal/service"
	"retailerp/backend/internal/store"
	"retailerp/backend/internal/store/memory"
	pgstore "retailerp/backend/internal/store/postgres"
	"retailerp/backend/internal/tracing"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// RootOptions holds flags shared by every command.
type RootOptions struct {
	ConfigFile string
}

func newRootCommand() *cobra.Command {
	opts := &RootOptions{}
	serve := newServeCommand(opts)

	cmd := &cobra.Command{
		Use:          "server",
		Short:        "Retail ERP inventory and transaction backend",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.ConfigFile != "" {
				return os.Setenv("CONFIG_FILE", opts.ConfigFile)
			}
			return nil
		},
		RunE: serve.RunE,
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "YAML config file (overrides CONFIG_FILE)")

	cmd.AddCommand(serve)
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}

func newServeCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := validateSecurityConfig(cfg); err != nil {
				return fmt.Errorf("invalid security configuration: %w", err)
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func newMigrateCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required for migrate")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			pg, err := pgstore.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pg.Close()
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

type app struct {
	handler http.Handler
	closers []func() error
}

func (a *app) close(logger *zap.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}
}

// buildApp wires repository, cart store, event publisher, metrics, service and
// HTTP API from cfg. Optional backends fall back to in-process versions.
func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	built := &app{}
	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		repo = pg
		built.closers = append(built.closers, pg.Close)
		logger.Info("repository ready", zap.String("backend", "postgres"))
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository ready", zap.String("backend", "memory"))
		if memory.UsingDefaultSeedCredentials() {
			logger.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD to override")
		}
	}

	var carts store.CartStore = cache.NewMemoryCartStore()
	if cfg.RedisAddr != "" {
		redisCarts := cache.NewRedisCartStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CartTTL())
		if err := redisCarts.Ping(startCtx); err != nil {
			logger.Warn("redis unavailable, using in-memory carts", zap.Error(err))
			_ = redisCarts.Close()
		} else {
			carts = cache.NewBreakerCartStore(redisCarts, cache.DefaultBreakerConfig("redis-carts"), logger)
			built.closers = append(built.closers, redisCarts.Close)
			logger.Info("cart store ready", zap.String("backend", "redis"))
		}
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		publisher = kafka
		built.closers = append(built.closers, kafka.Close)
		logger.Info("event publisher ready", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	m := metrics.New()
	svc := service.New(repo, carts, service.Options{
		DefaultStoreID: cfg.DefaultStoreID,
		DefaultTaxRate: cfg.TaxRate(),
		Logger:         logger,
		Publisher:      publisher,
		Metrics:        m,
	})
	auth := httpapi.NewAuthManager(startCtx, cfg.AuthSecret, cfg.TokenTTL(), cfg.ManagerPIN, repo, logger)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Logger:        logger,
		Metrics:       m,
	})
	built.handler = api.Handler()
	return built, nil
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTLPEndpoint,
		Environment: cfg.Environment,
		SampleRate:  cfg.TraceSampleRatio,
	})
	if err != nil {
		return err
	}

	built, err := buildApp(ctx, cfg, logger)
	if err != nil {
		_ = shutdownTracing(context.Background())
		return err
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           built.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("retailerp backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err = <-serveErr:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("shutdown error", zap.Error(shutdownErr))
	}
	built.close(logger)
	if tracingErr := shutdownTracing(shutdownCtx); tracingErr != nil {
		logger.Warn("tracing shutdown error", zap.Error(tracingErr))
	}
	logger.Info("server stopped")
	return err
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects common, repeated-digit and sequential PINs.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "121212": true,
		"112233": true, "123123": true, "696969": true, "101010": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame, ascending, descending := true, true, true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
		}
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	switch {
	case allSame:
		return fmt.Errorf("all-same-digit PIN not allowed")
	case ascending || descending:
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
