package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"intake-assistant/internal/auth"
	"intake-assistant/internal/cache"
	"intake-assistant/internal/config"
	"intake-assistant/internal/core"
	"intake-assistant/internal/db"
	httpserver "intake-assistant/internal/http"
	"intake-assistant/internal/llm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	broker := db.NewBroker()
	checks := map[string]httpserver.Checker{}

	var (
		store     core.Store
		publisher core.Publisher = broker
	)
	if cfg.Database.URL != "" {
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, err := db.Open(openCtx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
		if err != nil {
			cancel()
			return err
		}
		defer conn.Close()
		err = db.Migrate(openCtx, conn)
		cancel()
		if err != nil {
			return err
		}
		repo := db.NewRepository(conn)
		store = repo
		checks["database"] = repo

		notifier := db.NewNotifier(conn, cfg.Database.NotifyChannel, logger)
		if err := notifier.Listen(ctx, cfg.Database.URL, broker); err != nil {
			return err
		}
		publisher = notifier
		logger.Info("using postgres store", zap.String("notify_channel", cfg.Database.NotifyChannel))
	} else {
		store = db.NewMemoryStore()
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	var snapshots core.ContextCache
	if cfg.Redis.URL != "" {
		client, err := cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		rc := cache.NewRedisCache(client, cfg.Redis.TTL)
		defer rc.Close()
		snapshots = rc
		checks["redis"] = rc
	} else {
		snapshots = cache.NewInMemoryCache(cfg.Redis.TTL)
		logger.Info("REDIS_URL not set, using in-memory context cache")
	}

	client := llm.NewOpenAIClient(cfg.OpenAI, logger)
	engine := core.NewEngine(client, cfg.Intake, logger)
	summarizer := core.NewSummarizer(client, cfg.Intake.HistoryLimit)

	opts := []core.Option{core.WithCache(snapshots), core.WithPublisher(publisher)}
	var issuer *auth.Issuer
	if cfg.Auth.Enabled {
		issuer = auth.NewIssuer(cfg.Auth)
		opts = append(opts, core.WithTokenIssuer(issuer))
	}
	svc := core.NewChatService(store, engine, summarizer, cfg.Intake, logger, opts...)

	sweeper := core.NewSweeper(svc, cfg.Intake.SweepInterval, logger)
	go sweeper.Run(ctx)

	api := httpserver.NewServer(svc, broker, checks, issuer, cfg, logger)
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Server.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	svc.Wait()
	return nil
}
