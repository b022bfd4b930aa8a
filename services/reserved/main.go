package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fiatreserve/core/runtime"
	"fiatreserve/core/types"
	"fiatreserve/integrations/webhooks"
	"fiatreserve/native/reserve"
	"fiatreserve/observability"
	"fiatreserve/observability/logging"
	telemetry "fiatreserve/observability/otel"
	"fiatreserve/services/reserved/app"
	"fiatreserve/services/reserved/config"
	"fiatreserve/services/reserved/scheduler"
	"fiatreserve/services/reserved/server"
	"fiatreserve/services/reserved/storage"
	statestore "fiatreserve/storage"
)

func main() {
	var (
		cfgPath      string
		issueFor     string
		issueTTL     time.Duration
		allowMigrate bool
	)
	flag.StringVar(&cfgPath, "config", "services/reserved/config.yaml", "path to reserved config")
	flag.StringVar(&issueFor, "issue-token", "", "print a bearer token for the given address and exit")
	flag.DurationVar(&issueTTL, "token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
	flag.BoolVar(&allowMigrate, "allow-migrate", false, "tolerate a state schema version mismatch")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if allowMigrate {
		cfg.State.AllowMigrate = true
	}

	if issueFor != "" {
		caller, err := config.ParseAddress("issue-token", issueFor)
		if err != nil {
			log.Fatalf("%v", err)
		}
		token, err := server.IssueToken([]byte(cfg.Auth.JWTSecret), caller, cfg.Auth.Issuer, issueTTL)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	env := strings.TrimSpace(os.Getenv("RESERVED_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "reserved",
		Env:        env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer logCloser.Close()

	if err := run(cfg, env, logger); err != nil {
		logger.Error("reserved exited", slog.Any("error", err))
		_ = logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg config.Config, env string, logger *slog.Logger) error {
	telemetryCfg := telemetry.Config{
		ServiceName: "reserved",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Attributes: map[string]string{
			"reserve.strategy":    cfg.Reserve.Strategy,
			"reserve.fiat_symbol": cfg.Tokens.Fiat.Symbol,
		},
	}.ApplyEnv(os.LookupEnv)
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stateDB, err := statestore.Open(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	if cfg.State.AllowMigrate {
		logger.Warn("state migration enabled for this boot")
	}
	a, err := app.Build(ctx, cfg, stateDB, logger)
	if err != nil {
		stateDB.Close()
		return fmt.Errorf("build reserve: %w", err)
	}
	defer a.Close()

	dsn, err := storage.ResolveDSN(cfg.DatabasePath)
	if err != nil {
		return err
	}
	store, err := storage.Open(dsn)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()

	idem, err := server.OpenIdempotencyStore(cfg.Idempotency.Path, cfg.Idempotency.TTL.Duration)
	if err != nil {
		return fmt.Errorf("open idempotency store: %w", err)
	}
	defer idem.Close()

	hub := server.NewHub()
	a.Runtime.AddSink(store)
	a.Runtime.AddSink(hub)
	a.Runtime.AddSink(runtime.SinkFunc(func(_ context.Context, records []types.EventRecord) error {
		observability.Events().RecordCommitted(records)
		return nil
	}))
	a.Runtime.SetObserver(observability.Reserve().OperationObserver(func(err error) string {
		return string(reserve.KindOf(err))
	}))

	if cfg.Webhook.Endpoint != "" {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.Endpoint, []byte(cfg.Webhook.Secret),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, cfg.Webhook.MinBackoff.Duration, cfg.Webhook.MaxBackoff.Duration),
			webhooks.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("configure webhook: %w", err)
		}
		defer dispatcher.Close()
		a.Runtime.AddSink(dispatcher)
	}

	sched := scheduler.New(ctx, a, store, idem, logger)
	if err := sched.Register(cfg.Scheduler); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		Auth: server.AuthConfig{
			Disabled:   cfg.Auth.Disabled,
			HMACSecret: cfg.Auth.JWTSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
	}, a, store, idem, hub, logger)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
