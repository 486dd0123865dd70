package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/heimdex/denoise-agent/internal/audit"
	"github.com/heimdex/denoise-agent/internal/cloud"
	"github.com/heimdex/denoise-agent/internal/config"
	"github.com/heimdex/denoise-agent/internal/db"
	"github.com/heimdex/denoise-agent/internal/logging"
	"github.com/heimdex/denoise-agent/internal/pipeline"
	"github.com/heimdex/denoise-agent/internal/profile"
	"github.com/heimdex/denoise-agent/internal/request"
	"github.com/heimdex/denoise-agent/internal/rpc"
)

const healthCacheTTL = 30 * time.Second

// options are per-invocation overrides taken from command-line flags.
type options struct {
	profile   string
	transport string
	account   string
	fields    request.Fields
	probeTIFF bool
	observers []pipeline.Observer
}

// agent holds every wired component. Commands use the parts they need.
type agent struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *db.DB
	settings *profile.Settings
	resolver *profile.Resolver
	cloud    *cloud.Client
	health   *cloud.CachedHealth
	repo     *audit.SQLiteRepository
	lines    *audit.LineSink
	sentry   *audit.SentrySink
	registry *prometheus.Registry
	tracker  *pipeline.Tracker
	orch     *pipeline.Orchestrator
	runner   *pipeline.Runner
}

func newAgent(ctx context.Context, opts options) (*agent, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLoggerTo(os.Stderr, cfg.LogLevel())

	settings, err := profile.Load(cfg.SettingsPath())
	if err != nil {
		return nil, err
	}

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &agent{
		cfg:      cfg,
		logger:   logger,
		db:       database,
		settings: settings,
		registry: prometheus.NewRegistry(),
		tracker:  pipeline.NewTracker(),
	}

	if err := a.wire(ctx, opts); err != nil {
		database.Close()
		return nil, err
	}
	return a, nil
}

func (a *agent) wire(ctx context.Context, opts options) error {
	name, err := a.initialProfile(ctx, opts.profile)
	if err != nil {
		return err
	}
	resolver, err := profile.NewResolver(a.settings, name, logging.WithComponent(a.logger, "profile"))
	if err != nil {
		return err
	}
	a.resolver = resolver

	a.cloud = cloud.NewClient(resolver, a.cfg.HTTPTimeout(), a.logger)
	a.health = cloud.NewCachedHealth(a.cloud.Health, healthCacheTTL)

	transport := a.cfg.Transport()
	if opts.transport != "" {
		transport = opts.transport
	}
	invoker := pipeline.NewTransportInvoker(
		resolver,
		a.cloud.Invoke,
		rpc.NewInvoker(rpc.NewClient(resolver, a.logger)),
		transport == config.TransportGRPC,
		a.logger,
	)
	presigner := pipeline.NewStoragePresigner(resolver, a.cloud.Presign, cloud.NewMinioPresigner(resolver, a.logger))

	sink, err := a.sinks()
	if err != nil {
		return err
	}

	observers := append(pipeline.Observers{a.tracker}, opts.observers...)

	a.orch = pipeline.New(pipeline.Config{
		Profiles:     resolver,
		Presigner:    presigner,
		Transfer:     a.cloud.Transfer,
		Invoker:      invoker,
		Sink:         sink,
		Observer:     observers,
		Logger:       a.logger,
		DownloadRoot: a.cfg.DownloadDir(),
		Account:      opts.account,
		Fields:       opts.fields,
		ProbeTIFF:    opts.probeTIFF,
	})
	a.runner = pipeline.NewRunner(a.orch, a.logger)

	a.logger.Info("agent wired",
		"profile", resolver.Active().Name,
		"transport", transport,
		"download_dir", a.cfg.DownloadDir(),
	)
	return nil
}

// initialProfile picks the explicit flag, then the profile last chosen
// through the API, then the configured default.
func (a *agent) initialProfile(ctx context.Context, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	stored, err := a.db.GetConfig(ctx, db.ConfigActiveProfile)
	if err != nil {
		return "", fmt.Errorf("failed to read active profile: %w", err)
	}
	if stored != "" {
		if _, err := a.settings.Get(stored); err == nil {
			return stored, nil
		}
		a.logger.Warn("stored active profile is no longer valid", "profile", stored)
	}
	return a.cfg.Profile(), nil
}

func (a *agent) sinks() (audit.Multi, error) {
	csvSink, err := audit.NewCSVSink(a.cfg.LogsDir())
	if err != nil {
		return nil, err
	}

	metrics, err := audit.NewMetricsSink(a.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.repo = audit.NewRepository(a.db.Conn())
	a.lines = audit.NewLineSink(audit.DefaultLineCapacity, a.cfg.LogsDir(), logging.WithComponent(a.logger, "runlog"))

	sinks := audit.Multi{csvSink, a.lines, a.repo, metrics}

	enabled, err := audit.InitSentry(audit.SentryConfig{
		DSN:         a.cfg.SentryDSN(),
		Environment: a.resolverName(),
		Release:     "denoise-agent@" + Version,
	}, a.logger)
	if err != nil {
		a.logger.Warn("error reporting disabled", "error", err)
	}
	if enabled {
		a.sentry = audit.NewSentrySink(sentry.CurrentHub(), a.logger)
		sinks = append(sinks, a.sentry)
	}

	return sinks, nil
}

func (a *agent) resolverName() string {
	if a.resolver == nil {
		return ""
	}
	return a.resolver.Active().Name
}

func (a *agent) Close() {
	if a.sentry != nil {
		a.sentry.Flush(2 * time.Second)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}

func ensureAuthToken(ctx context.Context, store *db.DB) (string, error) {
	existing, err := store.GetConfig(ctx, db.ConfigAuthToken)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := store.SetConfig(ctx, db.ConfigAuthToken, token); err != nil {
		return "", err
	}

	return token, nil
}
