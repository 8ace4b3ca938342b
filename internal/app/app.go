// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/follower-audit/internal/audit"
	"github.com/JakeFAU/follower-audit/internal/clock/system"
	"github.com/JakeFAU/follower-audit/internal/config"
	"github.com/JakeFAU/follower-audit/internal/fetcher"
	collyfetcher "github.com/JakeFAU/follower-audit/internal/fetcher/colly"
	"github.com/JakeFAU/follower-audit/internal/id/uuid"
	"github.com/JakeFAU/follower-audit/internal/orchestrator"
	"github.com/JakeFAU/follower-audit/internal/platform"
	"github.com/JakeFAU/follower-audit/internal/policy/ratelimit"
	"github.com/JakeFAU/follower-audit/internal/progress"
	"github.com/JakeFAU/follower-audit/internal/progress/sinks"
	"github.com/JakeFAU/follower-audit/internal/publisher/memory"
	"github.com/JakeFAU/follower-audit/internal/publisher/pubsub"
	"github.com/JakeFAU/follower-audit/internal/storage"
	"github.com/JakeFAU/follower-audit/internal/store"
)

// Options override collaborators that are normally built from config.
type Options struct {
	Logger *zap.Logger
	// Transport replaces the Colly transport.
	Transport fetcher.Transport
	Clock     audit.Clock
	// Registerer receives the progress metrics. Nil uses the default registry.
	Registerer prometheus.Registerer
	// OnProgress is called with the folded session state after each batch of
	// progress events.
	OnProgress func(sinks.Snapshot)
}

type publisher interface {
	audit.Publisher
	io.Closer
}

// App holds all the shared, long-lived services for the application.
// It is initialized once at startup and passed to the commands that need it.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	kv         storage.KeyValue
	store      *store.ProgressStore
	hub        *progress.Hub
	recorder   *sinks.RecorderSink
	publisher  publisher
	controller *orchestrator.Controller
}

// New wires every service from cfg. It fails fast when a backend cannot be
// reached, closing whatever was already opened.
func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(ctx)
		}
	}()

	a.kv, err = storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	logger.Info("storage ready", zap.String("backend", backendName(cfg.Storage.Backend)))
	a.store, err = store.New(a.kv, cfg.Storage.Namespace)
	if err != nil {
		return nil, err
	}

	if a.publisher, err = openPublisher(ctx, cfg.Notify); err != nil {
		return nil, err
	}

	a.recorder = sinks.NewRecorderSink(opts.OnProgress)
	hubSinks := []progress.Sink{sinks.NewLogSink(logger.Named("progress")), a.recorder}
	if cfg.Progress.Prometheus {
		reg := opts.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		promSink, err := sinks.NewPrometheusSink(reg)
		if err != nil {
			return nil, fmt.Errorf("register progress metrics: %w", err)
		}
		hubSinks = append(hubSinks, promSink)
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.Progress.MaxBatchWait,
		SinkTimeout:    cfg.Progress.SinkTimeout,
		Logger:         logger.Named("hub"),
	}, hubSinks...)

	transport := opts.Transport
	if transport == nil {
		transport = collyfetcher.New(collyfetcher.Config{UserAgent: cfg.HTTP.UserAgent, Timeout: cfg.HTTP.Timeout})
	}
	fetch, err := fetcher.New(transport, clock, fetcher.Config{
		Policy: fetcher.RetryPolicy{
			MaxAttempts:   cfg.HTTP.MaxAttempts,
			RateLimitStep: cfg.HTTP.RateLimitStep,
			RetryDelay:    cfg.HTTP.RetryDelay,
		},
		Limiter: ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.RPS, Burst: cfg.HTTP.Burst}),
		Logger:  logger.Named("fetcher"),
	})
	if err != nil {
		return nil, err
	}
	client, err := platform.New(fetch, platform.Config{
		BaseURL:   cfg.Platform.BaseURL,
		AppID:     cfg.Platform.AppID,
		Headers:   cfg.Platform.Headers,
		Edge:      platform.Edge(cfg.Platform.Edge),
		QueryHash: cfg.Platform.QueryHash,
	})
	if err != nil {
		return nil, err
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Platform:  client,
		Store:     a.store,
		Clock:     clock,
		Emitter:   a.hub,
		Publisher: a.publisher,
		Topic:     cfg.Notify.Topic,
		MaxPages:  cfg.Crawler.MaxPages,
		Logger:    logger.Named("orchestrator"),
	})
	if err != nil {
		return nil, err
	}
	a.controller = orchestrator.NewController(orch, uuid.New(), cfg.Settings())
	return a, nil
}

func openPublisher(ctx context.Context, cfg config.NotifyConfig) (publisher, error) {
	switch cfg.Backend {
	case config.NotifyPubSub:
		p, err := pubsub.Open(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("open pubsub publisher: %w", err)
		}
		return p, nil
	case config.NotifyMemory:
		return memory.New(), nil
	default:
		return nil, nil
	}
}

func backendName(name string) string {
	if name == "" {
		return storage.BackendBolt
	}
	return name
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Controller returns the session command surface.
func (a *App) Controller() *orchestrator.Controller {
	return a.controller
}

// Recorder exposes the folded progress state.
func (a *App) Recorder() *sinks.RecorderSink {
	return a.recorder
}

// Close stops any running session, drains the progress hub, and closes the
// publisher and storage backend.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.controller != nil {
		if err := a.controller.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	return errors.Join(errs...)
}
