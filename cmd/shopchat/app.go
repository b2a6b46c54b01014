package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kalambet/shopchat/internal/catalog"
	"github.com/kalambet/shopchat/internal/chat"
	"github.com/kalambet/shopchat/internal/config"
	"github.com/kalambet/shopchat/internal/jobs"
	"github.com/kalambet/shopchat/internal/logging"
	"github.com/kalambet/shopchat/internal/metrics"
	"github.com/kalambet/shopchat/internal/search"
	"github.com/kalambet/shopchat/internal/session"
	"github.com/kalambet/shopchat/internal/storage"
)

const authCheckTimeout = 5 * time.Second

// app is the fully wired assistant shared by the CLI commands and serve.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	catalog    *catalog.Client
	poller     *jobs.Poller
	classifier *search.Classifier
	store      *session.Store
	chat       *chat.Orchestrator

	closers []func() error
}

func setupLogging(cfg config.Config) *slog.Logger {
	return logging.Setup(os.Stderr, logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		NoColor: noColor,
	})
}

// newCatalog builds the transport and job poller. Commands that do not touch
// the conversation stop here.
func newCatalog(cfg config.Config, m *metrics.Metrics, logger *slog.Logger) (*catalog.Client, *jobs.Poller) {
	opts := []catalog.Option{catalog.WithTimeout(cfg.Catalog.Timeout)}
	if cfg.Catalog.Token != "" {
		opts = append(opts, catalog.WithToken(cfg.Catalog.Token))
	}
	if cfg.Catalog.BreakerEnabled {
		opts = append(opts, catalog.WithBreaker("catalog"))
	}
	client := catalog.New(cfg.Catalog.BaseURL, opts...)

	poller := jobs.NewPoller(client,
		jobs.WithInterval(cfg.Jobs.PollInterval),
		jobs.WithMaxAttempts(cfg.Jobs.MaxAttempts),
		jobs.WithObserver(m),
		jobs.WithLogger(logger),
	)
	return client, poller
}

// newApp wires the full stack: catalog transport, job poller, classifier,
// session store on the configured durable backend, and the orchestrator.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics.New(),
		classifier: search.NewClassifier(logger),
	}
	a.catalog, a.poller = newCatalog(cfg, a.metrics, logger)

	durable, err := a.openDurable(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.store = session.NewStore(durable, session.NewMemoryBackend(),
		session.WithKeyBase(cfg.Session.KeyBase),
		session.WithObserver(a.metrics),
		session.WithLogger(logger),
	)

	authCtx, cancel := context.WithTimeout(ctx, authCheckTimeout)
	defer cancel()
	a.store.Init(chat.ResolveAuth(authCtx, a.catalog, logger))

	a.chat = chat.New(a.catalog, a.poller, a.classifier, a.store,
		chat.WithObserver(a.metrics),
		chat.WithLogger(logger),
	)
	return a, nil
}

func (a *app) openDurable(ctx context.Context) (session.Backend, error) {
	switch a.cfg.Session.Driver {
	case config.DriverRedis:
		rc, err := session.DialRedis(ctx, a.cfg.Session.RedisAddr, a.cfg.Session.RedisPassword, a.cfg.Session.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("opening redis session backend: %w", err)
		}
		a.closers = append(a.closers, rc.Close)
		return session.NewRedisBackend(rc, 0), nil
	default:
		db, err := storage.Open(a.cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		return session.NewSQLiteBackend(db), nil
	}
}

// Close tears down an ephemeral conversation and releases the backends.
func (a *app) Close() error {
	if a.store != nil {
		a.store.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openApp loads config, installs the logger and wires the app.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, setupLogging(cfg))
}

func closeApp(a *app) {
	if err := a.Close(); err != nil {
		printWarning("closing session backend: %v", err)
	}
}
