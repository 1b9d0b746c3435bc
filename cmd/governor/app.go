package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pario-ai/governor/pkg/analytics"
	"github.com/pario-ai/governor/pkg/audit"
	"github.com/pario-ai/governor/pkg/besteffort"
	"github.com/pario-ai/governor/pkg/billing"
	"github.com/pario-ai/governor/pkg/budget"
	"github.com/pario-ai/governor/pkg/cache/memory"
	"github.com/pario-ai/governor/pkg/config"
	"github.com/pario-ai/governor/pkg/governor"
	"github.com/pario-ai/governor/pkg/logging"
	"github.com/pario-ai/governor/pkg/nudge"
	"github.com/pario-ai/governor/pkg/router"
	"github.com/pario-ai/governor/pkg/tracker"
)

// app holds every component opened from one config file.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	runner    *besteffort.Runner
	tracker   *tracker.SQLiteTracker
	events    *audit.Logger
	analytics *analytics.Store
	billing   *billing.Store
	ledger    *budget.Ledger
	router    *router.Router
	cache     *memory.Cache
	nudges    *nudge.Engine
	service   *governor.Service

	closers []func() error
}

func openApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Audit.DBPath == "" {
		cfg.Audit.DBPath = cfg.DBPath
	}

	a := &app{cfg: cfg, logger: logging.New(cfg.Log)}
	a.runner = besteffort.New(a.logger)

	if a.tracker, err = tracker.New(cfg.DBPath); err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	a.closers = append(a.closers, a.tracker.Close)

	if a.events, err = audit.New(cfg.Audit); err != nil {
		a.Close()
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	a.closers = append(a.closers, a.events.Close)

	if a.analytics, err = analytics.New(cfg.DBPath); err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.analytics.Close)

	if a.billing, err = billing.New(cfg.DBPath); err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.billing.Close)

	a.ledger = budget.New(cfg.Ledger, a.tracker,
		budget.WithPlans(a.billing),
		budget.WithEvents(a.events),
		budget.WithRunner(a.runner),
		budget.WithLogger(a.logger),
	)
	a.router = router.New(cfg.Router,
		router.WithTokenCounter(router.NewTokenCounter(cfg.Router.Tokenizer, a.logger)),
		router.WithLogger(a.logger),
	)
	a.cache = memory.New(cfg.Cache, memory.WithLogger(a.logger))
	a.closers = append(a.closers, a.cache.Close)

	a.nudges = nudge.New(cfg.Nudge, a.ledger, a.events,
		nudge.WithAnalytics(a.analytics),
		nudge.WithBilling(a.billing),
		nudge.WithRunner(a.runner),
		nudge.WithLogger(a.logger),
	)
	return a, nil
}

// Service builds the request path over provider.
func (a *app) Service(provider governor.Provider) *governor.Service {
	if a.service == nil {
		var cache governor.Cache
		if a.cfg.Cache.Enabled {
			cache = a.cache
		}
		a.service = governor.New(a.ledger, a.router, cache, provider,
			governor.WithRecorder(a.analytics),
			governor.WithRunner(a.runner),
			governor.WithLogger(a.logger),
		)
	}
	return a.service
}

// Close waits for trailing best-effort writes and closes the databases.
func (a *app) Close() {
	if a.runner != nil {
		a.runner.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("close")
		}
	}
	a.closers = nil
}
