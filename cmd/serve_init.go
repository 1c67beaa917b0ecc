package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/justdata-platform/justdata/internal/geo"
	"github.com/justdata-platform/justdata/internal/job"
	"github.com/justdata-platform/justdata/internal/monitoring"
	"github.com/justdata-platform/justdata/internal/narrative"
	"github.com/justdata-platform/justdata/internal/pipeline"
	"github.com/justdata-platform/justdata/internal/progress"
	"github.com/justdata-platform/justdata/internal/recipe"
	"github.com/justdata-platform/justdata/internal/reportstore"
	"github.com/justdata-platform/justdata/internal/warehouse"
	"github.com/justdata-platform/justdata/pkg/ai"
	"github.com/justdata-platform/justdata/pkg/census"
)

// engineEnv holds the initialized clients, stores, and orchestrator the
// serve command wires into the HTTP server.
type engineEnv struct {
	Pool         *pgxpool.Pool
	Warehouse    warehouse.Client
	Census       *census.Client // may be nil
	Store        *reportstore.Store
	Orchestrator *job.Orchestrator
	Collector    *monitoring.Collector
	Checker      *monitoring.Checker
}

// Close releases resources held by the engine environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
}

// initEngine sets up the warehouse pool, external clients, report store,
// recipes, and the job orchestrator. Callers should defer env.Close().
func initEngine(ctx context.Context) (*engineEnv, error) {
	dsn, err := warehouse.ResolveDSN(serveWarehouseDSN, cfg.Warehouse.DSN)
	if err != nil {
		return nil, err
	}
	cfg.Warehouse.DSN = dsn

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool, err := warehouse.NewPool(ctx, dsn, cfg.Warehouse)
	if err != nil {
		return nil, err
	}
	wh := warehouse.NewClient(pool, cfg.Warehouse)

	var censusClient *census.Client
	if cfg.Census.APIKey != "" {
		censusClient = census.New(cfg.Census.APIKey,
			census.WithBaseURL(cfg.Census.BaseURL),
			census.WithRateLimit(cfg.Census.RatePerSecond),
			census.WithMaxConcurrent(cfg.Census.MaxConcurrent),
		)
	}

	st, err := reportstore.New(cfg.Store)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		pool.Close()
		return nil, eris.Wrap(err, "migrate report catalog")
	}
	if err := st.StartGC(); err != nil {
		_ = st.Close()
		pool.Close()
		return nil, err
	}

	recipes := recipe.NewRegistry()
	if cfg.Recipes.OverridesPath != "" {
		if err := recipes.ApplyOverrides(cfg.Recipes.OverridesPath); err != nil {
			_ = st.Close()
			pool.Close()
			return nil, err
		}
	}
	zap.L().Info("recipes registered", zap.Strings("recipes", recipes.Names()))

	// A nil *census.Client must stay a nil interface or the pipeline
	// would call through it.
	var censusIface pipeline.CensusClient
	if censusClient != nil {
		censusIface = censusClient
	}

	pipe := pipeline.New(cfg, wh, censusIface, initNarrator(ctx), geo.NewBoundaryLoader(cfg.Geo, nil), version)
	orch := job.New(cfg, recipes, geo.NewExpander(cfg.Geo, nil), pipe, st, progress.NewRegistry())

	var breaker monitoring.BreakerProber
	if censusClient != nil {
		breaker = censusClient
	}
	collector := monitoring.NewCollector(version, orch, st, breaker)
	checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)

	return &engineEnv{
		Pool:         pool,
		Warehouse:    wh,
		Census:       censusClient,
		Store:        st,
		Orchestrator: orch,
		Collector:    collector,
		Checker:      checker,
	}, nil
}

// initNarrator builds the provider chain from whatever AI keys are
// configured. With no keys it returns nil and reports degrade to
// tables-only with a warning.
func initNarrator(ctx context.Context) pipeline.Narrator {
	var providers []ai.Client

	addAnthropic := func() {
		if cfg.AI.AnthropicAPIKey == "" {
			return
		}
		providers = append(providers, ai.NewAnthropic(cfg.AI.AnthropicAPIKey, cfg.AI.AnthropicModel))
	}
	addGemini := func() {
		if cfg.AI.GeminiAPIKey == "" {
			return
		}
		g, err := ai.NewGemini(ctx, cfg.AI.GeminiAPIKey, cfg.AI.GeminiModel)
		if err != nil {
			zap.L().Warn("gemini init failed, provider skipped", zap.Error(err))
			return
		}
		providers = append(providers, g)
	}

	if cfg.AI.Primary == "gemini" {
		addGemini()
		addAnthropic()
	} else {
		addAnthropic()
		addGemini()
	}

	if len(providers) == 0 {
		return nil
	}

	chain := ai.NewChain(providers,
		ai.WithSectionTimeout(cfg.AI.SectionTimeout),
		ai.WithMaxConcurrent(cfg.AI.MaxConcurrent),
		ai.WithGenerationDefaults(int64(cfg.AI.MaxTokens), cfg.AI.Temperature),
	)
	return narrative.NewAssembler(chain)
}
