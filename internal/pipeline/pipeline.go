// Package pipeline sequences one analysis job from validated request to
// finalized report: build the warehouse query, execute it, aggregate,
// join census demographics, author narratives, and stamp metadata. Every
// stage boundary is a cancellation checkpoint and a progress milestone.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/justdata-platform/justdata/internal/aggregate"
	"github.com/justdata-platform/justdata/internal/config"
	"github.com/justdata-platform/justdata/internal/model"
	"github.com/justdata-platform/justdata/internal/query"
	"github.com/justdata-platform/justdata/internal/recipe"
	"github.com/justdata-platform/justdata/internal/resilience"
	"github.com/justdata-platform/justdata/internal/warehouse"
	"github.com/justdata-platform/justdata/pkg/census"
)

// Stage names, in execution order. Narrative stages are reported as
// "narrative-section:<name>" per section.
const (
	StageValidate   = "validate"
	StageBuildQuery = "build-query"
	StageWarehouse  = "warehouse-execute"
	StageAggregate  = "aggregate"
	StageCensus     = "census-join"
	StageNarrative  = "narrative-section:"
	StageFinalize   = "finalize"
)

// Progress percent milestones. The warehouse and census stages dominate
// wall time, so they own the widest bands; the orchestrator publishes the
// terminal 100 itself.
const (
	pctValidate      = 2
	pctBuildQuery    = 5
	pctWarehouse     = 8
	pctWarehouseDone = 40
	pctAggregate     = 45
	pctCensus        = 58
	pctCensusDone    = 72
	pctNarrative     = 75
	pctNarrativeDone = 95
	pctFinalize      = 97
)

// Reporter receives non-terminal progress from a running pipeline. The
// orchestrator bridges it onto the job's progress hub.
type Reporter interface {
	Progress(percent float64, status, substep string)
}

// NopReporter discards progress. Detached runs and tests use it.
type NopReporter struct{}

func (NopReporter) Progress(float64, string, string) {}

// CensusClient is the slice of pkg/census the join stage needs.
type CensusClient interface {
	CountyDemographics(ctx context.Context, counties []string, vintage census.Vintage) ([]census.DemographicsRow, error)
	TractDistributions(ctx context.Context, counties []string, vintage census.Vintage) ([]census.TractRow, error)
}

// Narrator authors the requested narrative sections against a report whose
// tables are final. *narrative.Assembler implements it.
type Narrator interface {
	All(ctx context.Context, r *model.Report, sections []model.NarrativeSection, onSection func(model.NarrativeSection)) (map[model.NarrativeSection]string, []model.Warning)
}

// BoundaryLoader fetches tract outlines for map-backed recipes.
// *geo.BoundaryLoader implements it.
type BoundaryLoader interface {
	TractBoundaries(ctx context.Context, counties []string) ([]model.TractBoundary, error)
}

// Job is one validated unit of work: the submitted request, its resolved
// recipe, and the county set the geography selector expanded to.
type Job struct {
	ID       string
	Request  model.AnalysisRequest
	Recipe   recipe.Recipe
	Counties []string
	Reporter Reporter
}

// Pipeline runs analysis jobs. Safe for concurrent use; jobs share the
// clients and nothing else.
type Pipeline struct {
	cfg        *config.Config
	warehouse  warehouse.Client
	census     CensusClient
	narrator   Narrator
	boundaries BoundaryLoader
	stageRetry resilience.RetryConfig
	version    string
}

// New creates a pipeline. census, narrator, and boundaries may be nil when
// the deployment lacks the corresponding credentials; the affected stages
// degrade per the warning policy instead of failing jobs.
func New(cfg *config.Config, wh warehouse.Client, censusClient CensusClient, narrator Narrator, boundaries BoundaryLoader, version string) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		warehouse:  wh,
		census:     censusClient,
		narrator:   narrator,
		boundaries: boundaries,
		stageRetry: resilience.WarehouseStageRetryConfig(),
		version:    version,
	}
}

// Run executes the job and returns the finalized report. Warnings are
// returned alongside the report and also stamped into its metadata; a
// non-nil error means no report exists and the job failed or was
// cancelled.
func (p *Pipeline) Run(ctx context.Context, job Job) (*model.Report, []model.Warning, error) {
	rep := job.Reporter
	if rep == nil {
		rep = NopReporter{}
	}
	log := zap.L().With(zap.String("job_id", job.ID), zap.String("app", job.Recipe.Name))
	log.Info("pipeline: starting analysis",
		zap.Int("counties", len(job.Counties)),
		zap.Ints("years", job.Request.Years))

	var (
		timings  []model.StageTiming
		warnings []model.Warning
	)

	runStage := func(name string, pct float64, fn func() error) error {
		if err := checkpoint(ctx, name); err != nil {
			return err
		}
		rep.Progress(pct, name, "")
		start := time.Now()
		err := fn()
		elapsed := time.Since(start)
		timings = append(timings, model.StageTiming{Stage: name, Millis: elapsed.Milliseconds()})
		if err != nil {
			log.Error("pipeline: stage failed",
				zap.String("stage", name),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
			return err
		}
		log.Info("pipeline: stage complete",
			zap.String("stage", name),
			zap.Duration("elapsed", elapsed))
		return nil
	}

	// validate: resolve the canonical filter and the effective tuning. The
	// request was already validated at submit; re-checking here keeps the
	// stage honest when jobs arrive by other paths.
	var (
		f           model.FilterSet
		denominator model.Denominator
		sections    []model.NarrativeSection
	)
	if err := runStage(StageValidate, pctValidate, func() error {
		if err := job.Request.Validate(); err != nil {
			return err
		}
		if err := job.Request.ValidateYears(job.Recipe.Domain); err != nil {
			return err
		}
		f = job.Request.FilterSet(job.Recipe.Domain, job.Counties)
		denominator = job.Recipe.Denominator
		if job.Request.Denominator != "" {
			denominator = job.Request.Denominator
		}
		sections = job.Recipe.NarrativeSections
		if job.Request.NarrativeSections != nil {
			sections = job.Request.NarrativeSections
		}
		return nil
	}); err != nil {
		return nil, warnings, err
	}

	var (
		q    warehouse.Query
		proj query.Projection
	)
	if err := runStage(StageBuildQuery, pctBuildQuery, func() error {
		build, err := query.ForDomain(job.Recipe.Domain)
		if err != nil {
			return err
		}
		q, proj, err = build(f)
		if err != nil {
			return err
		}
		if job.Recipe.QueryTimeout > 0 {
			q.Timeout = job.Recipe.QueryTimeout
		}
		return nil
	}); err != nil {
		return nil, warnings, err
	}

	// warehouse-execute: the client classifies errors; the stage retries
	// whole executions on the transient kind and fails fast otherwise.
	var table *warehouse.Table
	if err := runStage(StageWarehouse, pctWarehouse, func() error {
		retryCfg := p.stageRetry
		retryCfg.ShouldRetry = func(err error) bool {
			var transient *model.WarehouseTransientError
			return errors.As(err, &transient)
		}
		retryCfg.OnRetry = func(attempt int, err error) {
			log.Warn("pipeline: retrying warehouse stage",
				zap.Int("attempt", attempt),
				zap.Error(err))
			rep.Progress(pctWarehouse, StageWarehouse,
				fmt.Sprintf("attempt %d/%d", attempt+1, retryCfg.MaxAttempts))
		}
		var err error
		table, err = resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*warehouse.Table, error) {
			return p.warehouse.Execute(ctx, q)
		})
		if err != nil {
			return err
		}
		rep.Progress(pctWarehouseDone, StageWarehouse, fmt.Sprintf("rows=%d", table.Len()))
		return nil
	}); err != nil {
		return nil, warnings, err
	}

	var tables *aggregate.Tables
	if err := runStage(StageAggregate, pctAggregate, func() error {
		opts := aggregate.Options{
			TopN:               job.Recipe.TopLenderN,
			ConcentrationBasis: job.Recipe.ConcentrationBasis,
			Denominator:        denominator,
			Years:              f.Years,
			SubjectLenderID:    f.SubjectLenderID,
			Band:               f.Band(),
			CollectBranches:    job.Recipe.HasTable(recipe.TableBranches),
		}
		var err error
		tables, err = aggregate.Run(table, proj, opts)
		if err != nil {
			return err
		}
		warnings = append(warnings, tables.Warnings...)
		return nil
	}); err != nil {
		return nil, warnings, err
	}

	r := &model.Report{Narratives: map[model.NarrativeSection]string{}}

	if err := runStage(StageCensus, pctCensus, func() error {
		joinWarnings, err := p.censusJoin(ctx, job, f, denominator, tables, r, rep)
		warnings = append(warnings, joinWarnings...)
		return err
	}); err != nil {
		return nil, warnings, err
	}

	assembleReport(job.Recipe, tables, r)

	// The metadata header goes on before narratives; prompts read it.
	r.Metadata = model.Metadata{
		JobID:              job.ID,
		DataDomain:         job.Recipe.Domain,
		Recipe:             job.Recipe.Name,
		FilterSet:          f,
		Vintages:           job.Recipe.Vintages,
		QueryHash:          f.Hash(),
		Denominator:        denominator,
		ConcentrationBasis: job.Recipe.ConcentrationBasis,
		TopLenderN:         job.Recipe.TopLenderN,
		CreatedAt:          time.Now().UTC(),
		Version:            p.version,
	}

	// Narratives come last among the data stages: the tables they describe
	// are final, and a failed section degrades to a warning.
	if len(sections) > 0 && p.narrator != nil {
		if err := checkpoint(ctx, "narrative"); err != nil {
			return nil, warnings, err
		}
		start := time.Now()
		span := float64(pctNarrativeDone - pctNarrative)
		idx := 0
		prose, narrWarnings := p.narrator.All(ctx, r, sections, func(s model.NarrativeSection) {
			rep.Progress(pctNarrative+span*float64(idx)/float64(len(sections)), StageNarrative+string(s), "")
			idx++
		})
		r.Narratives = prose
		warnings = append(warnings, narrWarnings...)
		timings = append(timings, model.StageTiming{Stage: "narrative", Millis: time.Since(start).Milliseconds()})
	} else if len(sections) > 0 {
		log.Info("pipeline: no narrative provider configured, skipping sections",
			zap.Int("sections", len(sections)))
	}

	if err := runStage(StageFinalize, pctFinalize, func() error {
		if err := tables.Verify(); err != nil {
			return eris.Wrap(err, "pipeline: invariant violation")
		}
		// Warnings settle only now; narratives may have added some.
		r.Metadata.Warnings = warnings
		return nil
	}); err != nil {
		return nil, warnings, err
	}
	r.Metadata.Timings = timings

	log.Info("pipeline: analysis complete",
		zap.Int("summary_rows", len(r.Summary)),
		zap.Int("warnings", len(warnings)))
	return r, warnings, nil
}

// assembleReport copies the recipe's table subset onto the report. The
// engine computes every table; the recipe decides the surface.
func assembleReport(rec recipe.Recipe, tables *aggregate.Tables, r *model.Report) {
	if rec.HasTable(recipe.TableSummary) {
		r.Summary = tables.Summary
	}
	if rec.HasTable(recipe.TableDemographic) {
		r.ByDemographic = tables.ByDemographic
	}
	if rec.HasTable(recipe.TableIncomeNeighborhood) {
		r.ByIncomeNeighborhood = tables.ByIncomeNeighborhood
	}
	if rec.HasTable(recipe.TableLenders) {
		r.ByLender = tables.ByLender
	}
	if rec.HasTable(recipe.TableLendersByYear) {
		r.ByLenderByYear = tables.ByLenderByYear
	}
	if rec.HasTable(recipe.TableConcentration) {
		r.Concentration = tables.Concentration
	}
	if rec.HasTable(recipe.TableTrends) {
		r.Trends = tables.Trends
	}
	if rec.HasTable(recipe.TablePeerComparison) {
		r.PeerComparison = tables.PeerComparison
	}
	if rec.HasTable(recipe.TableBranches) {
		r.Branches = tables.Branches
	}
}

// checkpoint maps context state at a stage boundary onto the job error
// taxonomy: an exhausted deadline is the wall clock running out, anything
// else is a cancel signal.
func checkpoint(ctx context.Context, stage string) error {
	switch {
	case ctx.Err() == nil:
		return nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &model.TimeoutError{Stage: stage}
	default:
		return &model.CancelledError{}
	}
}
