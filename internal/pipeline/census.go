package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/justdata-platform/justdata/internal/aggregate"
	"github.com/justdata-platform/justdata/internal/demography"
	"github.com/justdata-platform/justdata/internal/model"
	"github.com/justdata-platform/justdata/pkg/census"
)

// censusJoin attaches demographic context to the report: per-vintage
// county breakdowns fetched in parallel, minority-quartile rows derived
// from the tract distribution, population shares on byDemographic, and
// tract rings for map recipes. Census failures degrade to a warning and
// an empty context; only job cancellation aborts the stage.
func (p *Pipeline) censusJoin(ctx context.Context, job Job, f model.FilterSet, denominator model.Denominator, tables *aggregate.Tables, r *model.Report, rep Reporter) ([]model.Warning, error) {
	var warnings []model.Warning

	switch {
	case p.census == nil:
		zap.L().Info("pipeline: census client not configured, skipping demographic context",
			zap.String("job_id", job.ID))
		warnings = append(warnings, model.Warning{
			Code:   model.WarnCensusUnavailable,
			Detail: "census client not configured",
		})
	case len(job.Recipe.Vintages) == 0:
		// Nothing to join.
	default:
		joinWarnings, err := p.joinDemographics(ctx, job, f, denominator, tables, r, rep)
		warnings = append(warnings, joinWarnings...)
		if err != nil {
			return warnings, err
		}
	}

	if job.Recipe.TractBoundaries && p.boundaries != nil {
		rep.Progress(pctCensusDone, StageCensus, "tract-boundaries")
		bounds, err := p.boundaries.TractBoundaries(ctx, f.Geography)
		if err != nil {
			if cerr := checkpoint(ctx, StageCensus); cerr != nil {
				return warnings, cerr
			}
			zap.L().Warn("pipeline: tract boundaries unavailable",
				zap.String("job_id", job.ID), zap.Error(err))
			warnings = append(warnings, model.Warning{
				Code:   model.WarnCensusUnavailable,
				Detail: "tract boundaries: " + err.Error(),
			})
		} else {
			r.TractBoundaries = bounds
		}
	}

	return warnings, nil
}

// joinDemographics runs the census fetches: one goroutine per vintage for
// county demographics plus one for the tract distribution of the most
// recent vintage, each under its own timeout.
func (p *Pipeline) joinDemographics(ctx context.Context, job Job, f model.FilterSet, denominator model.Denominator, tables *aggregate.Tables, r *model.Report, rep Reporter) ([]model.Warning, error) {
	timeout := p.cfg.Census.TimeoutPerVintage
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	vintages := job.Recipe.Vintages
	latest := latestVintage(vintages)
	rows := make([]model.ContextRow, len(vintages))
	var tractRows []census.TractRow

	// done counts completed fetch units for the substep percent walk; rows
	// and tractRows are written at disjoint places and published by Wait.
	units := len(vintages) + 1
	var mu sync.Mutex
	done := 0
	step := func(substep string) {
		mu.Lock()
		done++
		pct := float64(pctCensus) + float64(pctCensusDone-pctCensus)*float64(done)/float64(units)
		rep.Progress(pct, StageCensus, substep)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, v := range vintages {
		g.Go(func() error {
			vctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			demo, err := p.census.CountyDemographics(vctx, f.Geography, census.Vintage(v))
			if err != nil {
				return err
			}
			counties := make([]demography.CountyPopulation, len(demo))
			for j, d := range demo {
				counties[j] = demography.CountyPopulation{
					TotalPopulation: d.TotalPopulation,
					Populations:     d.Populations,
				}
			}
			rows[i] = demography.WeightedShares(v, counties)
			step("vintage=" + string(v))
			return nil
		})
	}
	g.Go(func() error {
		vctx, cancel := context.WithTimeout(gctx, timeout)
		defer cancel()
		tr, err := p.census.TractDistributions(vctx, f.Geography, census.Vintage(latest))
		if err != nil {
			return err
		}
		tractRows = tr
		step(fmt.Sprintf("tracts=%d", len(tr)))
		return nil
	})

	if err := g.Wait(); err != nil {
		if cerr := checkpoint(ctx, StageCensus); cerr != nil {
			return nil, cerr
		}
		cerr := &model.CensusError{Err: err}
		zap.L().Warn("pipeline: census join degraded",
			zap.String("job_id", job.ID), zap.Error(cerr))
		return []model.Warning{{Code: model.WarnCensusUnavailable, Detail: cerr.Error()}}, nil
	}

	r.DemographicContext = model.DemographicContext{Rows: rows}

	stats := make([]demography.TractStat, 0, len(tractRows))
	for _, t := range tractRows {
		if t.MinorityPct == nil {
			continue
		}
		stats = append(stats, demography.TractStat{
			TractID:     t.TractID,
			Households:  t.Households,
			MinorityPct: *t.MinorityPct,
		})
	}
	if b, ok := demography.QuartileBoundaries(stats); ok {
		tables.AttachQuartileRows(b, denominator, censusQuartileShares(b, stats))
	}

	attachPopulationShares(tables, rows, latest)
	return nil, nil
}

// censusQuartileShares computes each quartile's share of tract households,
// the census-side column set next to the lending share. Nil when the
// distribution carries no households.
func censusQuartileShares(b model.QuartileBoundaries, stats []demography.TractStat) map[model.MinorityQuartile]float64 {
	var total float64
	byQuartile := make(map[model.MinorityQuartile]float64)
	for _, s := range stats {
		w := float64(s.Households)
		if w <= 0 {
			continue
		}
		byQuartile[demography.QuartileFor(b, s.MinorityPct)] += w
		total += w
	}
	if total == 0 {
		return nil
	}
	out := make(map[model.MinorityQuartile]float64, len(byQuartile))
	for q, households := range byQuartile {
		out[q] = households / total * 100
	}
	return out
}

// attachPopulationShares joins the most recent vintage's population shares
// onto the demographic rows. Classes the census does not track keep a nil
// share.
func attachPopulationShares(tables *aggregate.Tables, rows []model.ContextRow, latest model.Vintage) {
	var shares map[string]float64
	for _, row := range rows {
		if row.Vintage == latest {
			shares = row.Shares
			break
		}
	}
	if shares == nil {
		return
	}
	for i := range tables.ByDemographic {
		if v, ok := shares[string(tables.ByDemographic[i].Class)]; ok {
			share := v
			tables.ByDemographic[i].PopulationShare = &share
		}
	}
}

// latestVintage picks the most recent edition in the recipe's set; the
// rolling ACS estimate outranks the decennials.
func latestVintage(vs []model.Vintage) model.Vintage {
	best := vs[0]
	for _, v := range vs[1:] {
		if vintageRank(v) > vintageRank(best) {
			best = v
		}
	}
	return best
}

func vintageRank(v model.Vintage) int {
	switch v {
	case model.VintageLatestACS:
		return 2
	case model.Vintage2020Decennial:
		return 1
	default:
		return 0
	}
}
