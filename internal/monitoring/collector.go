package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/justdata-platform/justdata/internal/model"
	"github.com/justdata-platform/justdata/internal/reportstore"
	"github.com/justdata-platform/justdata/internal/resilience"
)

// Snapshot holds a point-in-time view of service health.
type Snapshot struct {
	// Job metrics since process start.
	Jobs        map[model.JobState]int `json:"jobs"`
	JobsTotal   int                    `json:"jobs_total"`
	FailureRate float64                `json:"failure_rate"`

	// Report store.
	ReportsStored int   `json:"reports_stored"`
	StoreBytes    int64 `json:"store_bytes"`

	// Census client circuit breaker.
	CensusBreaker string `json:"census_breaker"`

	// Metadata.
	Version       string    `json:"version"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	CollectedAt   time.Time `json:"collected_at"`
}

// JobCounter abstracts the orchestrator method needed by the collector.
type JobCounter interface {
	Counts() map[model.JobState]int
}

// StoreStatter abstracts the report store method needed by the collector.
type StoreStatter interface {
	Stats(ctx context.Context) (reportstore.Stats, error)
}

// BreakerProber abstracts the census client circuit breaker probe.
type BreakerProber interface {
	BreakerState() resilience.CircuitState
}

// Collector gathers metrics from the orchestrator, report store and
// census client.
type Collector struct {
	version string
	started time.Time
	jobs    JobCounter
	store   StoreStatter
	census  BreakerProber
}

// NewCollector creates a new metrics collector.
func NewCollector(version string, jobs JobCounter, store StoreStatter, census BreakerProber) *Collector {
	return &Collector{
		version: version,
		started: time.Now().UTC(),
		jobs:    jobs,
		store:   store,
		census:  census,
	}
}

// Snapshot gathers a point-in-time snapshot of service metrics.
func (c *Collector) Snapshot(ctx context.Context) (*Snapshot, error) {
	now := time.Now().UTC()
	snap := &Snapshot{
		Version:       c.version,
		UptimeSeconds: int64(now.Sub(c.started).Seconds()),
		CollectedAt:   now,
	}

	snap.Jobs = c.jobs.Counts()
	for _, n := range snap.Jobs {
		snap.JobsTotal += n
	}
	finished := snap.Jobs[model.JobSucceeded] + snap.Jobs[model.JobFailed] + snap.Jobs[model.JobCancelled]
	if finished > 0 {
		snap.FailureRate = float64(snap.Jobs[model.JobFailed]) / float64(finished)
	}

	stats, err := c.store.Stats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: store stats")
	}
	snap.ReportsStored = stats.Reports
	snap.StoreBytes = stats.Bytes

	if c.census != nil {
		snap.CensusBreaker = c.census.BreakerState().String()
	}

	return snap, nil
}
