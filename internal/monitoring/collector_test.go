package monitoring

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justdata-platform/justdata/internal/model"
	"github.com/justdata-platform/justdata/internal/reportstore"
	"github.com/justdata-platform/justdata/internal/resilience"
)

// mockJobs implements JobCounter for testing.
type mockJobs struct {
	counts map[model.JobState]int
}

func (m *mockJobs) Counts() map[model.JobState]int {
	if m.counts == nil {
		return map[model.JobState]int{}
	}
	return m.counts
}

// mockStore implements StoreStatter for testing.
type mockStore struct {
	stats reportstore.Stats
	err   error
}

func (m *mockStore) Stats(context.Context) (reportstore.Stats, error) {
	return m.stats, m.err
}

// mockBreaker implements BreakerProber for testing.
type mockBreaker struct {
	state resilience.CircuitState
}

func (m *mockBreaker) BreakerState() resilience.CircuitState { return m.state }

func TestCollector_EmptyService(t *testing.T) {
	c := NewCollector("1.2.3", &mockJobs{}, &mockStore{}, &mockBreaker{})

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "1.2.3", snap.Version)
	assert.Equal(t, 0, snap.JobsTotal)
	assert.Equal(t, 0.0, snap.FailureRate)
	assert.Equal(t, 0, snap.ReportsStored)
	assert.Equal(t, "closed", snap.CensusBreaker)
	assert.GreaterOrEqual(t, snap.UptimeSeconds, int64(0))
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_JobMetrics(t *testing.T) {
	jobs := &mockJobs{counts: map[model.JobState]int{
		model.JobQueued:    1,
		model.JobRunning:   3,
		model.JobSucceeded: 6,
		model.JobFailed:    2,
		model.JobCancelled: 1,
	}}

	c := NewCollector("dev", jobs, &mockStore{}, &mockBreaker{})
	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 13, snap.JobsTotal)
	assert.Equal(t, 6, snap.Jobs[model.JobSucceeded])
	assert.InDelta(t, 2.0/9.0, snap.FailureRate, 0.001) // 2 failed / 9 finished
}

func TestCollector_StoreStats(t *testing.T) {
	st := &mockStore{stats: reportstore.Stats{Reports: 4, Bytes: 2048}}

	c := NewCollector("dev", &mockJobs{}, st, &mockBreaker{})
	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, snap.ReportsStored)
	assert.Equal(t, int64(2048), snap.StoreBytes)
}

func TestCollector_StoreStatsError(t *testing.T) {
	st := &mockStore{err: eris.New("catalog gone")}

	c := NewCollector("dev", &mockJobs{}, st, &mockBreaker{})
	_, err := c.Snapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store stats")
}

func TestCollector_BreakerStates(t *testing.T) {
	c := NewCollector("dev", &mockJobs{}, &mockStore{}, &mockBreaker{state: resilience.CircuitOpen})
	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "open", snap.CensusBreaker)
}

func TestCollector_NilBreaker(t *testing.T) {
	c := NewCollector("dev", &mockJobs{}, &mockStore{}, nil)
	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.CensusBreaker)
}

func TestCollector_FailureRateZeroFinished(t *testing.T) {
	jobs := &mockJobs{counts: map[model.JobState]int{
		model.JobQueued:  2,
		model.JobRunning: 1,
	}}

	c := NewCollector("dev", jobs, &mockStore{}, &mockBreaker{})
	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)

	// No finished jobs, so failure rate should be 0.
	assert.Equal(t, 0.0, snap.FailureRate)
}
