package reportstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justdata-platform/justdata/internal/config"
	"github.com/justdata-platform/justdata/internal/model"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := New(config.StoreConfig{
		Root:        filepath.Join(dir, "reports"),
		CatalogPath: filepath.Join(dir, "catalog.db"),
		TTL:         ttl,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleReport(jobID string) *model.Report {
	return &model.Report{
		Metadata: model.Metadata{
			JobID:      jobID,
			DataDomain: model.DomainMortgage,
			Recipe:     "mortgage",
			QueryHash:  "abc123",
			CreatedAt:  time.Now().UTC().Truncate(time.Second),
			Version:    "test",
			Warnings:   []model.Warning{{Code: model.WarnCensusUnavailable, Detail: "offline"}},
		},
		Summary: []model.SummaryRow{
			{CountyCode: "24031", Year: 2022, Total: model.ClassMetric{Count: 10, Amount: 2500}},
		},
		Trends: []model.TrendRow{
			{Year: 2022, Count: 10, Amount: 2500},
		},
		Narratives: map[model.NarrativeSection]string{
			model.SectionKeyFindings: "Lending held steady.",
		},
	}
}

func TestSaveAndGet(t *testing.T) {
	st := newTestStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, sampleReport("job-1")))

	got, err := st.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.Metadata.JobID)
	assert.Equal(t, "mortgage", got.Metadata.Recipe)
	assert.Equal(t, "abc123", got.Metadata.QueryHash)
	require.Len(t, got.Summary, 1)
	assert.Equal(t, int64(10), got.Summary[0].Total.Count)
	assert.Equal(t, "Lending held steady.", got.Narratives[model.SectionKeyFindings])
	require.Len(t, got.Metadata.Warnings, 1)
	assert.Equal(t, model.WarnCensusUnavailable, got.Metadata.Warnings[0].Code)
}

func TestSaveWritesArtifactLayout(t *testing.T) {
	st := newTestStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, sampleReport("job-layout")))

	dir := filepath.Join(st.root, "job-layout")
	for _, name := range []string{
		"report.json",
		"metadata.json",
		filepath.Join("raw", "summary.json"),
		filepath.Join("raw", "trends.json"),
		filepath.Join("raw", "by_lender.json"),
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	// No temp directories left behind.
	entries, err := os.ReadDir(st.root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestSave_RequiresJobID(t *testing.T) {
	st := newTestStore(t, time.Hour)

	r := sampleReport("")
	err := st.Save(context.Background(), r)
	require.Error(t, err)
}

func TestGet_Missing(t *testing.T) {
	st := newTestStore(t, time.Hour)

	_, err := st.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_Expired(t *testing.T) {
	st := newTestStore(t, -time.Hour)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, sampleReport("job-old")))

	_, err := st.Get(ctx, "job-old")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestMetadata(t *testing.T) {
	st := newTestStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, sampleReport("job-meta")))

	m, err := st.Metadata(ctx, "job-meta")
	require.NoError(t, err)
	assert.Equal(t, "job-meta", m.JobID)
	assert.Equal(t, "mortgage", m.Recipe)

	_, err = st.Metadata(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	st := newTestStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, sampleReport("job-del")))
	require.NoError(t, st.Delete(ctx, "job-del"))

	_, err := st.Get(ctx, "job-del")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = os.Stat(filepath.Join(st.root, "job-del"))
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, st.Delete(ctx, "job-del"), ErrNotFound)
}

func TestSweep_RemovesExpiredKeepsTombstone(t *testing.T) {
	st := newTestStore(t, -time.Hour)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, sampleReport("job-swept")))

	swept, err := st.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	_, err = os.Stat(filepath.Join(st.root, "job-swept"))
	assert.True(t, os.IsNotExist(err), "artifact directory should be removed")

	// Expired, not unknown: the catalog row survives as a tombstone.
	_, err = st.Get(ctx, "job-swept")
	assert.ErrorIs(t, err, ErrExpired)
	_, err = st.Metadata(ctx, "job-swept")
	assert.ErrorIs(t, err, ErrExpired)

	// Tombstones are not swept again.
	swept, err = st.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestSweep_LeavesFreshReports(t *testing.T) {
	st := newTestStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, sampleReport("job-fresh")))

	swept, err := st.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)

	got, err := st.Get(ctx, "job-fresh")
	require.NoError(t, err)
	assert.Equal(t, "job-fresh", got.Metadata.JobID)
}

func TestStats(t *testing.T) {
	st := newTestStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, sampleReport("job-a")))
	require.NoError(t, st.Save(ctx, sampleReport("job-b")))

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Reports)
	assert.Positive(t, stats.Bytes)
}

func TestMigrate_Idempotent(t *testing.T) {
	st := newTestStore(t, time.Hour)
	require.NoError(t, st.Migrate(context.Background()))
}
