package job

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/justdata-platform/justdata/internal/config"
	"github.com/justdata-platform/justdata/internal/model"
	"github.com/justdata-platform/justdata/internal/pipeline"
	"github.com/justdata-platform/justdata/internal/progress"
	"github.com/justdata-platform/justdata/internal/recipe"
)

// stubRunner scripts the pipeline outcome. When block is set the run
// waits for ctx cancellation and reports a cooperative cancel.
type stubRunner struct {
	mu     sync.Mutex
	runs   int
	block  bool
	report *model.Report
	warns  []model.Warning
	err    error
	emit   []model.ProgressEvent
}

func (s *stubRunner) Run(ctx context.Context, j pipeline.Job) (*model.Report, []model.Warning, error) {
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()
	for _, ev := range s.emit {
		j.Reporter.Progress(ev.Percent, ev.Status, ev.Substep)
	}
	if s.block {
		<-ctx.Done()
		return nil, nil, &model.CancelledError{}
	}
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.report, s.warns, nil
}

func (s *stubRunner) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

type stubStore struct {
	mu    sync.Mutex
	saved []*model.Report
	err   error
}

func (s *stubStore) Save(ctx context.Context, r *model.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, r)
	return nil
}

func (s *stubStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// stubExpander echoes the county selection without touching reference
// files.
type stubExpander struct{ err error }

func (s *stubExpander) Expand(ctx context.Context, sel model.GeographySelector) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return sel.Counties, nil
}

func validRequest() model.AnalysisRequest {
	return model.AnalysisRequest{
		App:       recipe.AppMortgage,
		Geography: model.GeographySelector{Counties: []string{"24031"}},
		Years:     []int{2022},
	}
}

func newOrchestrator(runner Runner, store Store) *Orchestrator {
	cfg := &config.Config{Jobs: config.JobsConfig{WallClock: 5 * time.Second}}
	return New(cfg, recipe.NewRegistry(), &stubExpander{}, runner, store, progress.NewRegistry())
}

// waitTerminal subscribes and blocks until the job's terminal event.
func waitTerminal(t *testing.T, o *Orchestrator, id string) model.ProgressEvent {
	t.Helper()
	sub, err := o.Subscribe(id)
	require.NoError(t, err)
	defer sub.Cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "stream closed without a terminal event")
			if ev.Terminal {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for terminal event")
		}
	}
}

func TestSubmit_Validation(t *testing.T) {
	o := newOrchestrator(&stubRunner{}, &stubStore{})

	t.Run("unknown app", func(t *testing.T) {
		req := validRequest()
		req.App = "astrology"
		_, err := o.Submit(context.Background(), req)
		var verr *model.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "app", verr.Field)
	})

	t.Run("year outside domain range", func(t *testing.T) {
		req := validRequest()
		req.Years = []int{2005}
		_, err := o.Submit(context.Background(), req)
		var verr *model.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "years", verr.Field)
	})

	t.Run("empty geography", func(t *testing.T) {
		req := validRequest()
		req.Geography = model.GeographySelector{}
		_, err := o.Submit(context.Background(), req)
		var verr *model.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "geography", verr.Field)
	})

	t.Run("expansion failure", func(t *testing.T) {
		bad := newOrchestrator(&stubRunner{}, &stubStore{})
		bad.expander = &stubExpander{err: &model.ValidationError{Field: "geography.metros", Reason: `unknown CBSA code "99999"`}}
		_, err := bad.Submit(context.Background(), validRequest())
		var verr *model.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "geography.metros", verr.Field)
	})

	// Nothing ran.
	assert.Equal(t, map[model.JobState]int{}, o.Counts())
}

func TestSubmit_SuccessLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	report := &model.Report{Narratives: map[model.NarrativeSection]string{}}
	warns := []model.Warning{{Code: model.WarnCensusUnavailable}}
	runner := &stubRunner{
		report: report,
		warns:  warns,
		emit: []model.ProgressEvent{
			{Percent: 2, Status: "validate"},
			{Percent: 45, Status: "aggregate"},
			{Percent: 97, Status: "finalize"},
		},
	}
	store := &stubStore{}
	o := newOrchestrator(runner, store)

	id, err := o.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	final := waitTerminal(t, o, id)
	assert.True(t, final.Terminal)
	assert.Equal(t, model.JobSucceeded, final.State)
	assert.Equal(t, 100.0, final.Percent)
	assert.Equal(t, "complete", final.Status)

	status, err := o.Get(id)
	require.NoError(t, err)
	assert.Equal(t, model.JobSucceeded, status.State)
	assert.Equal(t, id, status.ReportID)
	assert.Equal(t, warns, status.Warnings)
	assert.NotNil(t, status.StartedAt)
	assert.NotNil(t, status.FinishedAt)
	require.NotNil(t, status.LastEvent)
	assert.True(t, status.LastEvent.Terminal)

	assert.Equal(t, 1, store.count())
	assert.Equal(t, 1, runner.runCount())
	assert.Equal(t, map[model.JobState]int{model.JobSucceeded: 1}, o.Counts())
}

func TestSubmit_FailureRecordsReason(t *testing.T) {
	runner := &stubRunner{err: &model.WarehouseFatalError{Kind: model.WarehouseQuery, Err: eris.New("bad sql")}}
	store := &stubStore{}
	o := newOrchestrator(runner, store)

	id, err := o.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	final := waitTerminal(t, o, id)
	assert.Equal(t, model.JobFailed, final.State)
	assert.Equal(t, "warehouse-query", final.Reason)
	assert.Equal(t, "failed", final.Status)

	status, err := o.Get(id)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, status.State)
	assert.NotEmpty(t, status.Error)
	assert.Empty(t, status.ReportID)
	assert.Zero(t, store.count(), "failed jobs must not persist artifacts")
}

func TestStorageFailureFailsJob(t *testing.T) {
	runner := &stubRunner{report: &model.Report{}}
	store := &stubStore{err: eris.New("disk full")}
	o := newOrchestrator(runner, store)

	id, err := o.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	final := waitTerminal(t, o, id)
	assert.Equal(t, model.JobFailed, final.State)
	assert.Equal(t, "storage", final.Reason)
}

func TestCancel_RunningJob(t *testing.T) {
	runner := &stubRunner{block: true}
	store := &stubStore{}
	o := newOrchestrator(runner, store)

	id, err := o.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	// Wait for the run to start before cancelling.
	require.Eventually(t, func() bool {
		status, err := o.Get(id)
		return err == nil && status.State == model.JobRunning
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, o.Cancel(id))

	final := waitTerminal(t, o, id)
	assert.Equal(t, model.JobCancelled, final.State)
	assert.Equal(t, "cancelled", final.Reason)
	assert.Zero(t, store.count(), "cancelled jobs must not persist artifacts")

	// Terminal states are sticky.
	assert.False(t, o.Cancel(id))
	status, err := o.Get(id)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, status.State)
}

func TestCancel_UnknownJob(t *testing.T) {
	o := newOrchestrator(&stubRunner{}, &stubStore{})
	assert.False(t, o.Cancel("nope"))
}

func TestGetAndSubscribe_UnknownJob(t *testing.T) {
	o := newOrchestrator(&stubRunner{}, &stubStore{})

	_, err := o.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = o.Subscribe("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscribe_AfterTerminalReplaysFinalEvent(t *testing.T) {
	runner := &stubRunner{report: &model.Report{}}
	o := newOrchestrator(runner, &stubStore{})

	id, err := o.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	waitTerminal(t, o, id)

	sub, err := o.Subscribe(id)
	require.NoError(t, err)
	defer sub.Cancel()

	ev, ok := <-sub.Events()
	require.True(t, ok)
	assert.True(t, ev.Terminal)
	assert.Equal(t, model.JobSucceeded, ev.State)
	_, open := <-sub.Events()
	assert.False(t, open, "synthetic final event should be the only one")
}

// Two concurrent jobs must not share progress streams or state.
func TestConcurrentJobsIsolated(t *testing.T) {
	runner := &stubRunner{
		report: &model.Report{},
		emit: []model.ProgressEvent{
			{Percent: 10, Status: "validate"},
			{Percent: 50, Status: "aggregate"},
			{Percent: 97, Status: "finalize"},
		},
	}
	o := newOrchestrator(runner, &stubStore{})

	idA, err := o.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	idB, err := o.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	require.NotEqual(t, idA, idB)

	for _, id := range []string{idA, idB} {
		sub, err := o.Subscribe(id)
		require.NoError(t, err)

		var events []model.ProgressEvent
		deadline := time.After(2 * time.Second)
	collect:
		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					break collect
				}
				events = append(events, ev)
				if ev.Terminal {
					break collect
				}
			case <-deadline:
				t.Fatal("timed out collecting events")
			}
		}
		sub.Cancel()

		require.NotEmpty(t, events)
		for i := 1; i < len(events); i++ {
			assert.Greater(t, events[i].Seq, events[i-1].Seq)
			assert.GreaterOrEqual(t, events[i].Percent, events[i-1].Percent)
		}
		assert.True(t, events[len(events)-1].Terminal)
	}

	assert.Equal(t, 2, runner.runCount())
	assert.Equal(t, map[model.JobState]int{model.JobSucceeded: 2}, o.Counts())
}
