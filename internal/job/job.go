// Package job owns the analysis job lifecycle: submission validates and
// expands the request synchronously, execution runs detached under the
// per-job wall clock, and every state change flows through the job state
// machine. Jobs keep running and persist their reports whether or not
// anyone subscribed to their progress.
package job

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/justdata-platform/justdata/internal/config"
	"github.com/justdata-platform/justdata/internal/model"
	"github.com/justdata-platform/justdata/internal/pipeline"
	"github.com/justdata-platform/justdata/internal/progress"
	"github.com/justdata-platform/justdata/internal/recipe"
)

// ErrNotFound marks an unknown job id.
var ErrNotFound = eris.New("job: not found")

// saveTimeout bounds report persistence after a run finishes. Separate
// from the wall clock so a job that computed in time cannot lose its
// report to the deadline.
const saveTimeout = 30 * time.Second

// Runner executes one validated job. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, j pipeline.Job) (*model.Report, []model.Warning, error)
}

// Expander resolves a geography selector to county codes. *geo.Expander
// implements it.
type Expander interface {
	Expand(ctx context.Context, sel model.GeographySelector) ([]string, error)
}

// Store persists finalized reports. *reportstore.Store implements it.
type Store interface {
	Save(ctx context.Context, r *model.Report) error
}

// record is the mutable job table entry, guarded by Orchestrator.mu.
type record struct {
	id          string
	app         string
	state       model.JobState
	cancel      context.CancelFunc
	request     model.AnalysisRequest
	recipe      recipe.Recipe
	counties    []string
	errMsg      string
	warnings    []model.Warning
	submittedAt time.Time
	startedAt   *time.Time
	finishedAt  *time.Time
}

// Orchestrator runs analysis jobs. Safe for concurrent use.
type Orchestrator struct {
	cfg      *config.Config
	recipes  *recipe.Registry
	expander Expander
	runner   Runner
	store    Store
	hubs     *progress.Registry

	mu   sync.Mutex
	jobs map[string]*record
}

// New creates an orchestrator. The store may be nil only in tests that
// never let a job succeed.
func New(cfg *config.Config, recipes *recipe.Registry, expander Expander, runner Runner, store Store, hubs *progress.Registry) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		recipes:  recipes,
		expander: expander,
		runner:   runner,
		store:    store,
		hubs:     hubs,
		jobs:     make(map[string]*record),
	}
}

// Submit validates the request, expands its geography, and starts the job
// detached from the caller's context. Validation problems come back as
// *model.ValidationError; the job id returns as soon as the job is queued.
func (o *Orchestrator) Submit(ctx context.Context, req model.AnalysisRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	rec, err := o.recipes.ForApp(req.App)
	if err != nil {
		return "", &model.ValidationError{Field: "app", Reason: "unknown application " + req.App}
	}
	if err := req.ValidateYears(rec.Domain); err != nil {
		return "", err
	}
	counties, err := o.expander.Expand(ctx, req.Geography)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	wallClock := o.cfg.Jobs.WallClock
	if wallClock <= 0 {
		wallClock = 20 * time.Minute
	}
	// The run context descends from Background, not the request: jobs
	// outlive the submitting HTTP request.
	runCtx, cancel := context.WithTimeout(context.Background(), wallClock)

	r := &record{
		id:          id,
		app:         req.App,
		state:       model.JobQueued,
		cancel:      cancel,
		request:     req,
		recipe:      rec,
		counties:    counties,
		submittedAt: time.Now().UTC(),
	}
	o.mu.Lock()
	o.jobs[id] = r
	queued := 0
	for _, j := range o.jobs {
		if j.state == model.JobQueued {
			queued++
		}
	}
	o.mu.Unlock()
	hub := o.hubs.Create(id)

	if warnAt := o.cfg.Jobs.QueueWarnThreshold; warnAt > 0 && queued > warnAt {
		zap.L().Warn("job: queue depth above threshold",
			zap.Int("queued", queued),
			zap.Int("threshold", warnAt))
	}

	zap.L().Info("job: submitted",
		zap.String("job_id", id),
		zap.String("app", req.App),
		zap.Int("counties", len(counties)),
		zap.Ints("years", req.Years))

	go o.execute(runCtx, cancel, r, hub)
	return id, nil
}

// Get returns the polling view of a job.
func (o *Orchestrator) Get(jobID string) (model.JobStatus, error) {
	o.mu.Lock()
	r, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return model.JobStatus{}, ErrNotFound
	}
	status := model.JobStatus{
		JobID:       r.id,
		App:         r.app,
		State:       r.state,
		Error:       r.errMsg,
		Warnings:    r.warnings,
		SubmittedAt: r.submittedAt,
		StartedAt:   r.startedAt,
		FinishedAt:  r.finishedAt,
	}
	if r.state == model.JobSucceeded {
		status.ReportID = r.id
	}
	o.mu.Unlock()

	if hub, ok := o.hubs.Get(jobID); ok {
		if last, ok := hub.Last(); ok {
			status.LastEvent = &last
		}
	}
	return status, nil
}

// Cancel requests cooperative cancellation. True means the signal was
// delivered to a non-terminal job; the state becomes Cancelled once the
// pipeline unwinds (immediately for jobs still queued). Terminal jobs
// return false.
func (o *Orchestrator) Cancel(jobID string) bool {
	o.mu.Lock()
	r, ok := o.jobs[jobID]
	if !ok || r.state.IsTerminal() {
		o.mu.Unlock()
		return false
	}
	queued := r.state == model.JobQueued
	if queued {
		o.transitionLocked(r, model.JobCancelled, "cancelled before start")
	}
	cancel := r.cancel
	o.mu.Unlock()

	cancel()
	if queued {
		o.publishTerminal(r.id, model.JobCancelled, "cancelled")
	}
	zap.L().Info("job: cancel requested", zap.String("job_id", jobID))
	return true
}

// Subscribe attaches to a job's progress stream.
func (o *Orchestrator) Subscribe(jobID string) (*progress.Subscription, error) {
	hub, ok := o.hubs.Get(jobID)
	if !ok {
		return nil, ErrNotFound
	}
	return hub.Subscribe(), nil
}

// Counts returns the number of jobs per state, for the monitoring
// snapshot.
func (o *Orchestrator) Counts() map[model.JobState]int {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[model.JobState]int, len(o.jobs))
	for _, r := range o.jobs {
		out[r.state]++
	}
	return out
}

// execute runs one job to a terminal state. It owns the Queued→Running
// transition; a cancel that won the race leaves the state terminal and
// the run never starts.
func (o *Orchestrator) execute(ctx context.Context, cancel context.CancelFunc, r *record, hub *progress.Hub) {
	defer cancel()

	o.mu.Lock()
	if r.state != model.JobQueued {
		o.mu.Unlock()
		return
	}
	o.transitionLocked(r, model.JobRunning, "")
	now := time.Now().UTC()
	r.startedAt = &now
	o.mu.Unlock()

	report, warnings, err := o.runner.Run(ctx, pipeline.Job{
		ID:       r.id,
		Request:  r.request,
		Recipe:   r.recipe,
		Counties: r.counties,
		Reporter: hubReporter{hub: hub},
	})

	if err != nil {
		state := model.JobFailed
		if model.IsCancelled(err) {
			state = model.JobCancelled
		}
		o.finish(r, state, err.Error(), nil)
		o.publishTerminal(r.id, state, model.FailureReason(err))
		zap.L().Warn("job: finished without report",
			zap.String("job_id", r.id),
			zap.String("state", string(state)),
			zap.Error(err))
		return
	}

	saveCtx, cancelSave := context.WithTimeout(context.Background(), saveTimeout)
	defer cancelSave()
	if err := o.store.Save(saveCtx, report); err != nil {
		serr := &model.StorageError{Err: err}
		o.finish(r, model.JobFailed, serr.Error(), warnings)
		o.publishTerminal(r.id, model.JobFailed, model.FailureReason(serr))
		zap.L().Error("job: report persistence failed",
			zap.String("job_id", r.id), zap.Error(err))
		return
	}

	o.finish(r, model.JobSucceeded, "", warnings)
	hub.Publish(model.ProgressEvent{
		Percent:  100,
		Status:   "complete",
		Terminal: true,
		State:    model.JobSucceeded,
	})
	zap.L().Info("job: succeeded",
		zap.String("job_id", r.id),
		zap.Int("warnings", len(warnings)))
}

func (o *Orchestrator) finish(r *record, state model.JobState, errMsg string, warnings []model.Warning) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitionLocked(r, state, errMsg)
	r.warnings = warnings
	now := time.Now().UTC()
	r.finishedAt = &now
}

// transitionLocked applies a state change through the state machine guard.
// An illegal edge is a programming error; it is logged and dropped rather
// than corrupting a terminal state.
func (o *Orchestrator) transitionLocked(r *record, to model.JobState, errMsg string) {
	if !model.CanTransition(r.state, to) {
		zap.L().Error("job: illegal state transition dropped",
			zap.String("job_id", r.id),
			zap.String("from", string(r.state)),
			zap.String("to", string(to)))
		return
	}
	r.state = to
	if errMsg != "" {
		r.errMsg = errMsg
	}
}

// publishTerminal emits the final event for failed and cancelled jobs.
// Percent 0 rides the hub's never-decreases clamp, so the event keeps the
// last reached percent instead of claiming completion.
func (o *Orchestrator) publishTerminal(jobID string, state model.JobState, reason string) {
	hub, ok := o.hubs.Get(jobID)
	if !ok {
		return
	}
	status := "failed"
	if state == model.JobCancelled {
		status = "cancelled"
	}
	hub.Publish(model.ProgressEvent{
		Status:   status,
		Terminal: true,
		State:    state,
		Reason:   reason,
	})
}

// hubReporter bridges pipeline progress onto the job's hub.
type hubReporter struct {
	hub *progress.Hub
}

func (h hubReporter) Progress(percent float64, status, substep string) {
	h.hub.Publish(model.ProgressEvent{
		Percent: percent,
		Status:  status,
		Substep: substep,
	})
}
