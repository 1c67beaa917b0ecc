package model

import "time"

// JobState is the lifecycle state of an analysis job.
type JobState string

const (
	JobQueued    JobState = "Queued"
	JobRunning   JobState = "Running"
	JobSucceeded JobState = "Succeeded"
	JobFailed    JobState = "Failed"
	JobCancelled JobState = "Cancelled"
)

// IsTerminal reports whether the state is final. Terminal states are
// sticky; no transition leaves them.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the from→to edge exists in the job state
// machine. Every transition in the orchestrator goes through this guard.
func CanTransition(from, to JobState) bool {
	switch from {
	case JobQueued:
		return to == JobRunning || to == JobCancelled || to == JobFailed
	case JobRunning:
		return to == JobSucceeded || to == JobFailed || to == JobCancelled
	default:
		return false
	}
}

// ProgressEvent is one entry in a job's ordered progress stream. Seq is
// strictly increasing per job; Percent never decreases. Terminal events
// carry the final state and, for failures, the reason.
type ProgressEvent struct {
	Seq      uint64   `json:"seq"`
	Percent  float64  `json:"percent"`
	Status   string   `json:"status"`
	Substep  string   `json:"substep,omitempty"`
	Terminal bool     `json:"terminal"`
	State    JobState `json:"state,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// JobStatus is the polling view of a job.
type JobStatus struct {
	JobID       string         `json:"jobId"`
	App         string         `json:"app"`
	State       JobState       `json:"state"`
	LastEvent   *ProgressEvent `json:"lastEvent,omitempty"`
	ReportID    string         `json:"reportId,omitempty"`
	Error       string         `json:"error,omitempty"`
	Warnings    []Warning      `json:"warnings,omitempty"`
	SubmittedAt time.Time      `json:"submittedAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	FinishedAt  *time.Time     `json:"finishedAt,omitempty"`
}
