// Package video submits video generation jobs for a patient summary and
// polls them to completion, superseding older jobs when the summary changes.
package video

import "time"

// State is the lifecycle position of a Job.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateReady      State = "ready"
	StateFailed     State = "failed"
	// StateCancelled is only recorded in history for superseded or
	// explicitly cancelled jobs; the poller itself returns to idle.
	StateCancelled State = "cancelled"
)

// User-facing failure messages.
const (
	SubmitFailedText       = "Failed to generate video"
	NetworkErrorText       = "Network error occurred"
	StatusCheckFailedText  = "Failed to check video status"
	PollTimeoutText        = "Video generation timed out"
	RequestTimeoutText     = "The video service did not respond in time"
	ServiceReportedFailure = "Video generation failed"
)

// Job tracks one video generation request for one summary.
type Job struct {
	// Key identifies the job locally before the service assigns an ID.
	Key          string
	ID           string
	State        State
	ResultURL    string
	ErrorMessage string
	TimedOut     bool
	OwnerSummary string
	Attempts     int
	StartedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether the job is still submitting or polling.
func (j Job) Active() bool {
	return j.State == StateSubmitting || j.State == StatePolling
}

// Terminal reports whether no further automatic transition will occur.
func (j Job) Terminal() bool {
	return j.State == StateReady || j.State == StateFailed || j.State == StateCancelled
}
