package video

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jwulff/medibot/internal/backend"
)

// ErrEmptySummary is returned when a video is requested for an empty summary.
var ErrEmptySummary = errors.New("video: empty summary")

// Client is the subset of the service API the poller needs.
type Client interface {
	SubmitVideo(ctx context.Context, summary string) (string, error)
	VideoStatus(ctx context.Context, videoID string) (backend.VideoStatus, error)
}

// Store persists job transitions.
type Store interface {
	SaveJob(j Job) error
}

// Config bounds the polling loop.
type Config struct {
	// Interval between status checks. The first check happens one
	// interval after submission succeeds.
	Interval time.Duration
	// MaxPollDuration bounds the total time spent polling one job.
	MaxPollDuration time.Duration
	// MaxAttempts bounds the number of status checks; zero means only
	// MaxPollDuration applies.
	MaxAttempts int
}

// DefaultConfig polls every five seconds for at most ten minutes.
func DefaultConfig() Config {
	return Config{
		Interval:        5 * time.Second,
		MaxPollDuration: 10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.MaxPollDuration <= 0 {
		c.MaxPollDuration = d.MaxPollDuration
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = 0
	}
	return c
}

// Poller owns the current Job and the goroutine polling it. At most one
// job is active at a time: requesting a different summary cancels the
// running job and waits for its loop to exit before submitting.
//
// Observers are called synchronously on every transition while internal
// state is locked; they must not block or call back into the Poller.
type Poller struct {
	client Client
	store  Store
	logger *zap.Logger
	cfg    Config

	// ctl serializes RequestVideo, Cancel and Retry.
	ctl sync.Mutex

	mu        sync.Mutex
	job       *Job
	cancel    context.CancelFunc
	done      chan struct{}
	observers []func(Job)
}

// Option configures a Poller.
type Option func(*Poller)

// WithStore persists every job transition.
func WithStore(s Store) Option { return func(p *Poller) { p.store = s } }

// WithLogger sets the poller logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithObserver registers a transition callback.
func WithObserver(fn func(Job)) Option {
	return func(p *Poller) { p.observers = append(p.observers, fn) }
}

// New creates an idle Poller.
func New(client Client, cfg Config, opts ...Option) *Poller {
	p := &Poller{
		client: client,
		cfg:    cfg.withDefaults(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnChange registers an observer after construction.
func (p *Poller) OnChange(fn func(Job)) {
	p.mu.Lock()
	p.observers = append(p.observers, fn)
	p.mu.Unlock()
}

// Current returns the current job, or false when idle.
func (p *Poller) Current() (Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.job == nil {
		return Job{State: StateIdle}, false
	}
	return *p.job, true
}

// RequestVideo submits a video job for summary. An active job for the same
// summary is left running and returned. An active job for a different
// summary is cancelled first, and its loop has exited before submission
// starts. ctx bounds the lifetime of the new job.
func (p *Poller) RequestVideo(ctx context.Context, summary string) (Job, error) {
	if summary == "" {
		return Job{}, ErrEmptySummary
	}

	p.ctl.Lock()
	defer p.ctl.Unlock()

	p.mu.Lock()
	if p.job != nil && p.job.Active() && p.job.OwnerSummary == summary {
		j := *p.job
		p.mu.Unlock()
		return j, nil
	}
	p.mu.Unlock()

	p.stop(false)

	now := time.Now()
	job := &Job{
		Key:          uuid.Must(uuid.NewV7()).String(),
		State:        StateSubmitting,
		OwnerSummary: summary,
		StartedAt:    now,
		UpdatedAt:    now,
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.job, p.cancel, p.done = job, cancel, done
	p.publishLocked(*job)
	p.mu.Unlock()

	p.logger.Debug("video job submitting", zap.String("key", job.Key))
	go p.run(runCtx, job, done)
	return *job, nil
}

// Cancel stops any running job and returns the poller to idle. It is
// safe to call repeatedly or when nothing is active; once it returns no
// further status checks are issued.
func (p *Poller) Cancel() {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	p.stop(true)
}

// Close tears the poller down. It is equivalent to Cancel.
func (p *Poller) Close() { p.Cancel() }

// Retry resubmits the summary of a failed job. It reports false when the
// current job is not failed.
func (p *Poller) Retry(ctx context.Context) (Job, bool) {
	p.mu.Lock()
	var summary string
	failed := p.job != nil && p.job.State == StateFailed
	if failed {
		summary = p.job.OwnerSummary
	}
	p.mu.Unlock()

	if !failed {
		return Job{}, false
	}
	j, err := p.RequestVideo(ctx, summary)
	if err != nil {
		return Job{}, false
	}
	return j, true
}

// Wait blocks until the current job's loop exits or ctx is done, then
// returns the current job.
func (p *Poller) Wait(ctx context.Context) (Job, error) {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return Job{}, ctx.Err()
		}
	}
	j, _ := p.Current()
	return j, nil
}

// stop cancels the running loop, waits for it to exit and clears the
// current job. Callers hold ctl.
func (p *Poller) stop(announce bool) {
	p.mu.Lock()
	job, cancel, done := p.job, p.cancel, p.done
	p.job, p.cancel = nil, nil
	if job != nil && job.Active() {
		job.State = StateCancelled
		job.UpdatedAt = time.Now()
		p.save(*job)
		p.logger.Debug("video job cancelled", zap.String("key", job.Key), zap.String("id", job.ID))
	}
	if job != nil && announce {
		p.notifyLocked(Job{State: StateIdle})
	}
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *Poller) run(ctx context.Context, job *Job, done chan struct{}) {
	defer close(done)

	id, err := p.client.SubmitVideo(ctx, job.OwnerSummary)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		p.logger.Warn("video submit failed", zap.String("key", job.Key), zap.Error(err))
		p.fail(job, submitMessage(err), backend.IsTimeout(err))
		return
	}

	pollStart := time.Now()
	if !p.transition(job, func(j *Job) {
		j.ID = id
		j.State = StatePolling
	}) {
		return
	}
	p.logger.Debug("video job polling", zap.String("key", job.Key), zap.String("id", id))

	deadline := pollStart.Add(p.cfg.MaxPollDuration)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	limit := time.NewTimer(p.cfg.MaxPollDuration)
	defer limit.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-limit.C:
			p.fail(job, PollTimeoutText, true)
			return
		case <-ticker.C:
		}

		if !time.Now().Before(deadline) {
			p.fail(job, PollTimeoutText, true)
			return
		}

		checkCtx, cancel := context.WithDeadline(ctx, deadline)
		st, err := p.client.VideoStatus(checkCtx, id)
		pastDeadline := checkCtx.Err() == context.DeadlineExceeded
		cancel()
		attempts++

		if ctx.Err() != nil {
			return
		}

		switch {
		case pastDeadline:
			p.fail(job, PollTimeoutText, true)
			return
		case err != nil:
			p.logger.Warn("video status check failed", zap.String("id", id), zap.Error(err))
			msg := StatusCheckFailedText
			if backend.IsTimeout(err) {
				msg = RequestTimeoutText
			}
			p.fail(job, msg, backend.IsTimeout(err))
			return
		case st.Ready():
			p.transition(job, func(j *Job) {
				j.State = StateReady
				j.ResultURL = st.HostedURL
				j.Attempts = attempts
			})
			p.logger.Info("video ready", zap.String("id", id), zap.Int("attempts", attempts))
			return
		case st.Failed():
			msg := st.Error
			if msg == "" {
				msg = ServiceReportedFailure
			}
			p.fail(job, msg, false)
			return
		default:
			p.logger.Debug("video not ready yet", zap.String("id", id), zap.String("status", st.Status))
			if !p.transition(job, func(j *Job) { j.Attempts = attempts }) {
				return
			}
			if p.cfg.MaxAttempts > 0 && attempts >= p.cfg.MaxAttempts {
				p.fail(job, PollTimeoutText, true)
				return
			}
		}
	}
}

func (p *Poller) fail(job *Job, msg string, timedOut bool) {
	p.transition(job, func(j *Job) {
		j.State = StateFailed
		j.ErrorMessage = msg
		j.TimedOut = timedOut
	})
}

// transition applies fn to job if it is still the current job and
// publishes the result. Reaching a terminal state releases the loop's
// cancel handle. It reports false if the job was superseded.
func (p *Poller) transition(job *Job, fn func(*Job)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.job != job {
		return false
	}
	fn(job)
	job.UpdatedAt = time.Now()
	if job.Terminal() && p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.publishLocked(*job)
	return true
}

func (p *Poller) publishLocked(j Job) {
	p.save(j)
	p.notifyLocked(j)
}

func (p *Poller) notifyLocked(j Job) {
	for _, fn := range p.observers {
		fn(j)
	}
}

func (p *Poller) save(j Job) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveJob(j); err != nil {
		p.logger.Warn("persist video job failed", zap.String("key", j.Key), zap.Error(err))
	}
}

func submitMessage(err error) string {
	switch {
	case backend.IsTimeout(err):
		return RequestTimeoutText
	case backend.IsNetwork(err):
		return NetworkErrorText
	}
	if msg := backend.ServiceMessage(err); msg != "" {
		return msg
	}
	return SubmitFailedText
}
