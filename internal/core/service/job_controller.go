package service

import (
	"context"
	"fmt"
	"time"

	"github.com/TeneoProtocolAI/walletscan/internal/core/domain"
)

// Outcome describes what applying a completion changed and what the caller
// should do next.
type Outcome struct {
	Events       []domain.LifecycleEvent
	Progressed   bool  // Processed count or discovered tokens advanced
	Terminal     bool  // The job just entered Completed or Failed
	NeedsStart   bool  // No job exists remotely and none is being started
	NeedsRestart bool  // The watchdog found a stalled job
	Fatal        error // Start was rejected, tracking should stop
}

// JobRequest performs a registered call off the owning goroutine and returns
// the completion to apply back on it.
type JobRequest func(ctx context.Context) JobCompletion

// JobCompletion applies a call result at now.
type JobCompletion func(now time.Time) (Outcome, error)

type requestKind int

const (
	kindPoll requestKind = iota
	kindStart
	kindRestart
)

func (k requestKind) String() string {
	switch k {
	case kindStart:
		return "start"
	case kindRestart:
		return "restart"
	default:
		return "poll"
	}
}

type ticket struct {
	kind  requestKind
	epoch uint64
	seq   uint64
}

// observation is the common subset of start and status responses.
type observation struct {
	status    domain.JobStatus
	progress  domain.Progress
	heartbeat *time.Time
	summary   *domain.Summary
	errMsg    string
}

// JobController owns the AnalysisJob for the tracked key. Like Accumulator it
// must be driven from a single goroutine; only the JobRequest closures run
// elsewhere and they touch no controller state.
type JobController struct {
	api    domain.JobAPI
	policy HeartbeatPolicy

	job   domain.AnalysisJob
	epoch uint64

	nextSeq    uint64
	appliedSeq uint64

	startInFlight   bool
	restartInFlight bool
	restartedAt     time.Time
	fatal           error
}

// NewJobController creates a controller that talks to api.
func NewJobController(api domain.JobAPI, policy HeartbeatPolicy) *JobController {
	return &JobController{
		api:    api,
		policy: policy,
		job:    domain.AnalysisJob{Status: domain.StatusNotFound},
	}
}

// Reset starts over for key. Every outstanding request becomes stale.
func (c *JobController) Reset(key string) {
	c.Cancel()
	c.job = domain.AnalysisJob{Key: key, Status: domain.StatusNotFound}
	c.nextSeq = 0
	c.appliedSeq = 0
	c.restartedAt = time.Time{}
	c.fatal = nil
}

// Cancel makes every outstanding request stale but keeps the job state.
func (c *JobController) Cancel() {
	c.epoch++
	c.startInFlight = false
	c.restartInFlight = false
}

// Job returns a copy of the current job.
func (c *JobController) Job() domain.AnalysisJob {
	job := c.job
	if job.LastHeartbeat != nil {
		hb := *job.LastHeartbeat
		job.LastHeartbeat = &hb
	}
	if job.CurrentSummary != nil {
		s := *job.CurrentSummary
		job.CurrentSummary = &s
	}
	return job
}

// Key returns the tracked key.
func (c *JobController) Key() string { return c.job.Key }

// Terminal reports whether the job reached Completed or Failed.
func (c *JobController) Terminal() bool { return c.job.Status.IsTerminal() }

// RestartInFlight reports whether a restart is outstanding.
func (c *JobController) RestartInFlight() bool { return c.restartInFlight }

// Fatal returns the error that stopped tracking, if any.
func (c *JobController) Fatal() error { return c.fatal }

func (c *JobController) issue(kind requestKind) ticket {
	c.nextSeq++
	return ticket{kind: kind, epoch: c.epoch, seq: c.nextSeq}
}

// IssuePoll registers a status fetch.
func (c *JobController) IssuePoll() JobRequest {
	t := c.issue(kindPoll)
	key := c.job.Key
	return func(ctx context.Context) JobCompletion {
		resp, err := c.api.Status(ctx, key)
		return func(now time.Time) (Outcome, error) {
			return c.applyStatus(t, resp, err, now)
		}
	}
}

// IssueStart registers a start call. It returns false while a start or
// restart is already outstanding.
func (c *JobController) IssueStart() (JobRequest, bool) {
	if c.job.Key == "" || c.startInFlight || c.restartInFlight || c.Terminal() {
		return nil, false
	}
	c.startInFlight = true
	return c.startRequest(c.issue(kindStart)), true
}

// IssueRestart registers a restart of a stalled job. It returns false when
// the watchdog does not fire at now or a restart is already outstanding.
func (c *JobController) IssueRestart(now time.Time) (JobRequest, bool) {
	if c.restartInFlight || c.startInFlight || !c.stalled(now) {
		return nil, false
	}
	c.restartInFlight = true
	return c.startRequest(c.issue(kindRestart)), true
}

func (c *JobController) startRequest(t ticket) JobRequest {
	key := c.job.Key
	return func(ctx context.Context) JobCompletion {
		resp, err := c.api.Start(ctx, key)
		return func(now time.Time) (Outcome, error) {
			return c.applyStart(t, resp, err, now)
		}
	}
}

// Poll fetches and applies status synchronously.
func (c *JobController) Poll(ctx context.Context, now time.Time) (Outcome, error) {
	if c.job.Key == "" {
		return Outcome{}, domain.ErrNotTracking
	}
	return c.IssuePoll()(ctx)(now)
}

// Start requests the job synchronously.
func (c *JobController) Start(ctx context.Context, now time.Time) (Outcome, error) {
	if c.job.Key == "" {
		return Outcome{}, domain.ErrNotTracking
	}
	req, ok := c.IssueStart()
	if !ok {
		return Outcome{}, nil
	}
	return req(ctx)(now)
}

// stalled evaluates the watchdog. A successful restart counts as a heartbeat
// so the same silence cannot trigger twice.
func (c *JobController) stalled(now time.Time) bool {
	hb := c.job.LastHeartbeat
	if !c.restartedAt.IsZero() && (hb == nil || c.restartedAt.After(*hb)) {
		hb = &c.restartedAt
	}
	return c.policy.ShouldRestart(c.job.Status, hb, now)
}

func (c *JobController) applyStatus(t ticket, resp *domain.StatusResponse, err error, now time.Time) (Outcome, error) {
	if t.epoch != c.epoch || t.seq <= c.appliedSeq {
		return Outcome{}, domain.ErrStaleResponse
	}
	c.appliedSeq = t.seq

	var out Outcome
	if err != nil {
		c.job.LastError = err.Error()
		c.job.UpdatedAt = now
		return out, fmt.Errorf("failed to poll status: %w", err)
	}
	if resp == nil {
		return out, nil
	}

	// A status outside the known set is a malformed answer. Nothing from it
	// is applied, but discovery and the watchdog still run.
	var malformed error
	if resp.Status.Valid() {
		c.job.LastError = ""
		out = c.observe(observation{
			status:    resp.Status,
			progress:  resp.Progress,
			heartbeat: resp.LastHeartbeat,
			summary:   resp.CurrentSummary,
			errMsg:    resp.Error,
		}, now)
	} else {
		malformed = &domain.TransportError{Op: "status", Err: fmt.Errorf("unknown job status %q", resp.Status)}
		c.job.LastError = malformed.Error()
		c.job.UpdatedAt = now
	}

	if c.job.Status == domain.StatusNotFound && !c.startInFlight && !c.restartInFlight && c.fatal == nil {
		out.NeedsStart = true
	}
	if !c.restartInFlight && !c.startInFlight && c.stalled(now) {
		out.NeedsRestart = true
	}
	if malformed != nil {
		return out, fmt.Errorf("failed to poll status: %w", malformed)
	}
	return out, nil
}

func (c *JobController) applyStart(t ticket, resp *domain.StartResponse, err error, now time.Time) (Outcome, error) {
	if t.epoch != c.epoch {
		return Outcome{}, domain.ErrStaleResponse
	}
	switch t.kind {
	case kindRestart:
		c.restartInFlight = false
	default:
		c.startInFlight = false
	}

	var out Outcome
	if err != nil {
		c.job.LastError = err.Error()
		c.job.UpdatedAt = now
		if t.kind == kindStart && domain.IsRemote(err) {
			c.fatal = err
			out.Fatal = err
		}
		return out, fmt.Errorf("failed to %s analysis: %w", t.kind, err)
	}

	c.job.LastError = ""
	if t.kind == kindRestart {
		c.restartedAt = now
		c.job.Restarts++
		out.Events = append(out.Events, c.event(domain.EventRestarted, now))
	}

	// An older start answer must not override a newer status.
	if resp != nil && t.seq > c.appliedSeq {
		c.appliedSeq = t.seq
		applied := c.observe(observation{status: resp.Status, progress: resp.Progress}, now)
		out.Events = append(out.Events, applied.Events...)
		out.Progressed = applied.Progressed
		out.Terminal = applied.Terminal
	}
	return out, nil
}

// observe folds an observation into the job and reports the transitions.
func (c *JobController) observe(obs observation, now time.Time) Outcome {
	var out Outcome
	prev := c.job
	if prev.Status.IsTerminal() {
		return out
	}

	if obs.status.Valid() && obs.status.Rank() >= prev.Status.Rank() {
		c.job.Status = obs.status
	}

	if obs.progress.Processed > c.job.Progress.Processed {
		c.job.Progress.Processed = obs.progress.Processed
	}
	if obs.progress.Total > c.job.Progress.Total {
		c.job.Progress.Total = obs.progress.Total
	}

	if obs.heartbeat != nil && (c.job.LastHeartbeat == nil || obs.heartbeat.After(*c.job.LastHeartbeat)) {
		hb := *obs.heartbeat
		c.job.LastHeartbeat = &hb
	}

	tokensAdvanced := false
	if obs.summary != nil {
		if c.job.CurrentSummary == nil || obs.summary.TokenCount >= c.job.CurrentSummary.TokenCount {
			tokensAdvanced = c.job.CurrentSummary == nil || obs.summary.TokenCount > c.job.CurrentSummary.TokenCount
			s := *obs.summary
			c.job.CurrentSummary = &s
		}
	}

	if c.job.Status == domain.StatusFailed {
		c.job.Error = obs.errMsg
		if c.job.Error == "" {
			c.job.Error = "analysis failed"
		}
	}
	c.job.UpdatedAt = now

	if prev.Status == domain.StatusNotFound &&
		(c.job.Status == domain.StatusPending || c.job.Status == domain.StatusProcessing) {
		out.Events = append(out.Events, c.event(domain.EventStarted, now))
	}
	if c.job.Progress.Processed > prev.Progress.Processed || tokensAdvanced {
		out.Progressed = true
		if !c.job.Status.IsTerminal() {
			out.Events = append(out.Events, c.event(domain.EventProgressed, now))
		}
	}
	switch c.job.Status {
	case domain.StatusCompleted:
		out.Terminal = true
		out.Events = append(out.Events, c.event(domain.EventCompleted, now))
	case domain.StatusFailed:
		out.Terminal = true
		out.Events = append(out.Events, c.event(domain.EventFailed, now))
	}
	return out
}

func (c *JobController) event(typ domain.EventType, now time.Time) domain.LifecycleEvent {
	ev := domain.LifecycleEvent{
		Type:     typ,
		Key:      c.job.Key,
		Status:   c.job.Status,
		Progress: c.job.Progress,
		At:       now,
	}
	if typ == domain.EventFailed {
		ev.Err = c.job.Error
	}
	return ev
}
