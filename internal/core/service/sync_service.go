package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/TeneoProtocolAI/walletscan/internal/core/domain"
	"github.com/TeneoProtocolAI/walletscan/internal/metrics"
	"github.com/TeneoProtocolAI/walletscan/pkg/wallet"
)

// ErrStopped is returned by entry points once Run has returned.
var ErrStopped = errors.New("sync service stopped")

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	eventBuffer           = 64
)

// Options configures a SyncService. Zero values fall back to defaults.
type Options struct {
	PollInterval   time.Duration
	RequestTimeout time.Duration
	PageSize       int
	Policy         HeartbeatPolicy

	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
	Store   domain.SnapshotStore

	// Now and Normalize exist for tests.
	Now       func() time.Time
	Normalize func(string) (string, error)
}

// SyncService composes the job controller, the accumulator and the projector
// on one event loop. Everything that touches controller or accumulator state
// runs inside Run; other goroutines only perform network calls and post their
// completions back.
type SyncService struct {
	jobs    *JobController
	results *Accumulator

	pollInterval   time.Duration
	requestTimeout time.Duration
	log            *zap.SugaredLogger
	metrics        *metrics.Metrics
	store          domain.SnapshotStore
	now            func() time.Time
	normalize      func(string) (string, error)

	cmds    chan func()
	done    chan struct{}
	events  chan domain.LifecycleEvent
	view    atomic.Pointer[domain.ViewModel]
	running atomic.Bool
	active  atomic.Bool // mirrors tracking for readers off the loop
	wg      sync.WaitGroup

	// Loop-owned.
	ctx      context.Context
	ticker   *time.Ticker
	tracking bool
	catchUp  bool // a progress fetch was skipped while its page was in flight
	saveSeq  uint64

	saveMu   sync.Mutex
	savedSeq uint64
}

// NewSyncService wires a service against the remote job and results APIs.
func NewSyncService(jobs domain.JobAPI, results domain.ResultsAPI, opts Options) *SyncService {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Policy.Threshold <= 0 {
		opts.Policy = DefaultHeartbeatPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Normalize == nil {
		opts.Normalize = wallet.Normalize
	}

	s := &SyncService{
		jobs:           NewJobController(jobs, opts.Policy),
		results:        NewAccumulator(results, opts.PageSize),
		pollInterval:   opts.PollInterval,
		requestTimeout: opts.RequestTimeout,
		log:            opts.Logger,
		metrics:        opts.Metrics,
		store:          opts.Store,
		now:            opts.Now,
		normalize:      opts.Normalize,
		cmds:           make(chan func()),
		done:           make(chan struct{}),
		events:         make(chan domain.LifecycleEvent, eventBuffer),
	}
	s.publish()
	return s
}

// Run drives the event loop until ctx is cancelled. It may be called once.
func (s *SyncService) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("sync service already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.ctx = loopCtx
	defer func() {
		s.stopTicker()
		cancel()
		close(s.done)
		s.wg.Wait()
		close(s.events)
	}()

	for {
		select {
		case <-loopCtx.Done():
			return ctx.Err()
		case fn := <-s.cmds:
			fn()
		case <-s.tickC():
			s.pollNow()
		}
	}
}

// Track switches to key. Tracking the key already tracked is a no-op.
func (s *SyncService) Track(key string) error {
	norm, err := s.normalize(key)
	if err != nil {
		return fmt.Errorf("invalid wallet key %q: %w", key, err)
	}
	return s.exec(func() error {
		s.track(norm)
		return nil
	})
}

// StopTracking stops polling and discards in-flight responses. The last view
// stays readable.
func (s *SyncService) StopTracking() error {
	return s.exec(func() error {
		s.stopTracking()
		s.publish()
		return nil
	})
}

// LoadNextPage requests the next page of results for the tracked key.
func (s *SyncService) LoadNextPage() error {
	return s.exec(func() error {
		if s.results.Key() == "" {
			return domain.ErrNotTracking
		}
		s.fetchNext()
		return nil
	})
}

// Refresh polls immediately. Push notices call it.
func (s *SyncService) Refresh() error {
	return s.exec(func() error {
		if !s.tracking {
			return domain.ErrNotTracking
		}
		if !s.jobs.Terminal() {
			s.pollNow()
		}
		return nil
	})
}

// View returns the latest projection. It is safe to call from any goroutine.
func (s *SyncService) View() domain.ViewModel {
	return *s.view.Load()
}

// Tracking reports whether a key is being tracked. It turns false after
// StopTracking or a rejected start.
func (s *SyncService) Tracking() bool {
	return s.active.Load()
}

// Events delivers lifecycle events. Events are dropped when nobody reads.
// The channel closes when Run returns.
func (s *SyncService) Events() <-chan domain.LifecycleEvent {
	return s.events
}

// exec runs fn on the loop and waits for its result.
func (s *SyncService) exec(fn func() error) error {
	res := make(chan error, 1)
	select {
	case s.cmds <- func() { res <- fn() }:
	case <-s.done:
		return ErrStopped
	}
	select {
	case err := <-res:
		return err
	case <-s.done:
		return ErrStopped
	}
}

// post queues fn from a worker goroutine.
func (s *SyncService) post(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.done:
	}
}

func (s *SyncService) track(key string) {
	if s.tracking && key == s.jobs.Key() {
		return
	}
	s.stopTracking()
	s.jobs.Reset(key)
	s.results.Reset(key)
	s.tracking = true
	s.active.Store(true)
	s.log.Infow("Tracking wallet", "key", key)

	s.publish()
	s.startTicker()
	s.pollNow()
}

func (s *SyncService) stopTracking() {
	s.stopTicker()
	s.jobs.Cancel()
	s.results.Cancel()
	s.tracking = false
	s.active.Store(false)
	s.catchUp = false
}

func (s *SyncService) tickC() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.C
}

func (s *SyncService) startTicker() {
	if s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(s.pollInterval)
}

func (s *SyncService) stopTicker() {
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.ticker = nil
}

func (s *SyncService) pollNow() {
	if s.jobs.Key() == "" {
		return
	}
	s.dispatchJob(kindPoll, s.jobs.IssuePoll(), nil)
}

func (s *SyncService) fetchNext() bool {
	req, ok := s.results.IssueFetch(s.results.NextPage())
	if !ok {
		return false
	}
	s.publish()
	s.spawn(func(ctx context.Context) {
		complete := req(ctx)
		s.post(func() { s.applyFetch(complete) })
	})
	return true
}

func (s *SyncService) dispatchJob(kind requestKind, req JobRequest, then func()) {
	s.spawn(func(ctx context.Context) {
		complete := req(ctx)
		s.post(func() { s.applyJob(kind, complete, then) })
	})
}

// spawn runs a network call under the request timeout.
func (s *SyncService) spawn(call func(ctx context.Context)) {
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		reqCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
		call(reqCtx)
	}()
}

func (s *SyncService) applyJob(kind requestKind, complete JobCompletion, then func()) {
	out, err := complete(s.now())
	if errors.Is(err, domain.ErrStaleResponse) {
		s.metrics.IncStale(kind.String())
		s.log.Debugw("Dropped stale response", "kind", kind.String())
		return
	}
	if kind == kindPoll {
		if err != nil {
			s.metrics.ObservePoll("error")
		} else {
			s.metrics.ObservePoll("ok")
		}
	}
	if err != nil {
		s.metrics.IncJobFailure(kind.String(), errorKind(err))
		s.log.Warnw("Request failed", "kind", kind.String(), "key", s.jobs.Key(), "error", err)
	}

	switch {
	case out.Fatal != nil:
		s.log.Errorw("Analysis could not be started", "key", s.jobs.Key(), "error", out.Fatal)
		s.stopTracking()
		s.publish()
		s.emit(out.Events)
		return
	case out.Terminal:
		s.stopTicker()
		s.log.Infow("Analysis finished", "key", s.jobs.Key(), "status", s.jobs.Job().Status)
	}

	// Follow-up requests go out before publishing so a terminal view is never
	// seen idle while its last page is still owed.
	if out.Progressed || out.Terminal {
		s.fetchOnProgress()
	}
	if out.NeedsStart {
		if req, ok := s.jobs.IssueStart(); ok {
			s.log.Infow("Starting analysis", "key", s.jobs.Key())
			s.dispatchJob(kindStart, req, nil)
		}
	}
	if out.NeedsRestart {
		s.restart()
	}

	s.publish()
	s.emit(out.Events)
	if then != nil {
		then()
	}
}

// restart pauses the timer, re-issues start for the stalled job, then polls
// and resumes the timer once the restart settles either way.
func (s *SyncService) restart() {
	req, ok := s.jobs.IssueRestart(s.now())
	if !ok {
		return
	}
	s.metrics.IncRestarts()
	s.log.Warnw("Heartbeat stale, restarting analysis", "key", s.jobs.Key())
	s.stopTicker()
	s.dispatchJob(kindRestart, req, func() {
		if !s.tracking || s.jobs.Terminal() {
			return
		}
		s.startTicker()
		s.pollNow()
	})
}

// fetchOnProgress pulls the next page when the server reports tokens the
// set has not seen yet.
func (s *SyncService) fetchOnProgress() {
	job := s.jobs.Job()
	behind := s.results.PagesFolded() == 0
	if job.CurrentSummary != nil && job.CurrentSummary.TokenCount > s.results.Len() {
		behind = true
	}
	if behind && !s.fetchNext() {
		s.catchUp = true
	}
}

func (s *SyncService) applyFetch(complete FetchCompletion) {
	added, err := complete()
	if errors.Is(err, domain.ErrStaleResponse) {
		s.metrics.IncStale("results")
		return
	}
	if err != nil {
		s.metrics.IncJobFailure("fetch", errorKind(err))
		s.log.Warnw("Failed to fetch results", "key", s.results.Key(), "error", err)
	} else {
		s.metrics.ObserveFold(s.results.Len())
		s.log.Debugw("Folded results page", "key", s.results.Key(), "added", added, "loaded", s.results.Len())
	}
	if s.catchUp {
		s.catchUp = false
		s.fetchOnProgress()
	}
	s.publish()
	// No lifecycle event follows pages loaded after the job finished.
	if err == nil && s.jobs.Terminal() {
		s.saveSnapshot()
	}
}

func (s *SyncService) publish() {
	vm := Project(s.jobs.Job(), s.results.Snapshot())
	s.view.Store(&vm)
}

func (s *SyncService) emit(events []domain.LifecycleEvent) {
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		s.metrics.IncEvent(string(ev.Type))
		select {
		case s.events <- ev:
		default:
			s.log.Warnw("Event buffer full, dropping event", "type", ev.Type, "key", ev.Key)
		}
	}
	s.saveSnapshot()
}

// saveSnapshot persists the current view off the loop.
func (s *SyncService) saveSnapshot() {
	if s.store == nil {
		return
	}
	vm := s.View()
	s.saveSeq++
	seq := s.saveSeq
	s.spawn(func(ctx context.Context) {
		s.saveMu.Lock()
		defer s.saveMu.Unlock()
		// A newer view already landed.
		if seq < s.savedSeq {
			return
		}
		s.savedSeq = seq
		if err := s.store.Save(ctx, vm); err != nil {
			s.log.Warnw("Failed to save snapshot", "key", vm.Key, "error", err)
		}
	})
}

func errorKind(err error) string {
	switch {
	case domain.IsRemote(err):
		return "remote"
	case domain.IsTransport(err):
		return "transport"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}
