package simbackend

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/TeneoProtocolAI/walletscan/internal/core/domain"
	"github.com/TeneoProtocolAI/walletscan/pkg/wallet"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Options tune how simulated jobs behave.
type Options struct {
	Tokens         int           // Tokens per wallet, default 8
	TradesPerToken int           // Default 5
	StepInterval   time.Duration // Default 2s
	StepSize       int           // Trades processed per step, default 3

	// StallAt freezes the heartbeat once this many trades are processed,
	// until the next start request. Zero never stalls.
	StallAt int

	// FailAt fails the job once this many trades are processed. Zero never
	// fails.
	FailAt int

	// AuthSecret enables the challenge flow and requires a session token on
	// every analysis request.
	AuthSecret []byte
	TokenTTL   time.Duration // Default 15m

	NotifyInterval time.Duration // Push check interval, default 500ms
	Now            func() time.Time
	Logger         *zap.SugaredLogger
}

func (o *Options) withDefaults() {
	if o.Tokens <= 0 {
		o.Tokens = 8
	}
	if o.TradesPerToken <= 0 {
		o.TradesPerToken = 5
	}
	if o.StepInterval <= 0 {
		o.StepInterval = 2 * time.Second
	}
	if o.StepSize <= 0 {
		o.StepSize = 3
	}
	if o.TokenTTL <= 0 {
		o.TokenTTL = 15 * time.Minute
	}
	if o.NotifyInterval <= 0 {
		o.NotifyInterval = 500 * time.Millisecond
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
}

// Backend serves the analysis API from memory.
type Backend struct {
	opts     Options
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	log      *zap.SugaredLogger

	mu         sync.Mutex
	jobs       map[string]*job
	challenges map[string]string // challenge -> address
}

// New creates a backend. The zero Options are usable.
func New(opts Options) *Backend {
	opts.withDefaults()
	b := &Backend{
		opts:       opts,
		mux:        http.NewServeMux(),
		log:        opts.Logger,
		jobs:       make(map[string]*job),
		challenges: make(map[string]string),
	}

	b.mux.HandleFunc("POST /analysis/{key}/start", b.authorized(b.handleStart))
	b.mux.HandleFunc("GET /analysis/{key}/status", b.authorized(b.handleStatus))
	b.mux.HandleFunc("GET /analysis/{key}/results", b.authorized(b.handleResults))
	b.mux.HandleFunc("GET /analysis/{key}/events", b.authorized(b.handleEvents))
	if len(opts.AuthSecret) > 0 {
		b.mux.HandleFunc("POST /auth/challenge", b.handleChallenge)
		b.mux.HandleFunc("POST /auth/verify", b.handleVerify)
	}
	b.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return b
}

func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mux.ServeHTTP(w, r)
}

type job struct {
	key       string
	hist      *history
	status    domain.JobStatus
	processed int
	heartbeat *time.Time
	lastStep  time.Time
	restarts  int
	resumed   bool
	errMsg    string
}

func (j *job) beat(at time.Time) {
	j.heartbeat = &at
}

func (j *job) stalled(o *Options) bool {
	return o.StallAt > 0 && !j.resumed && j.processed >= o.StallAt
}

// advance moves the job forward by every whole step elapsed since the last
// one. A stalled job neither progresses nor beats.
func (j *job) advance(now time.Time, o *Options) {
	if j.status.IsTerminal() {
		return
	}
	if j.status == domain.StatusPending {
		j.status = domain.StatusProcessing
		j.lastStep = now
		j.beat(now)
		return
	}

	total := len(j.hist.trades)
	for now.Sub(j.lastStep) >= o.StepInterval {
		if j.stalled(o) {
			return
		}
		j.lastStep = j.lastStep.Add(o.StepInterval)
		j.processed = min(j.processed+o.StepSize, total)
		j.beat(j.lastStep)

		if o.FailAt > 0 && j.processed >= o.FailAt {
			j.status = domain.StatusFailed
			j.errMsg = "upstream indexer unavailable"
			return
		}
		if j.processed >= total {
			j.status = domain.StatusCompleted
			return
		}
	}
}

func (j *job) findings() []domain.TokenRecord {
	states := j.hist.records(j.processed)
	out := make([]domain.TokenRecord, 0, len(states))
	for _, s := range states {
		out = append(out, Findings(s.token, s.trades))
	}
	return out
}

func (j *job) statusResponse() domain.StatusResponse {
	resp := domain.StatusResponse{
		Status:   j.status,
		Progress: domain.Progress{Processed: j.processed, Total: len(j.hist.trades)},
		Error:    j.errMsg,
	}
	if j.heartbeat != nil {
		hb := *j.heartbeat
		resp.LastHeartbeat = &hb
	}
	if j.status != domain.StatusPending {
		records := j.findings()
		summary := &domain.Summary{TokenCount: len(records)}
		for _, r := range records {
			summary.TotalMissedValue = summary.TotalMissedValue.Add(r.TotalMissedValue)
			summary.TotalGainLoss = summary.TotalGainLoss.Add(r.TotalGainLoss)
		}
		resp.CurrentSummary = summary
	}
	return resp
}

// lookup advances and returns the job for key, or nil.
func (b *Backend) lookup(key string) *job {
	j := b.jobs[key]
	if j != nil {
		j.advance(b.opts.Now(), &b.opts)
	}
	return j
}

func (b *Backend) handleStart(w http.ResponseWriter, r *http.Request) {
	key, err := wallet.Normalize(r.PathValue("key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.opts.Now()
	j := b.lookup(key)
	switch {
	case j == nil:
		j = &job{
			key:    key,
			hist:   generateHistory(key, b.opts.Tokens, b.opts.TradesPerToken, now),
			status: domain.StatusPending,
		}
		b.jobs[key] = j
		b.log.Infow("Analysis started", "key", key, "trades", len(j.hist.trades))
	case !j.status.IsTerminal():
		// A start on a live job wakes its worker.
		j.restarts++
		j.resumed = true
		j.lastStep = now
		j.beat(now)
		b.log.Infow("Analysis resumed", "key", key, "restarts", j.restarts, "processed", j.processed)
	}

	writeJSON(w, http.StatusOK, domain.StartResponse{
		Status:   j.status,
		Progress: domain.Progress{Processed: j.processed, Total: len(j.hist.trades)},
	})
}

func (b *Backend) handleStatus(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	b.mu.Lock()
	j := b.lookup(key)
	if j == nil {
		b.mu.Unlock()
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	resp := j.statusResponse()
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (b *Backend) handleResults(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	page, err := intParam(r, "page", 1)
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	limit, err := intParam(r, "limit", defaultLimit)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	limit = min(limit, maxLimit)

	b.mu.Lock()
	j := b.lookup(key)
	if j == nil {
		b.mu.Unlock()
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	records := j.findings()
	b.mu.Unlock()

	from := min((page-1)*limit, len(records))
	to := min(from+limit, len(records))
	writeJSON(w, http.StatusOK, domain.ResultPage{
		Page:    page,
		Records: records[from:to],
		Total:   len(records),
		HasMore: to < len(records),
	})
}

// handleEvents pushes a notice whenever the job's progress or status
// changes.
func (b *Backend) handleEvents(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Debugw("WebSocket upgrade failed", "key", key, "error", err)
		return
	}
	defer conn.Close()

	// The read loop answers pings and notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(b.opts.NotifyInterval)
	defer ticker.Stop()

	var lastStatus domain.JobStatus
	lastProcessed := -1
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		b.mu.Lock()
		j := b.lookup(key)
		var status domain.JobStatus
		var processed int
		if j != nil {
			status, processed = j.status, j.processed
		}
		b.mu.Unlock()

		if j == nil || (status == lastStatus && processed == lastProcessed) {
			continue
		}
		lastStatus, lastProcessed = status, processed

		notice := domain.PushNotice{Key: key, Type: string(status)}
		if err := conn.WriteJSON(notice); err != nil {
			b.log.Debugw("Failed to push notice", "key", key, "error", err)
			return
		}
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
