package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TeneoProtocolAI/walletscan/internal/core/domain"
)

// fakeAPI is a scriptable RemoteAPI. Handlers receive the 1-based call number
// per key. Status calls for a gated key block until the gate is released.
type fakeAPI struct {
	mu sync.Mutex

	startFn   func(key string, call int) (*domain.StartResponse, error)
	statusFn  func(key string, call int) (*domain.StatusResponse, error)
	resultsFn func(key string, page, limit int) (*domain.ResultPage, error)

	gates   map[string]chan struct{}
	starts  map[string]int
	polls   map[string]int
	fetches map[string][]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		gates:   make(map[string]chan struct{}),
		starts:  make(map[string]int),
		polls:   make(map[string]int),
		fetches: make(map[string][]int),
	}
}

func (f *fakeAPI) Start(ctx context.Context, key string) (*domain.StartResponse, error) {
	f.mu.Lock()
	f.starts[key]++
	n, fn := f.starts[key], f.startFn
	f.mu.Unlock()

	if fn == nil {
		return &domain.StartResponse{Status: domain.StatusPending}, nil
	}
	return fn(key, n)
}

func (f *fakeAPI) Status(ctx context.Context, key string) (*domain.StatusResponse, error) {
	f.mu.Lock()
	f.polls[key]++
	n, fn, gate := f.polls[key], f.statusFn, f.gates[key]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &domain.TransportError{Op: "status", Err: ctx.Err()}
		}
	}
	if fn == nil {
		return &domain.StatusResponse{Status: domain.StatusNotFound}, nil
	}
	return fn(key, n)
}

func (f *fakeAPI) Results(ctx context.Context, key string, page, limit int) (*domain.ResultPage, error) {
	f.mu.Lock()
	f.fetches[key] = append(f.fetches[key], page)
	fn := f.resultsFn
	f.mu.Unlock()

	if fn == nil {
		return &domain.ResultPage{Page: page}, nil
	}
	return fn(key, page, limit)
}

func (f *fakeAPI) setStatus(fn func(key string, call int) (*domain.StatusResponse, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusFn = fn
}

func (f *fakeAPI) gate(key string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[key] = ch
	return ch
}

func (f *fakeAPI) startCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts[key]
}

func (f *fakeAPI) pollCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[key]
}

func (f *fakeAPI) fetchedPages(key string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.fetches[key]...)
}

func processing(processed, total int, hb time.Time, tokens int) *domain.StatusResponse {
	return &domain.StatusResponse{
		Status:         domain.StatusProcessing,
		Progress:       domain.Progress{Processed: processed, Total: total},
		LastHeartbeat:  &hb,
		CurrentSummary: &domain.Summary{TokenCount: tokens},
	}
}

// pageOf builds records named prefix1..prefixN.
func pageOf(page int, prefix string, n, total int) *domain.ResultPage {
	records := make([]domain.TokenRecord, n)
	for i := range records {
		records[i] = record(fmt.Sprintf("%s%d", prefix, i+1), i+1, fmt.Sprintf("%d.5", i+1), fmt.Sprintf("%d", i-1))
	}
	return &domain.ResultPage{Page: page, Records: records, Total: total}
}
