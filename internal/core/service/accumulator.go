package service

import (
	"context"
	"fmt"

	"github.com/TeneoProtocolAI/walletscan/internal/core/domain"
)

// DefaultPageSize is the number of token records requested per page.
const DefaultPageSize = 20

// FetchRequest performs a registered page fetch off the owning goroutine and
// returns the completion to apply back on it.
type FetchRequest func(ctx context.Context) FetchCompletion

// FetchCompletion folds a fetched page. It returns the number of new mints,
// or domain.ErrStaleResponse when the key changed while the request was out.
type FetchCompletion func() (int, error)

// Accumulator fetches result pages for the tracked key and folds them into
// its ResultSet. It is not safe for concurrent use: all methods except the
// returned FetchRequest must run on one goroutine.
type Accumulator struct {
	api      domain.ResultsAPI
	pageSize int

	key         string
	epoch       uint64
	set         *ResultSet
	inFlight    map[int]bool
	pagesFolded int
	lastErr     string
}

// NewAccumulator creates an accumulator that fetches pages of pageSize.
func NewAccumulator(api domain.ResultsAPI, pageSize int) *Accumulator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Accumulator{
		api:      api,
		pageSize: pageSize,
		set:      NewResultSet(),
		inFlight: make(map[int]bool),
	}
}

// Reset clears the set for a new key and invalidates in-flight fetches.
func (a *Accumulator) Reset(key string) {
	a.Cancel()
	a.key = key
	a.set = NewResultSet()
	a.pagesFolded = 0
	a.lastErr = ""
}

// Cancel invalidates in-flight fetches without clearing accumulated data.
func (a *Accumulator) Cancel() {
	a.epoch++
	a.inFlight = make(map[int]bool)
}

// Key returns the key results are accumulated for.
func (a *Accumulator) Key() string { return a.key }

// PageSize returns the configured page size.
func (a *Accumulator) PageSize() int { return a.pageSize }

// Len returns the number of accumulated mints.
func (a *Accumulator) Len() int { return a.set.Len() }

// PagesFolded returns how many pages have been applied for the current key.
func (a *Accumulator) PagesFolded() int { return a.pagesFolded }

// HasMore reports whether the server knows of more mints than are loaded.
func (a *Accumulator) HasMore() bool { return a.set.HasMore() }

// Fetching reports whether any page request is outstanding.
func (a *Accumulator) Fetching() bool { return len(a.inFlight) > 0 }

// NextPage is the 1-based page that holds the first record not yet loaded.
// A partially filled tail page is fetched again until it fills up.
func (a *Accumulator) NextPage() int {
	return a.set.Len()/a.pageSize + 1
}

// FetchPage calls the remote results endpoint.
func (a *Accumulator) FetchPage(ctx context.Context, key string, page, pageSize int) (*domain.ResultPage, error) {
	if key == "" {
		return nil, domain.ErrNotTracking
	}
	p, err := a.api.Results(ctx, key, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page %d: %w", page, err)
	}
	return p, nil
}

// FoldPage merges page into the accumulated set.
func (a *Accumulator) FoldPage(page domain.ResultPage) int {
	added := a.set.Fold(page)
	a.pagesFolded++
	return added
}

// IssueFetch registers a fetch of page. It returns false when the page is
// already in flight or no key is tracked.
func (a *Accumulator) IssueFetch(page int) (FetchRequest, bool) {
	if a.key == "" || page < 1 || a.inFlight[page] {
		return nil, false
	}
	a.inFlight[page] = true
	key, epoch, size := a.key, a.epoch, a.pageSize

	return func(ctx context.Context) FetchCompletion {
		p, err := a.FetchPage(ctx, key, page, size)
		return func() (int, error) {
			return a.complete(epoch, page, p, err)
		}
	}, true
}

// Load fetches and folds page synchronously.
func (a *Accumulator) Load(ctx context.Context, page int) (int, error) {
	req, ok := a.IssueFetch(page)
	if !ok {
		return 0, nil
	}
	return req(ctx)()
}

func (a *Accumulator) complete(epoch uint64, page int, p *domain.ResultPage, err error) (int, error) {
	if epoch != a.epoch {
		return 0, domain.ErrStaleResponse
	}
	delete(a.inFlight, page)

	if err != nil {
		a.lastErr = err.Error()
		return 0, err
	}
	a.lastErr = ""
	if p == nil {
		return 0, nil
	}
	return a.FoldPage(*p), nil
}

// Snapshot returns a read-only copy of the accumulated state.
func (a *Accumulator) Snapshot() domain.ResultSnapshot {
	return domain.ResultSnapshot{
		Key:         a.key,
		Records:     a.set.Records(),
		Total:       a.set.Total(),
		HasMore:     a.set.HasMore(),
		Loaded:      a.set.Len(),
		PagesFolded: a.pagesFolded,
		Fetching:    a.Fetching(),
		LastError:   a.lastErr,
	}
}
