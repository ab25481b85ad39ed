package service

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/TeneoProtocolAI/walletscan/internal/core/domain"
)

// ResultSet is the accumulated, deduplicated collection of token records for
// one key. Folding is a join: it is idempotent, commutative and associative,
// so replayed or reordered pages converge to the same set.
type ResultSet struct {
	records map[string]domain.TokenRecord
	total   int
}

// NewResultSet returns an empty set.
func NewResultSet() *ResultSet {
	return &ResultSet{records: make(map[string]domain.TokenRecord)}
}

// Fold merges page into the set and returns how many mints were new.
//
// Counters are the server's cumulative values, so an existing mint keeps the
// larger of each counter instead of adding. The signed gain/loss follows the
// snapshot with more trades. The server total only ever grows here; a smaller
// total is an older snapshot.
func (s *ResultSet) Fold(page domain.ResultPage) int {
	added := 0
	for _, rec := range page.Records {
		if rec.Mint == "" {
			continue
		}
		existing, ok := s.records[rec.Mint]
		if !ok {
			s.records[rec.Mint] = normalizeRecord(rec).Derive()
			added++
			continue
		}
		s.records[rec.Mint] = mergeRecords(existing, rec)
	}
	if page.Total > s.total {
		s.total = page.Total
	}
	return added
}

// Len returns the number of distinct mints.
func (s *ResultSet) Len() int { return len(s.records) }

// Total returns the highest discovered-token total seen so far.
func (s *ResultSet) Total() int { return s.total }

// HasMore is derived from the accumulated size, never from a page flag.
func (s *ResultSet) HasMore() bool { return len(s.records) < s.total }

// Get returns the record for mint.
func (s *ResultSet) Get(mint string) (domain.TokenRecord, bool) {
	rec, ok := s.records[mint]
	return rec, ok
}

// Records returns a copy of all records ordered by mint.
func (s *ResultSet) Records() []domain.TokenRecord {
	out := make([]domain.TokenRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mint < out[j].Mint })
	return out
}

// Clone returns an independent copy.
func (s *ResultSet) Clone() *ResultSet {
	c := &ResultSet{records: make(map[string]domain.TokenRecord, len(s.records)), total: s.total}
	for k, v := range s.records {
		c.records[k] = v
	}
	return c
}

func mergeRecords(a, b domain.TokenRecord) domain.TokenRecord {
	b = normalizeRecord(b)
	out := a

	switch {
	case b.Trades > a.Trades:
		out.TotalGainLoss = b.TotalGainLoss
	case b.Trades == a.Trades:
		out.TotalGainLoss = decimal.Max(a.TotalGainLoss, b.TotalGainLoss)
	}
	if b.Trades > out.Trades {
		out.Trades = b.Trades
	}

	out.TotalVolume = maxDecimal(a.TotalVolume, b.TotalVolume)
	out.TotalMissedValue = maxDecimal(a.TotalMissedValue, b.TotalMissedValue)
	out.PurchasePriceSum = maxDecimal(a.PurchasePriceSum, b.PurchasePriceSum)
	out.AthPriceSum = maxDecimal(a.AthPriceSum, b.AthPriceSum)
	out.Symbol = pickLabel(a.Symbol, b.Symbol)
	out.Name = pickLabel(a.Name, b.Name)

	return out.Derive()
}

// maxDecimal keeps the first argument on ties so that equal values keep a
// stable representation.
func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if b.GreaterThan(a) {
		return b
	}
	return a
}

// pickLabel prefers a non-empty label and breaks conflicts deterministically.
func pickLabel(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" || a >= b {
		return a
	}
	return b
}

func normalizeRecord(r domain.TokenRecord) domain.TokenRecord {
	if r.Trades < 0 {
		r.Trades = 0
	}
	return r
}
