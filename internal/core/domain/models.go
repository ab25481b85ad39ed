package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// JobStatus is the lifecycle state of a remote analysis job.
type JobStatus string

const (
	StatusNotFound   JobStatus = "not_found"  // No job exists for the key yet
	StatusPending    JobStatus = "pending"    // Accepted, waiting for a worker
	StatusProcessing JobStatus = "processing" // Scanning trade history
	StatusCompleted  JobStatus = "completed"  // Terminal
	StatusFailed     JobStatus = "failed"     // Terminal
)

// Rank orders statuses for monotonic transitions. Completed and Failed share
// the terminal rank.
func (s JobStatus) Rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusProcessing:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusNotFound, StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Progress counts processed transactions, not discovered tokens.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// Summary is the coarse server-side snapshot returned with every status.
type Summary struct {
	TokenCount       int             `json:"tokenCount"`
	TotalMissedValue decimal.Decimal `json:"totalMissedValue"`
	TotalGainLoss    decimal.Decimal `json:"totalGainLoss"`
}

// AnalysisJob is the client's view of the single job for a wallet.
type AnalysisJob struct {
	Key            string     `json:"key"`
	Status         JobStatus  `json:"status"`
	Progress       Progress   `json:"progress"`
	LastHeartbeat  *time.Time `json:"lastHeartbeat,omitempty"`
	Error          string     `json:"error,omitempty"`     // Only when Failed
	LastError      string     `json:"lastError,omitempty"` // Transient poll/start error
	CurrentSummary *Summary   `json:"currentSummary,omitempty"`
	Restarts       int        `json:"restarts"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// TokenRecord holds the findings for one mint. The Average* fields are
// derived and always recomputed from the sums.
type TokenRecord struct {
	Mint             string          `json:"mint"`
	Symbol           string          `json:"symbol,omitempty"`
	Name             string          `json:"name,omitempty"`
	Trades           int             `json:"trades"`
	TotalVolume      decimal.Decimal `json:"totalVolume"`
	TotalGainLoss    decimal.Decimal `json:"totalGainLoss"`
	TotalMissedValue decimal.Decimal `json:"totalMissedValue"`
	PurchasePriceSum decimal.Decimal `json:"purchasePriceSum"`
	AthPriceSum      decimal.Decimal `json:"athPriceSum"`

	AverageGainLoss      decimal.Decimal `json:"averageGainLoss"`
	AveragePurchasePrice decimal.Decimal `json:"averagePurchasePrice"`
	AverageAthPrice      decimal.Decimal `json:"averageAthPrice"`
}

// Derive recomputes the averages from the record's own sums.
func (r TokenRecord) Derive() TokenRecord {
	if r.Trades <= 0 {
		r.AverageGainLoss = decimal.Zero
		r.AveragePurchasePrice = decimal.Zero
		r.AverageAthPrice = decimal.Zero
		return r
	}
	n := decimal.NewFromInt(int64(r.Trades))
	r.AverageGainLoss = r.TotalGainLoss.Div(n)
	r.AveragePurchasePrice = r.PurchasePriceSum.Div(n)
	r.AverageAthPrice = r.AthPriceSum.Div(n)
	return r
}

// ResultPage is one page of the remote results endpoint.
type ResultPage struct {
	Page    int           `json:"page"`
	Records []TokenRecord `json:"records"`
	Total   int           `json:"total"`
	HasMore bool          `json:"hasMore"` // Informational only, never trusted
}

// ResultSnapshot is a read-only copy of the accumulated result set.
type ResultSnapshot struct {
	Key         string        `json:"key"`
	Records     []TokenRecord `json:"records"`
	Total       int           `json:"total"`
	HasMore     bool          `json:"hasMore"`
	Loaded      int           `json:"loaded"`
	PagesFolded int           `json:"pagesFolded"`
	Fetching    bool          `json:"fetching"`
	LastError   string        `json:"lastError,omitempty"`
}

// StartResponse is returned by POST /analysis/{key}/start.
type StartResponse struct {
	Status   JobStatus `json:"status"`
	Progress Progress  `json:"progress"`
}

// StatusResponse is returned by GET /analysis/{key}/status.
type StatusResponse struct {
	Status         JobStatus  `json:"status"`
	Progress       Progress   `json:"progress"`
	LastHeartbeat  *time.Time `json:"lastHeartbeat,omitempty"`
	CurrentSummary *Summary   `json:"currentSummary,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// Distribution buckets tokens by the sign of their net gain/loss.
type Distribution struct {
	InProfit  int `json:"inProfit"`
	InLoss    int `json:"inLoss"`
	StillHeld int `json:"stillHeld"`
}

// ViewModel is the read model handed to rendering collaborators.
type ViewModel struct {
	Key              string          `json:"key"`
	Status           JobStatus       `json:"status"`
	Progress         Progress        `json:"progress"`
	LastHeartbeat    *time.Time      `json:"lastHeartbeat,omitempty"`
	Restarts         int             `json:"restarts"`
	Tokens           []TokenRecord   `json:"tokens"`
	TotalMissedValue decimal.Decimal `json:"totalMissedValue"`
	TotalGainLoss    decimal.Decimal `json:"totalGainLoss"`
	TotalVolume      decimal.Decimal `json:"totalVolume"`
	Distribution     Distribution    `json:"distribution"`
	BestPerformer    *TokenRecord    `json:"bestPerformer,omitempty"`
	WorstPerformer   *TokenRecord    `json:"worstPerformer,omitempty"`
	HasMore          bool            `json:"hasMore"`
	Total            int             `json:"total"`
	LoadedCount      int             `json:"loadedCount"`
	Loading          bool            `json:"loading"`
	Error            string          `json:"error,omitempty"`
}

// EventType names a lifecycle notification.
type EventType string

const (
	EventStarted    EventType = "started"
	EventProgressed EventType = "progressed"
	EventCompleted  EventType = "completed"
	EventFailed     EventType = "failed"
	EventRestarted  EventType = "restarted"
)

// LifecycleEvent is emitted for toast-style notification.
type LifecycleEvent struct {
	Type     EventType `json:"type"`
	Key      string    `json:"key"`
	Status   JobStatus `json:"status"`
	Progress Progress  `json:"progress"`
	Err      string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// PushNotice is a server-sent hint that new status is available.
type PushNotice struct {
	Key  string `json:"key"`
	Type string `json:"type"`
}
