package domain

import "context"

// JobAPI is the remote job lifecycle endpoint.
type JobAPI interface {
	// Start asks the service to begin or resume analysis for key. The remote
	// side treats repeated calls as idempotent.
	Start(ctx context.Context, key string) (*StartResponse, error)

	// Status fetches the current job state once.
	Status(ctx context.Context, key string) (*StatusResponse, error)
}

// ResultsAPI serves the paginated per-token findings.
type ResultsAPI interface {
	// Results fetches one 1-based page of at most limit records.
	Results(ctx context.Context, key string, page, limit int) (*ResultPage, error)
}

// RemoteAPI is implemented by clients that serve both endpoints.
type RemoteAPI interface {
	JobAPI
	ResultsAPI
}

// SnapshotStore persists the last projected view per key.
type SnapshotStore interface {
	Save(ctx context.Context, view ViewModel) error
	// Load returns nil, nil when nothing is stored for key.
	Load(ctx context.Context, key string) (*ViewModel, error)
	// LastKey returns the most recently saved key, or "" when empty.
	LastKey(ctx context.Context) (string, error)
}
