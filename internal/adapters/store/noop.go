package store

import (
	"context"

	"github.com/TeneoProtocolAI/walletscan/internal/core/domain"
)

// NoOpStore discards everything. Used when persistence is disabled.
type NoOpStore struct{}

var _ domain.SnapshotStore = NoOpStore{}

func (NoOpStore) Save(ctx context.Context, view domain.ViewModel) error { return nil }

func (NoOpStore) Load(ctx context.Context, key string) (*domain.ViewModel, error) { return nil, nil }

func (NoOpStore) LastKey(ctx context.Context) (string, error) { return "", nil }
