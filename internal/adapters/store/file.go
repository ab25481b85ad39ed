// Package store persists the last projected view per wallet so a later run
// can print or resume it.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/TeneoProtocolAI/walletscan/internal/core/domain"
)

// DefaultStateFile is used when no path is configured.
const DefaultStateFile = ".walletscan-state.json"

// Checkpoint is the stored view of one wallet.
type Checkpoint struct {
	Key       string           `json:"key"`
	View      domain.ViewModel `json:"view"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// fileState is the on-disk layout of a FileStore.
type fileState struct {
	LastKey     string                 `json:"last_key,omitempty"`
	Checkpoints map[string]*Checkpoint `json:"checkpoints"`
}

// FileStore keeps all checkpoints in one JSON file written atomically.
type FileStore struct {
	filePath string
	mu       sync.RWMutex
	now      func() time.Time
}

var _ domain.SnapshotStore = (*FileStore)(nil)

// NewFileStore creates a store backed by filePath.
func NewFileStore(filePath string) *FileStore {
	if filePath == "" {
		filePath = DefaultStateFile
	}

	dir := filepath.Dir(filePath)
	if dir != "" && dir != "." {
		os.MkdirAll(dir, 0700)
	}

	return &FileStore{
		filePath: filePath,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Save records view as the latest checkpoint for its key.
func (fs *FileStore) Save(ctx context.Context, view domain.ViewModel) error {
	if view.Key == "" {
		return fmt.Errorf("cannot save a view without a key")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	state, err := fs.read()
	if err != nil {
		return err
	}

	now := fs.now()
	cp, ok := state.Checkpoints[view.Key]
	if !ok {
		cp = &Checkpoint{Key: view.Key, CreatedAt: now}
		state.Checkpoints[view.Key] = cp
	}
	cp.View = view
	cp.UpdatedAt = now
	state.LastKey = view.Key

	return fs.write(state)
}

// Load returns the stored view for key, or nil when there is none.
func (fs *FileStore) Load(ctx context.Context, key string) (*domain.ViewModel, error) {
	cp, err := fs.Checkpoint(key)
	if err != nil || cp == nil {
		return nil, err
	}
	return &cp.View, nil
}

// Checkpoint returns the full checkpoint for key, or nil.
func (fs *FileStore) Checkpoint(key string) (*Checkpoint, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	state, err := fs.read()
	if err != nil {
		return nil, err
	}
	return state.Checkpoints[key], nil
}

// LastKey returns the most recently saved key.
func (fs *FileStore) LastKey(ctx context.Context) (string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	state, err := fs.read()
	if err != nil {
		return "", err
	}
	return state.LastKey, nil
}

// Prune removes checkpoints not updated within maxAge.
func (fs *FileStore) Prune(maxAge time.Duration) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	state, err := fs.read()
	if err != nil {
		return 0, err
	}

	now := fs.now()
	deleted := 0
	for key, cp := range state.Checkpoints {
		if now.Sub(cp.UpdatedAt) > maxAge {
			delete(state.Checkpoints, key)
			deleted++
		}
	}
	if deleted == 0 {
		return 0, nil
	}
	if _, ok := state.Checkpoints[state.LastKey]; !ok {
		state.LastKey = ""
	}
	return deleted, fs.write(state)
}

// FilePath returns the path of the state file
func (fs *FileStore) FilePath() string {
	return fs.filePath
}

func (fs *FileStore) read() (*fileState, error) {
	state := &fileState{Checkpoints: make(map[string]*Checkpoint)}

	data, err := os.ReadFile(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if state.Checkpoints == nil {
		state.Checkpoints = make(map[string]*Checkpoint)
	}
	return state, nil
}

func (fs *FileStore) write(state *fileState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write to a temp file and rename so readers never see a partial file.
	tempPath := fs.filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}

	if err := os.Rename(tempPath, fs.filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save state file: %w", err)
	}
	return nil
}
