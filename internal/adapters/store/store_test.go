package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TeneoProtocolAI/walletscan/internal/core/domain"
)

const testWallet = "0x742d35Cc6634C0532925a3b844Bc9e7595f2b21D"

func testView(key string, loaded int) domain.ViewModel {
	return domain.ViewModel{
		Key:              key,
		Status:           domain.StatusProcessing,
		Progress:         domain.Progress{Processed: 10, Total: 100},
		TotalMissedValue: decimal.RequireFromString("12.75"),
		Tokens: []domain.TokenRecord{
			{Mint: "M1", Trades: 2, TotalMissedValue: decimal.RequireFromString("12.75")},
		},
		LoadedCount: loaded,
		Total:       5,
		HasMore:     true,
	}
}

func TestFileStore_SaveAndLoad(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	ctx := context.Background()

	if err := fs.Save(ctx, testView(testWallet, 1)); err != nil {
		t.Fatalf("failed to save view: %v", err)
	}

	loaded, err := fs.Load(ctx, testWallet)
	if err != nil {
		t.Fatalf("failed to load view: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a stored view")
	}
	if loaded.Status != domain.StatusProcessing || loaded.LoadedCount != 1 {
		t.Errorf("loaded view mismatch: %+v", loaded)
	}
	if !loaded.TotalMissedValue.Equal(decimal.RequireFromString("12.75")) {
		t.Errorf("TotalMissedValue = %s, want 12.75", loaded.TotalMissedValue)
	}
	if len(loaded.Tokens) != 1 || loaded.Tokens[0].Mint != "M1" {
		t.Errorf("tokens = %+v", loaded.Tokens)
	}
}

func TestFileStore_LoadNonexistent(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "missing", "state.json"))

	view, err := fs.Load(context.Background(), testWallet)
	if err != nil {
		t.Errorf("expected nil error for nonexistent file, got %v", err)
	}
	if view != nil {
		t.Error("expected nil view for nonexistent file")
	}
	key, err := fs.LastKey(context.Background())
	if err != nil || key != "" {
		t.Errorf("LastKey() = %q, %v; want empty", key, err)
	}
}

func TestFileStore_UpdateKeepsCreatedAt(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	ctx := context.Background()

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fs.now = func() time.Time { return clock }
	fs.Save(ctx, testView(testWallet, 1))

	clock = clock.Add(time.Hour)
	fs.Save(ctx, testView(testWallet, 3))

	cp, err := fs.Checkpoint(testWallet)
	if err != nil {
		t.Fatal(err)
	}
	if !cp.CreatedAt.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt changed to %v", cp.CreatedAt)
	}
	if !cp.UpdatedAt.Equal(clock) {
		t.Errorf("UpdatedAt = %v, want %v", cp.UpdatedAt, clock)
	}
	if cp.View.LoadedCount != 3 {
		t.Errorf("LoadedCount = %d, want 3", cp.View.LoadedCount)
	}
}

func TestFileStore_LastKey(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	ctx := context.Background()

	fs.Save(ctx, testView("A", 0))
	fs.Save(ctx, testView("B", 0))
	fs.Save(ctx, testView("A", 1))

	key, err := fs.LastKey(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if key != "A" {
		t.Errorf("LastKey() = %q, want A", key)
	}
}

func TestFileStore_RejectsEmptyKey(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err := fs.Save(context.Background(), domain.ViewModel{}); err == nil {
		t.Error("expected error for view without key")
	}
}

func TestFileStore_AtomicWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	fs := NewFileStore(path)

	if err := fs.Save(context.Background(), testView(testWallet, 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("state file mode = %o, want 600", perm)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	fs := NewFileStore(path)

	if _, err := fs.Load(context.Background(), testWallet); err == nil {
		t.Error("expected parse error")
	}
	if err := fs.Save(context.Background(), testView(testWallet, 1)); err == nil {
		t.Error("save over a corrupt file should fail rather than drop other checkpoints")
	}
}

func TestFileStore_Prune(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	ctx := context.Background()

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fs.now = func() time.Time { return clock }
	fs.Save(ctx, testView("old", 0))

	clock = clock.Add(48 * time.Hour)
	fs.Save(ctx, testView("fresh", 0))
	fs.Save(ctx, testView("old-but-last", 0))

	clock = clock.Add(time.Hour)
	deleted, err := fs.Prune(24 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("deleted %d checkpoints, want 1", deleted)
	}
	if v, _ := fs.Load(ctx, "old"); v != nil {
		t.Error("old checkpoint survived pruning")
	}
	if v, _ := fs.Load(ctx, "fresh"); v == nil {
		t.Error("fresh checkpoint pruned")
	}
	if key, _ := fs.LastKey(ctx); key != "old-but-last" {
		t.Errorf("LastKey() = %q after prune", key)
	}
}

func TestNoOpStore(t *testing.T) {
	var s domain.SnapshotStore = NoOpStore{}
	ctx := context.Background()

	if err := s.Save(ctx, testView(testWallet, 1)); err != nil {
		t.Fatal(err)
	}
	if v, err := s.Load(ctx, testWallet); v != nil || err != nil {
		t.Errorf("Load() = %v, %v", v, err)
	}
}

// TestRedisStore runs against a real server when WALLETSCAN_TEST_REDIS_ADDR
// is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("WALLETSCAN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("WALLETSCAN_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	prefix := "walletscan-test:" + time.Now().Format("150405.000000") + ":"
	rs, err := NewRedisStore(ctx, &RedisConfig{Address: addr, KeyPrefix: prefix, TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer rs.Close()

	if v, err := rs.Load(ctx, testWallet); v != nil || err != nil {
		t.Fatalf("Load before save = %v, %v", v, err)
	}
	if err := rs.Save(ctx, testView(testWallet, 2)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	v, err := rs.Load(ctx, testWallet)
	if err != nil || v == nil || v.LoadedCount != 2 {
		t.Fatalf("Load = %+v, %v", v, err)
	}
	if key, err := rs.LastKey(ctx); err != nil || key != testWallet {
		t.Errorf("LastKey() = %q, %v", key, err)
	}
}
