package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), Options{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestSnapshotRowsRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rows := SnapshotRows{
		Products: []ProductRow{{ID: "p1", Name: "Foo"}, {ID: "p2", Name: "Bar"}},
		Versions: []VersionRow{{ProductID: "p1", VersionID: "v1", Name: "PC"}},
	}
	ts := time.UnixMilli(1_700_000_000_123)
	if err := store.PersistSnapshotRows(ctx, "store-1", rows, ts); err != nil {
		t.Fatalf("persist error: %v", err)
	}

	got, err := store.GetSnapshotRows(ctx, "store-1")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got == nil {
		t.Fatalf("expected rows")
	}
	rows.CreatedAtMillis = ts.UnixMilli()
	if diff := cmp.Diff(rows, *got); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
	if !got.CreatedAt().Equal(ts) {
		t.Fatalf("created at mismatch: %v", got.CreatedAt())
	}
}

func TestSnapshotRowsMiss(t *testing.T) {
	store, _ := newTestStore(t)
	got, err := store.GetSnapshotRows(context.Background(), "nobody")
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", got, err)
	}
}

func TestSnapshotRowsReadError(t *testing.T) {
	store, mr := newTestStore(t)
	mr.SetError("boom")
	defer mr.SetError("")

	if _, err := store.GetSnapshotRows(context.Background(), "store-1"); err == nil {
		t.Fatalf("expected read error to surface")
	}
}

func TestDeleteSnapshotRows(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	if err := store.PersistSnapshotRows(ctx, "s", SnapshotRows{}, time.Now()); err != nil {
		t.Fatalf("persist error: %v", err)
	}
	if err := store.DeleteSnapshotRows(ctx, "s"); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if got, _ := store.GetSnapshotRows(ctx, "s"); got != nil {
		t.Fatalf("expected rows to be gone")
	}
}

func TestLowPriorityExpiry(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.GetLowPriorityExpiry(ctx); err != nil || ok {
		t.Fatalf("expected unset expiry, ok=%v err=%v", ok, err)
	}

	seeded, err := store.SeedLowPriorityExpiry(ctx, time.Hour)
	if err != nil || !seeded {
		t.Fatalf("expected seed to write, seeded=%v err=%v", seeded, err)
	}
	seeded, err = store.SeedLowPriorityExpiry(ctx, 2*time.Hour)
	if err != nil || seeded {
		t.Fatalf("second seed must not overwrite, seeded=%v err=%v", seeded, err)
	}

	d, ok, err := store.GetLowPriorityExpiry(ctx)
	if err != nil || !ok || d != time.Hour {
		t.Fatalf("expected 1h, got %v ok=%v err=%v", d, ok, err)
	}

	if err := store.SetLowPriorityExpiry(ctx, 90*time.Minute); err != nil {
		t.Fatalf("set error: %v", err)
	}
	if d, _, _ := store.GetLowPriorityExpiry(ctx); d != 90*time.Minute {
		t.Fatalf("expected 90m, got %v", d)
	}
}

func TestLowPriorityExpiryCorrupt(t *testing.T) {
	store, mr := newTestStore(t)
	if err := mr.Set(store.expiryKey(), "soon"); err != nil {
		t.Fatalf("miniredis set: %v", err)
	}
	if _, _, err := store.GetLowPriorityExpiry(context.Background()); err == nil {
		t.Fatalf("corrupt expiry must be an error")
	}
}

func TestArbitraryCredential(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.GetArbitraryCredential(ctx, "store-1"); err != nil || ok {
		t.Fatalf("expected no credential, ok=%v err=%v", ok, err)
	}

	for _, key := range []string{"key-b", "key-a"} {
		if err := store.SetCredential(ctx, "store-1", key); err != nil {
			t.Fatalf("set credential: %v", err)
		}
	}
	key, ok, err := store.GetArbitraryCredential(ctx, "store-1")
	if err != nil || !ok || key != "key-a" {
		t.Fatalf("expected key-a, got %q ok=%v err=%v", key, ok, err)
	}

	if err := store.DeleteCredential(ctx, "store-1", "key-a"); err != nil {
		t.Fatalf("delete credential: %v", err)
	}
	if key, _, _ := store.GetArbitraryCredential(ctx, "store-1"); key != "key-b" {
		t.Fatalf("expected key-b after delete, got %q", key)
	}
}
