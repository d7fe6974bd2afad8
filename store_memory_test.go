package parcache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreSetGetDelete(t *testing.T) {
	store := newMemoryStore(0, 0)
	ctx := context.Background()

	key := "alpha"
	body := []byte("hello")
	if err := store.Set(ctx, key, body, 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	body[0] = 'x'

	got, ok, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected value in cache")
	}
	if string(got) != "hello" {
		t.Fatalf("expected cached clone to be unchanged, got %q", got)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_, ok, err = store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get after delete failed: %v", err)
	}
	if ok {
		t.Fatalf("expected deleted key to be missing")
	}
}

func TestMemoryStoreHonorsExplicitTTL(t *testing.T) {
	store := newMemoryStore(0, 0)
	if err := store.Set(context.Background(), "ttl-key", []byte("value"), 50*time.Millisecond); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	_, ok, err := store.Get(context.Background(), "ttl-key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Fatalf("expected ttl-key to expire")
	}
}

func TestMemoryStoreAddAndIncrement(t *testing.T) {
	store := newMemoryStore(0, 0)
	ctx := context.Background()

	created, err := store.Add(ctx, "once", []byte("first"), time.Minute)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !created {
		t.Fatalf("expected key creation")
	}
	created, err = store.Add(ctx, "once", []byte("second"), time.Minute)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if created {
		t.Fatalf("expected duplicate add to be ignored")
	}

	value, err := store.Increment(ctx, "counter", 5, time.Minute)
	if err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if value != 5 {
		t.Fatalf("expected value=5, got %d", value)
	}
	value, err = store.Increment(ctx, "counter", 2, time.Minute)
	if err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if value != 7 {
		t.Fatalf("expected value=7, got %d", value)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := newMemoryStore(0, 0)
	ctx := context.Background()

	if err := store.Set(ctx, "a", []byte("1"), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "a"); !ok {
		t.Fatalf("expected hit")
	}
	if _, ok, _ := store.Get(ctx, "missing"); ok {
		t.Fatalf("expected miss")
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestMemoryStoreFlushClearsEverything(t *testing.T) {
	store := newMemoryStore(0, 0)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if err := store.Set(ctx, key, []byte(key), time.Minute); err != nil {
			t.Fatalf("set failed: %v", err)
		}
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	for _, key := range []string{"a", "b", "c"} {
		if _, ok, err := store.Get(ctx, key); err != nil || ok {
			t.Fatalf("expected key %q removed after flush", key)
		}
	}
	// Flushing an empty store is a no-op.
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("second flush failed: %v", err)
	}
}
