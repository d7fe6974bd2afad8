package parcachefake_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goforj/parcache"
	"github.com/goforj/parcache/parcachefake"
)

func TestFakeRecordsPerKeyCalls(t *testing.T) {
	ctx := context.Background()
	fake := parcachefake.New()
	store := fake.Store()

	if err := store.Set(ctx, "a", []byte("1"), time.Second); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, _, err := store.Get(ctx, "a"); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if _, _, err := store.Get(ctx, "a"); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if _, _, err := store.Get(ctx, "b"); err != nil {
		t.Fatalf("get failed: %v", err)
	}

	fake.AssertCalled(t, parcachefake.OpSet, "a", 1)
	fake.AssertCalled(t, parcachefake.OpGet, "a", 2)
	fake.AssertCalled(t, parcachefake.OpGet, "b", 1)
	fake.AssertNotCalled(t, parcachefake.OpDelete, "a")
	fake.AssertTotal(t, parcachefake.OpGet, 3)
}

func TestFakeBehavesLikeAStore(t *testing.T) {
	ctx := context.Background()
	store := parcachefake.New().Store()

	if err := store.Set(ctx, "k", []byte("v"), time.Second); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	body, ok, err := store.Get(ctx, "k")
	if err != nil || !ok || string(body) != "v" {
		t.Fatalf("unexpected get: ok=%v body=%q err=%v", ok, string(body), err)
	}
	if store.Driver() != parcache.DriverMemory {
		t.Fatalf("expected memory driver, got %s", store.Driver())
	}
}

func TestFakeInjectsFailures(t *testing.T) {
	ctx := context.Background()
	fake := parcachefake.New()
	store := fake.Store()
	boom := errors.New("injected")

	fake.FailWith(boom)
	if _, _, err := store.Get(ctx, "k"); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if err := store.Set(ctx, "k", []byte("v"), 0); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}

	// Calls are still recorded while failing, and recovery is immediate.
	fake.AssertCalled(t, parcachefake.OpGet, "k", 1)
	fake.FailWith(nil)
	if err := store.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("expected recovery after FailWith(nil), got %v", err)
	}
}

func TestFakeReset(t *testing.T) {
	ctx := context.Background()
	fake := parcachefake.New()

	if _, _, err := fake.Store().Get(ctx, "k"); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	fake.Reset()
	fake.AssertNotCalled(t, parcachefake.OpGet, "k")
}
