package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/reconlabs/txreconcile/internal/cache"
)

func TestMemorySetIfAbsent(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()

	ok, err := m.SetIfAbsent(ctx, "lock:T1", []byte("now"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first set-if-absent to succeed, got ok=%v err=%v", ok, err)
	}

	ok, err = m.SetIfAbsent(ctx, "lock:T1", []byte("again"), time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected second set-if-absent to fail while lock held")
	}
}

func TestMemoryExpiry(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()

	if err := m.SetWithTTL(ctx, "stage:T1", []byte("v"), time.Millisecond); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	_, ok, err := m.Get(ctx, "stage:T1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected expired key to be absent")
	}
}

func TestMemorySetMembers(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()

	_ = m.SetAdd(ctx, "stage-source:core", "T1")
	_ = m.SetAdd(ctx, "stage-source:core", "T2")
	_ = m.SetRemove(ctx, "stage-source:core", "T1")

	members, err := m.SetMembers(ctx, "stage-source:core")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 1 || members[0] != "T2" {
		t.Fatalf("expected [T2], got %v", members)
	}
}

func TestMemoryIncr(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := m.Incr(ctx, "throttle:T1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != i {
			t.Fatalf("expected counter %d, got %d", i, n)
		}
	}
}
