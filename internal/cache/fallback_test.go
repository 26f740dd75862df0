package cache_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/reconlabs/txreconcile/internal/cache"
)

// brokenCache simulates a transport failure on every call.
type brokenCache struct{}

func (brokenCache) SetWithTTL(context.Context, string, []byte, time.Duration) error {
	return errors.New("transport down")
}
func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("transport down")
}
func (brokenCache) Delete(context.Context, string) error { return errors.New("transport down") }
func (brokenCache) SetIfAbsent(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, errors.New("transport down")
}
func (brokenCache) Incr(context.Context, string) (int64, error) {
	return 0, errors.New("transport down")
}
func (brokenCache) Expire(context.Context, string, time.Duration) error {
	return errors.New("transport down")
}
func (brokenCache) SetAdd(context.Context, string, string) error { return errors.New("transport down") }
func (brokenCache) SetMembers(context.Context, string) ([]string, error) {
	return nil, errors.New("transport down")
}
func (brokenCache) SetRemove(context.Context, string, string) error {
	return errors.New("transport down")
}
func (brokenCache) Info(context.Context) (map[string]string, error) {
	return nil, errors.New("transport down")
}

func TestFallbackDegradesToLocalMap(t *testing.T) {
	log := zerolog.New(io.Discard)
	fb := cache.NewFallback(brokenCache{}, time.Second, log)
	ctx := context.Background()

	ok, err := fb.SetIfAbsent(ctx, "lock:T1", []byte("now"), 30*time.Second)
	if err != nil {
		t.Fatalf("fallback must never surface the transport error: %v", err)
	}
	if !ok {
		t.Fatalf("expected lock to be acquired via local fallback")
	}

	ok2, err := fb.SetIfAbsent(ctx, "lock:T1", []byte("now"), 30*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok2 {
		t.Fatalf("expected second acquire to fail: lock already held in local fallback")
	}
}

func TestFallbackWithNilPrimary(t *testing.T) {
	log := zerolog.New(io.Discard)
	fb := cache.NewFallback(nil, time.Second, log)
	ctx := context.Background()

	if err := fb.SetWithTTL(ctx, "stage:T1", []byte("v"), time.Minute); err != nil {
		t.Fatalf("unexpected error with nil primary: %v", err)
	}
	v, ok, err := fb.Get(ctx, "stage:T1")
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("expected local get to return stored value, got v=%q ok=%v err=%v", v, ok, err)
	}
}
