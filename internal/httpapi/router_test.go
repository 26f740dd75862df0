package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/reconlabs/txreconcile/internal/cache"
	"github.com/reconlabs/txreconcile/internal/reconcile"
	"github.com/reconlabs/txreconcile/internal/repository"
	"github.com/reconlabs/txreconcile/internal/stats"
)

func testSetup(t *testing.T) http.Handler {
	t.Helper()
	repo := repository.NewMemory()
	c := cache.NewMemory()
	log := zerolog.New(io.Discard)

	engine := reconcile.NewEngine(c, repo, nil, nil, log, reconcile.EngineConfig{
		AmountTolerance: 0.01,
		TimeTolerance:   300 * time.Second,
		StageTTL:        5 * time.Minute,
		LockTTL:         30 * time.Second,
		Workers:         2,
	})
	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx, 2)
	t.Cleanup(func() {
		cancel()
		engine.Stop()
	})

	projector := stats.NewProjector(repo, c, log)
	handlers := NewHandlers(repo, projector, engine, log)

	return NewRouter(handlers, nil, nil, log, RouterConfig{
		AllowedOrigins: []string{"*"},
		RateLimitRPM:   1000,
		RequestTimeout: 5 * time.Second,
		MaxBodyBytes:   1 << 20,
	})
}

func TestHealthEndpoints(t *testing.T) {
	r := testSetup(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rw := httptest.NewRecorder()
		r.ServeHTTP(rw, req)
		if rw.Result().StatusCode != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", path, rw.Result().StatusCode)
		}
	}
}

func TestStatsEndpoint(t *testing.T) {
	r := testSetup(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Result().StatusCode)
	}
}

func TestMismatchesEndpointAcceptsFilters(t *testing.T) {
	r := testSetup(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/mismatches?severity=HIGH&limit=10", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Result().StatusCode)
	}
}

func TestTimelineRejectsBadInterval(t *testing.T) {
	r := testSetup(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats/timeline?interval=fortnight", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid interval, got %d", rw.Result().StatusCode)
	}
}
