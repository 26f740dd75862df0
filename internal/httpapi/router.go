package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	appmw "github.com/reconlabs/txreconcile/internal/middleware"
	"github.com/reconlabs/txreconcile/internal/observability"
)

// RouterConfig holds the tunables NewRouter needs beyond its handlers.
type RouterConfig struct {
	AllowedOrigins  []string
	APIKey          string
	APIKeyHeader    string
	RateLimitRPM    int
	RateLimitOn     bool
	RequestTimeout  time.Duration
	MaxBodyBytes    int64
}

// ReadinessChecker reports whether backing dependencies are reachable.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// NewRouter assembles the dashboard's chi router: the ambient middleware
// chain (CORS → security headers → request ID → panic recovery →
// request logger → body size limit, then auth → rate limit → timeout on
// the /v1 routes), mirroring the teacher's router ordering, then the
// query routes. Auth runs before the rate limiter so the limiter can key
// on the validated API key.
func NewRouter(h *Handlers, ready ReadinessChecker, metrics *observability.Metrics, appLogger zerolog.Logger, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(appmw.CORS(cfg.AllowedOrigins))
	r.Use(appmw.SecurityHeaders)
	r.Use(appmw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(appLogger))
	r.Use(maxBodySize(cfg.MaxBodyBytes))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "txreconcile"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		if err := ready.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	if metrics != nil {
		r.Get("/metrics", metrics.Handler())
	}

	auth := appmw.NewAuth(cfg.APIKey, cfg.APIKeyHeader)
	rateLimiter := appmw.NewRateLimiter(appLogger, cfg.RateLimitOn, cfg.RateLimitRPM)

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Handler)
		r.Use(rateLimiter.Handler)
		r.Use(appmw.Timeout(cfg.RequestTimeout))

		r.Get("/stats", h.Stats)
		r.Get("/stats/timeline", h.Timeline)
		r.Get("/transactions", h.Transactions)
		r.Get("/transactions/{txnID}", func(w http.ResponseWriter, r *http.Request) {
			h.TransactionByID(w, r, chi.URLParam(r, "txnID"))
		})
		r.Get("/mismatches", h.Mismatches)
		r.Get("/verdicts/recent", h.RecentVerdicts)
	})

	return r
}

func maxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", r.Header.Get("X-Request-ID")).
				Int("status", rw.Status()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}
