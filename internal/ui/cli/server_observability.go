package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	"graphedit/internal/core/app"
	"graphedit/internal/core/ports"
	"graphedit/internal/shared/observability"
	"graphedit/internal/shared/util"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ObservabilityServer struct {
	addr          string
	healthService *app.HealthService
	editor        ports.EditorService
	limiters      *util.LimiterRegistry
	metrics       bool
	server        *http.Server
}

func NewObservabilityServer(addr string, healthService *app.HealthService, editor ports.EditorService, limiters *util.LimiterRegistry, metrics bool) *ObservabilityServer {
	return &ObservabilityServer{
		addr:          addr,
		healthService: healthService,
		editor:        editor,
		limiters:      limiters,
		metrics:       metrics,
	}
}

// Handler builds the routes served by Start.
func (s *ObservabilityServer) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.metrics {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := s.healthService.Check(r.Context())
		code := http.StatusOK
		if status.Status != "up" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	})

	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		matcher, err := util.CompileMatcher(r.URL.Query().Get("match"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, filterHistory(s.editor.History(), matcher))
	})

	return s.rateLimit(mux)
}

func (s *ObservabilityServer) rateLimit(next http.Handler) http.Handler {
	if s.limiters == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := s.limiters.Get(clientKey(r))
		if !limiter.Allow() {
			observability.APIRateLimitedTotal.Inc()
			wait := math.Ceil(limiter.RetryAfter().Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(max(int(wait), 1)))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

func (s *ObservabilityServer) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	slog.Info("observability server starting", "addr", s.addr, "metrics", s.metrics)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("observability server failed", "error", err)
		}
	}()

	return nil
}

func (s *ObservabilityServer) Stop(ctx context.Context) error {
	if s.limiters != nil {
		s.limiters.Close()
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
