package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/cleanup"
	"github.com/nhle/mail-triage/internal/metrics"
)

// Server exposes the one-click cleanup endpoint plus health and metrics.
// It binds to localhost by default; the cleanup token is the only
// authentication on the cleanup route.
type Server struct {
	reconciler *cleanup.Reconciler
	metrics    *metrics.Metrics
	registry   *prometheus.Registry
	logger     *zap.Logger
	httpServer *http.Server
}

// New creates the server bound to addr.
func New(
	addr string,
	rc *cleanup.Reconciler,
	mt *metrics.Metrics,
	registry *prometheus.Registry,
	logger *zap.Logger,
) *Server {
	s := &Server{
		reconciler: rc,
		metrics:    mt,
		registry:   registry,
		logger:     logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/cleanup/{token}", s.handleCleanup).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return s
}

// Start runs the listener until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http listener started", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleCleanup resolves a digest cleanup token. GET so the link in a
// digest email works with a plain click; replays are idempotent.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	result := s.reconciler.Cleanup(r.Context(), token)
	s.metrics.CleanupsTotal.Inc()

	status := http.StatusOK
	if !result.Success {
		status = http.StatusNotFound
	}

	if r.Header.Get("Accept") == "application/json" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(result); err != nil {
			s.logger.Warn("encoding cleanup result", zap.Error(err))
		}
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, renderCleanupPage(result))
}

// handleHealthz reports liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// renderCleanupPage builds the human-facing result page a digest link
// lands on.
func renderCleanupPage(result cleanup.Result) string {
	page := `<html><body style="font-family: sans-serif; max-width: 480px; margin: 40px auto;">`

	switch {
	case !result.Success:
		page += "<h2>Cleanup failed</h2><p>" + html.EscapeString(result.Error) + "</p>"
	case result.AlreadyCleaned:
		page += "<h2>Already cleaned</h2><p>This digest was cleaned up earlier. Nothing left to do.</p>"
	default:
		page += "<h2>Cleanup complete</h2>"
		page += fmt.Sprintf(
			"<p>%d archived, %d kept in your inbox, %d no longer in the mailbox.</p>",
			result.Archived, result.Kept, result.Deleted,
		)
	}

	page += "</body></html>"
	return page
}
