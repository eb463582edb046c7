package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/faqdesk/sentry-watchdog/internal/history"
	"github.com/faqdesk/sentry-watchdog/internal/models"
	"github.com/faqdesk/sentry-watchdog/internal/watchdog"
)

// StatusServer is the HTTP admin surface: Prometheus metrics, a liveness
// endpoint, and the per-target status view.
type StatusServer struct {
	server  *http.Server
	handler http.Handler
	logger  *slog.Logger
}

type statuszPayload struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Targets     []models.TargetStatus   `json:"targets"`
	Incidents   []history.TargetStats   `json:"incidents,omitempty"`
	Recent      []history.EpisodeDigest `json:"recent_episodes,omitempty"`
}

// NewStatusServer wires the admin mux. board and recorder may be nil; the
// corresponding sections are simply absent.
func NewStatusServer(addr string, board *watchdog.Board, recorder *history.Recorder, logger *slog.Logger) *StatusServer {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	})
	mux.HandleFunc("/statusz", func(w http.ResponseWriter, r *http.Request) {
		payload := statuszPayload{GeneratedAt: time.Now().UTC()}
		if board != nil {
			payload.Targets = board.Statuses()
		}
		if recorder != nil {
			payload.Incidents = recorder.Stats()
			payload.Recent = recorder.Recent(20)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logger.Warn("statusz encode failed", slog.Any("error", err))
		}
	})

	return &StatusServer{
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		handler: mux,
		logger:  logger,
	}
}

// Start serves until Shutdown; a graceful exit returns http.ErrServerClosed.
func (s *StatusServer) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the admin mux (useful for tests).
func (s *StatusServer) Handler() http.Handler {
	return s.handler
}
