package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// mock-target simulates a monitored database service: a /health endpoint
// with pool stats that the watchdog probes, plus admin toggles so failure
// and recovery can be exercised by hand.

type poolStats struct {
	Size       int `json:"pool_size"`
	CheckedIn  int `json:"checked_in"`
	CheckedOut int `json:"checked_out"`
	Overflow   int `json:"overflow"`
	Invalid    int `json:"invalid"`
}

type targetState struct {
	mu      sync.Mutex
	healthy bool
	message string
	pool    poolStats
}

func (s *targetState) snapshot() (bool, string, poolStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy, s.message, s.pool
}

func (s *targetState) setHealthy(healthy bool, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
	s.message = message
}

func (s *targetState) setPool(size, checkedOut int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if size > 0 {
		s.pool.Size = size
	}
	if checkedOut >= 0 {
		s.pool.CheckedOut = checkedOut
		s.pool.CheckedIn = s.pool.Size - checkedOut
		if s.pool.CheckedIn < 0 {
			s.pool.CheckedIn = 0
			s.pool.Overflow = checkedOut - s.pool.Size
		}
	}
}

func main() {
	state := &targetState{
		healthy: true,
		pool:    poolStats{Size: 10, CheckedIn: 10},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		healthy, message, pool := state.snapshot()
		if healthy {
			writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "pool": pool})
			return
		}
		if message == "" {
			message = "simulated outage"
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "message": message, "pool": pool})
	})

	mux.HandleFunc("/admin/fail", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		state.setHealthy(false, r.URL.Query().Get("message"))
		writeJSON(w, http.StatusOK, map[string]any{"status": "unhealthy"})
	})

	mux.HandleFunc("/admin/recover", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		state.setHealthy(true, "")
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
	})

	mux.HandleFunc("/admin/pool", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		size := intQuery(r, "size", -1)
		checkedOut := intQuery(r, "checked_out", -1)
		state.setPool(size, checkedOut)
		_, _, pool := state.snapshot()
		writeJSON(w, http.StatusOK, pool)
	})

	logger := log.New(log.Writer(), "mock-target ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func intQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
