package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/config"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/server"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/state"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/types"
)

// ReadingsStore returns stored level readings, newest first.
type ReadingsStore interface {
	Recent(ctx context.Context, limit int) ([]types.Reading, error)
}

// LevelReporter exposes the monitoring loop's progress.
type LevelReporter interface {
	LastLevel() float64
	Cycles() uint64
}

// InputSelector switches the capture device at runtime.
type InputSelector interface {
	SetInput(name string)
}

// ServerDeps are the components the HTTP server exposes. History, Input and
// EventLogPath are optional.
type ServerDeps struct {
	State        *state.State
	Sessions     *server.Manager
	Monitor      LevelReporter
	History      ReadingsStore
	Input        InputSelector
	EventLogPath string
	Gatherer     prometheus.Gatherer
	Version      *VersionChecker
}

// Server is the HTTP front end: the control WebSocket, a small JSON API and metrics.
type Server struct {
	config *config.Config
	deps   ServerDeps
}

// NewServer returns a new Server.
func NewServer(cfg *config.Config, deps ServerDeps) *Server {
	return &Server{config: cfg, deps: deps}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/ws", s.apiKeyAuth(s.deps.Sessions.HandleWebSocket))

	mux.HandleFunc("GET /api/status", s.apiKeyAuth(s.handleAPIStatus))
	mux.HandleFunc("GET /api/readings", s.apiKeyAuth(s.handleAPIReadings))
	mux.HandleFunc("GET /api/events", s.apiKeyAuth(s.handleAPIEvents))
	mux.HandleFunc("GET /api/noise-log", s.apiKeyAuth(s.handleAPINoiseLog))
	mux.HandleFunc("GET /api/devices", s.apiKeyAuth(s.handleAPIDevices))
	mux.HandleFunc("POST /api/audio-input", s.apiKeyAuth(s.handleAPIAudioInput))
	mux.HandleFunc("POST /api/notifications/test/{channel}", s.apiKeyAuth(s.handleAPITestNotification))

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// apiKeyAuth returns middleware that requires the configured API key, passed
// as the X-API-Key header or the api_key query parameter. Without a
// configured key every request is allowed.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := s.config.APIKey()
		if apiKey == "" {
			next(w, r)
			return
		}

		providedKey := r.Header.Get("X-API-Key")
		if providedKey == "" {
			providedKey = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if _, err := w.Write([]byte("ok")); err != nil {
		slog.Debug("failed to write health response", "error", err)
	}
}

// Serve runs the HTTP server on ln until Shutdown is called.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Serve(ln net.Listener) *http.Server {
	slog.Info("starting web server", "addr", ln.Addr().String())

	srv := &http.Server{
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}

// listenAddr returns the listen address for the configured port.
func listenAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}
