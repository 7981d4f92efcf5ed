// Package server exposes the HTTP API: metadata lookups, download and
// streaming endpoints, progress events, cancellation, and disk statistics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clipstream/internal/deps"
	"clipstream/internal/diskspace"
	"clipstream/internal/jobs"
	"clipstream/internal/logging"
	"clipstream/internal/progress"
	"clipstream/internal/ytdlp"
)

// Services bundles the shared components the handlers operate on.
type Services struct {
	Client   *ytdlp.Client
	Runner   *ytdlp.Runner
	Store    *progress.Store
	Registry *jobs.Registry
	Disk     *diskspace.Manager
	// TokenMaxAge bounds how old a token may get before the downloads view
	// sweeps it as stale.
	TokenMaxAge time.Duration
	// DepsCheck supplies dependency statuses for the health endpoint.
	DepsCheck func(ctx context.Context) []deps.Status
}

// Server is the HTTP front end. It owns the listener and shuts down with
// the daemon context.
type Server struct {
	bind   string
	logger *slog.Logger
	svc    Services

	listener net.Listener
	server   *http.Server
}

// New constructs the server. The returned server does not listen until
// Start is called.
func New(bind string, svc Services, logger *slog.Logger) (*Server, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, errors.New("listen address required")
	}
	if svc.Client == nil || svc.Runner == nil || svc.Store == nil || svc.Registry == nil || svc.Disk == nil {
		return nil, errors.New("all services are required")
	}
	if svc.TokenMaxAge <= 0 {
		svc.TokenMaxAge = time.Hour
	}

	srv := &Server{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		svc:    svc,
	}
	// Streaming and SSE responses are open-ended, so only the header read
	// gets a server-side timeout.
	srv.server = &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv, nil
}

// Handler returns the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/info", s.handleInfo)
	mux.HandleFunc("/api/formats", s.handleFormats)
	mux.HandleFunc("/api/stream", s.handleStream)
	mux.HandleFunc("/api/download", s.handleDownload)
	mux.HandleFunc("/api/progress/", s.handleProgress)
	mux.HandleFunc("/api/cancel/", s.handleCancel)
	mux.HandleFunc("/api/downloads", s.handleDownloads)
	mux.HandleFunc("/api/disk-stats", s.handleDiskStats)
	mux.HandleFunc("/api/playlist/zip", s.handlePlaylistZip)
	return mux
}

// Start begins serving and arranges shutdown when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down outside of context cancellation.
func (s *Server) Stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError splits a wrapped service error into a short summary
// and the remaining detail chain.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	summary, details, _ := strings.Cut(err.Error(), ": ")
	payload := map[string]string{"error": summary}
	if details != "" {
		payload["details"] = details
	}
	s.writeJSON(w, statusFor(err), payload)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ytdlp.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ytdlp.ErrNotFound), errors.Is(err, ytdlp.ErrContent), errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrAlreadyCancelled):
		return http.StatusConflict
	case errors.Is(err, ytdlp.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ytdlp.ErrQuota):
		return http.StatusInsufficientStorage
	case errors.Is(err, ytdlp.ErrToolMissing), errors.Is(err, ytdlp.ErrToolStale):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// requestURL extracts and validates the url query parameter.
func requestURL(r *http.Request) (string, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	return validateURL(raw)
}

func validateURL(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", ytdlp.ErrValidation)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: malformed url", ytdlp.ErrValidation)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", fmt.Errorf("%w: url must be absolute http or https", ytdlp.ErrValidation)
	}
	return raw, nil
}

// pathID extracts the trailing id segment from routes like /api/cancel/{id}.
func pathID(r *http.Request, prefix string) (string, bool) {
	id := strings.TrimPrefix(r.URL.Path, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
