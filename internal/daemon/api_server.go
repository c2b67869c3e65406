package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"discarchive/internal/catalog"
	"discarchive/internal/config"
	"discarchive/internal/drive"
	"discarchive/internal/logging"
)

const defaultCatalogLimit = 50

// DrivesResponse is the body of GET /api/drives.
type DrivesResponse struct {
	Drives []drive.Snapshot `json:"drives"`
}

// DriveResponse is the body of GET /api/drives/{ref}.
type DriveResponse struct {
	Drive drive.Snapshot `json:"drive"`
}

// CatalogResponse is the body of GET /api/catalog.
type CatalogResponse struct {
	Records []catalog.Record `json:"records"`
	Summary catalog.Summary  `json:"summary"`
}

// apiServer is the read-only HTTP view of the daemon.
type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	limits  *clientLimiters
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	served   chan struct{}
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
		limits: newClientLimiters(apiClientRate, apiClientBurst),
	}
	srv.handler = srv.routes(cfg.Paths.APIToken)
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(token, s.handleStatus))
	mux.HandleFunc("/api/drives", authMiddleware(token, s.handleDrives))
	mux.HandleFunc("/api/drives/", authMiddleware(token, s.handleDrive))
	mux.HandleFunc("/api/catalog", authMiddleware(token, s.handleCatalog))
	mux.HandleFunc("/metrics", authMiddleware(token, s.daemon.metrics.Handler().ServeHTTP))
	return rateLimitMiddleware(s.limits, s.daemon.metrics.APIThrottled, mux)
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	served := make(chan struct{})
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.served = served
	s.mu.Unlock()

	go func() {
		defer close(served)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_server_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check api_bind"),
			)
		}
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

// Addr returns the bound listener address, or nil before start.
func (s *apiServer) Addr() net.Addr {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server, served := s.server, s.served
	s.listener = nil
	s.server = nil
	s.served = nil
	s.mu.Unlock()
	if served == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	<-served
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleDrives(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, DrivesResponse{Drives: s.daemon.Drives()})
}

func (s *apiServer) handleDrive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ref := strings.TrimPrefix(r.URL.Path, "/api/drives/")
	if ref == "" {
		s.writeError(w, http.StatusNotFound, "drive not found")
		return
	}
	// Device paths arrive without their leading slash: /api/drives/dev/sr0.
	if strings.Contains(ref, "/") {
		ref = "/" + ref
	}
	snap, err := s.daemon.Drive(ref)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, DriveResponse{Drive: snap})
}

func (s *apiServer) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := defaultCatalogLimit
	if value := strings.TrimSpace(r.URL.Query().Get("limit")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	if s.daemon.catalog == nil {
		s.writeError(w, http.StatusNotFound, "catalog disabled")
		return
	}
	records, err := s.daemon.Catalog(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	summary, err := s.daemon.CatalogSummary(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, CatalogResponse{Records: records, Summary: summary})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
