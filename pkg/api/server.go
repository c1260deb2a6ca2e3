// Package api serves the router provisioning HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docker/go-plugins-helpers/sdk"
	"github.com/google/uuid"
	"github.com/ovs-container-lab/ovs-router/pkg/metrics"
	"github.com/ovs-container-lab/ovs-router/pkg/router"
	"github.com/ovs-container-lab/ovs-router/pkg/types"
	"github.com/sirupsen/logrus"
)

// Liveness is the body returned by the unauthenticated liveness route.
const Liveness = "It works!"

// manifest is returned on /Plugin.Activate by the unix socket listener.
const manifest = `{"Implements": ["RouterProvisioner"]}`

// Routers is the orchestrator as seen by the API.
type Routers interface {
	Create(ctx context.Context, name string) (string, error)
	Delete(ctx context.Context, name string) (string, error)
	Status(ctx context.Context, name string) (*types.RouterStatus, error)
}

// Server is the HTTP front door of the router daemon.
type Server struct {
	routers Routers
	auth    *BasicAuth
	metrics *metrics.Registry
	logger  *logrus.Logger
	handler http.Handler
}

// NewServer creates a Server.
func NewServer(routers Routers, auth *BasicAuth, reg *metrics.Registry, logger *logrus.Logger) *Server {
	s := &Server{
		routers: routers,
		auth:    auth,
		metrics: reg,
		logger:  logger,
	}

	protect := func(h http.HandlerFunc) http.Handler {
		return auth.Require(h, reg.AuthFailure.Inc)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/{$}", s.handleLiveness)
	mux.Handle("POST /api/v1/router/{name}", protect(s.handleCreate))
	mux.Handle("DELETE /api/v1/router/{name}", protect(s.handleDelete))
	mux.Handle("GET /api/v1/router/{name}", protect(s.handleStatus))
	mux.Handle("GET /metrics", reg.Handler())

	s.handler = s.logRequests(mux)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	fmt.Fprint(w, body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, router.ErrInvalidName) {
		code = http.StatusBadRequest
	}
	requestLogger(r, s.logger).WithError(err).Error("Request failed")
	writeText(w, code, err.Error())
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, Liveness)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	msg, err := s.routers.Create(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeText(w, http.StatusOK, msg)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	msg, err := s.routers.Delete(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeText(w, http.StatusOK, msg)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.routers.Status(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		requestLogger(r, s.logger).WithError(err).Warn("Failed to encode status")
	}
}

// ListenAndServe serves the API on a TCP address until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Infof("Listening on %s", l.Addr())
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeUnix serves the API on a unix socket through the Docker plugin SDK
// handler until ctx is cancelled. gid, when non-zero, owns the socket.
func (s *Server) ServeUnix(ctx context.Context, path string, gid int) error {
	// Ensure the socket directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	// Remove any existing socket
	os.Remove(path)

	l, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	if gid != 0 {
		if err := os.Chown(path, 0, gid); err != nil {
			l.Close()
			return fmt.Errorf("failed to chown socket: %w", err)
		}
	}
	if err := os.Chmod(path, 0660); err != nil {
		l.Close()
		return fmt.Errorf("failed to chmod socket: %w", err)
	}

	h := sdk.NewHandler(manifest)
	h.HandleFunc("/", s.handler.ServeHTTP)

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	s.logger.Infof("Listening on %s", path)
	if err := h.Serve(l); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func requestLogger(r *http.Request, logger *logrus.Logger) *logrus.Entry {
	entry := logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	})
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		entry = entry.WithField("request_id", id)
	}
	return entry
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))
		w.Header().Set("X-Request-Id", id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.APIRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()

		requestLogger(r, s.logger).WithFields(logrus.Fields{
			"status":   rec.code,
			"duration": time.Since(start),
		}).Debug("Handled request")
	})
}
