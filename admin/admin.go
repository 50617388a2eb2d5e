// Package admin serves a small HTTP surface for checking on and reloading a running routelog process.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/routelog/runtime"
	"net"
	"net/http"
	"time"
)

// ShutdownTimeout limits how long in-flight requests get to finish once the server is stopping.
var ShutdownTimeout = 5 * time.Second

// Controller is the part of the runtime exposed over HTTP.
type Controller interface {
	Stats() runtime.Stats
	Reload() error
}

var _ Controller = (*runtime.Runtime)(nil)

type Server struct {
	log    hclog.Logger
	ctl    Controller
	router *chi.Mux
}

func New(log hclog.Logger, ctl Controller) *Server {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	s := &Server{
		log: log.Named("admin"),
		ctl: ctl,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Post("/reload", s.handleReload)
	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("Handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request-id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start).String(),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.ctl.Stats())
}

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctl.Reload(); err != nil {
		s.log.Warn("Reload rejected", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(err.Error()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		errs <- srv.Serve(ln)
	}()
	s.log.Info("Admin server listening", "address", ln.Addr().String())

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
