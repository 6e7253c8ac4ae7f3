// Package statsapi serves the latest published frame snapshot over HTTP.
package statsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"pkt.systems/pslog"

	"github.com/daviddao/ramwiz_viewer/internal/snapshot"
)

// NewRouter returns the read-only routes over pub.
func NewRouter(pub *snapshot.Publisher) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		f := pub.Load()
		if f == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no frame rendered yet"})
			return
		}
		writeJSON(w, http.StatusOK, f)
	})
	r.Get("/view", func(w http.ResponseWriter, _ *http.Request) {
		f := pub.Load()
		if f == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no frame rendered yet"})
			return
		}
		writeJSON(w, http.StatusOK, f.View)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Server is a running stats endpoint.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Start listens on addr and serves pub until Shutdown. Serve errors are
// logged to the logger on ctx.
func Start(ctx context.Context, addr string, pub *snapshot.Publisher) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("stats listen %s: %w", addr, err)
	}
	logger := pslog.Ctx(ctx).With("component", "statsapi")
	s := &Server{
		ln: ln,
		srv: &http.Server{
			Handler:           NewRouter(pub),
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          pslog.LogLoggerWithLevel(logger, pslog.ErrorLevel),
		},
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.With("err", err).Error("stats server stopped")
		}
	}()
	logger.Info("stats server listening", "addr", ln.Addr().String())
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Shutdown stops accepting requests and waits for active ones until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("stats shutdown: %w", err)
	}
	return nil
}
