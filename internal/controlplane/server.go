// Package controlplane is the daemon's local, authenticated HTTP surface:
// status, upload lifecycle management, and an on-demand sync trigger for
// the SDK and CLI to poll and drive.
package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Server is the daemon's local control plane: an HTTP server bound to
// loopback, token-gated, exposing status/sync/upload routes.
type Server struct {
	addr  string
	token string

	httpServer *http.Server
	stats      *httpStats
}

// Config configures a Server. Addr defaults to 127.0.0.1:7938. Token, if
// empty, is generated.
type Config struct {
	Addr  string
	Token string
}

const DefaultAddr = "127.0.0.1:7938"

// New builds a Server bound to registry (for uploads) and sync (for the
// on-demand trigger). Either may be nil: a nil registry makes the upload
// routes answer 503 and GET /v1/sync/status report an empty list; a nil
// sync makes POST /v1/sync/now answer 503.
func New(cfg Config, registry UploadRegistry, sync SyncTrigger) (*Server, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	token := cfg.Token
	if token == "" {
		token = uuid.NewString()
	}

	stats := &httpStats{}
	handler := setupRoutes(stats, registry, sync, RouteConfig{Token: token})

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return &Server{addr: addr, token: token, httpServer: httpServer, stats: stats}, nil
}

// Token returns the bearer token SDK callers must present.
func (s *Server) Token() string { return s.token }

// URL returns the http:// base URL a caller on this host reaches the
// control plane at.
func (s *Server) URL() (string, error) {
	host, port, err := net.SplitHostPort(s.addr)
	if err != nil {
		return "", fmt.Errorf("control plane: parse addr: %w", err)
	}
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	u := &url.URL{Scheme: "http", Host: net.JoinHostPort(host, port)}
	return u.String(), nil
}

// Start blocks serving HTTP until the server is stopped.
func (s *Server) Start() error {
	slog.Info("control plane starting", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control plane: listen: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	slog.Info("control plane stopping")
	return s.httpServer.Shutdown(ctx)
}
