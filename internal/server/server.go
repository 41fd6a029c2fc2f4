// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package server is the thin HTTP adapter over the retrieval core. Callers
// are authenticated upstream; the subject arrives in trusted X-Subject-*
// headers and every document decision goes through the authorizer.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	mederr "github.com/sigil-dev/medrag/pkg/errors"
	"github.com/sigil-dev/medrag/pkg/health"
)

// Version is reported in the OpenAPI document.
var Version = "0.1.0"

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr  string
	CORSOrigins []string
	// TrustedProxies restricts which peers may assert subject headers and
	// forwarded client IPs. Empty trusts every peer.
	TrustedProxies []string
	RateLimit      RateLimitConfig
	// EnableHSTS adds Strict-Transport-Security to every response.
	EnableHSTS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server wraps a chi router with huma API and HTTP server.
type Server struct {
	router   chi.Router
	api      huma.API
	cfg      Config
	services *Services

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Server with chi router, huma API, health endpoint, and
// the subject, proxy, CORS and rate limit middleware.
func New(cfg Config) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, mederr.New(mederr.CodeServerConfigInvalid, "listen address is required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	// Generation may take up to a minute; leave headroom for retrieval.
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 90 * time.Second
	}
	if err := cfg.RateLimit.Validate(); err != nil {
		return nil, err
	}
	for _, origin := range cfg.CORSOrigins {
		if strings.TrimSpace(origin) == "*" {
			return nil, mederr.New(mederr.CodeServerConfigInvalid,
				"wildcard CORS origin is not allowed with credentialed requests")
		}
	}

	var trusted []*net.IPNet
	if len(cfg.TrustedProxies) > 0 {
		var err error
		if trusted, err = parseTrustedProxies(cfg.TrustedProxies); err != nil {
			return nil, err
		}
	}

	srv := &Server{
		cfg:  cfg,
		done: make(chan struct{}),
	}

	r := chi.NewRouter()

	// Subject headers are judged against the direct peer, so this runs
	// before any forwarded-IP rewriting.
	r.Use(middleware.Recoverer)
	r.Use(securityHeadersMiddleware(cfg.EnableHSTS))
	r.Use(requestIDMiddleware)
	r.Use(subjectMiddleware(trusted))
	if trusted != nil {
		r.Use(trustedProxyRealIP(trusted))
	}
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(rateLimitMiddleware(cfg.RateLimit, srv.done))

	humaConfig := huma.DefaultConfig("medrag", Version)
	humaConfig.Info.Description = "Role-aware retrieval-augmented answers over clinical documents"
	api := humachi.New(r, humaConfig)

	srv.router = r
	srv.api = api

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, srv.handleHealth)

	return srv, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API for registering additional operations.
func (s *Server) API() huma.API {
	return s.api
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return mederr.Errorf(mederr.CodeServerConfigInvalid, "listening on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = s.Close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	defer func() { _ = s.Close() }()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return mederr.Wrap(err, mederr.CodeServerInternalFailure, "shutting down")
	}

	return <-errCh
}

// Close stops background goroutines. It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// HealthResponse wraps the health report.
type HealthResponse struct {
	Body health.Report
}

func (s *Server) handleHealth(_ context.Context, _ *struct{}) (*HealthResponse, error) {
	if s.services == nil || s.services.health == nil {
		return &HealthResponse{Body: health.NewReport(nil)}, nil
	}
	return &HealthResponse{Body: s.services.health()}, nil
}

func securityHeadersMiddleware(hsts bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Cache-Control", "no-store")
			h.Set("X-XSS-Protection", "0")
			if hsts {
				h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", requestIDHeader,
			HeaderSubjectID, HeaderSubjectRole, HeaderSubjectDepartment, HeaderSubjectPatients,
		},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
