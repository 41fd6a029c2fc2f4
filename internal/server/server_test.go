// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/medrag/internal/authz"
	"github.com/sigil-dev/medrag/internal/server"
	"github.com/sigil-dev/medrag/internal/store"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
	"github.com/sigil-dev/medrag/pkg/health"
)

func newTestServer(t *testing.T) *server.Server {
	t.Helper()
	srv, err := server.New(server.Config{
		ListenAddr: "127.0.0.1:0",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = srv.Close()
	})
	return srv
}

func TestServer_New_EmptyListenAddr(t *testing.T) {
	_, err := server.New(server.Config{})
	require.Error(t, err)
	assert.True(t, mederr.HasCode(err, mederr.CodeServerConfigInvalid), "expected CodeServerConfigInvalid, got %s", mederr.CodeOf(err))
	assert.Contains(t, err.Error(), "listen address is required")
}

func TestServer_New_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		cfg    server.Config
		errMsg string
	}{
		{
			name:   "wildcard CORS origin",
			cfg:    server.Config{ListenAddr: "127.0.0.1:0", CORSOrigins: []string{"*"}},
			errMsg: "wildcard CORS origin",
		},
		{
			name:   "bad trusted proxy",
			cfg:    server.Config{ListenAddr: "127.0.0.1:0", TrustedProxies: []string{"not-a-cidr"}},
			errMsg: "not-a-cidr",
		},
		{
			name:   "negative rate",
			cfg:    server.Config{ListenAddr: "127.0.0.1:0", RateLimit: server.RateLimitConfig{RequestsPerSecond: -1}},
			errMsg: "rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := server.New(tt.cfg)
			require.Error(t, err)
			assert.True(t, mederr.HasCode(err, mederr.CodeServerConfigInvalid))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestServer_HealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var report health.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, health.StatusOK, report.Status)
	assert.Empty(t, report.Providers)
}

func TestServer_HealthEndpoint_ReportsProviders(t *testing.T) {
	srv := newTestServer(t)

	docs := store.NewMemoryStore(3).Documents()
	engine, err := authz.NewPolicyEngine(authz.DefaultPolicy(), docs)
	require.NoError(t, err)

	svc, err := server.NewServices(&fakeRAG{docs: docs}, docs, engine, func() health.Report {
		return health.NewReport(map[string]health.Metrics{
			"openai":    {Available: true},
			"anthropic": {Available: false, FailureCount: 3},
		})
	})
	require.NoError(t, err)
	srv.RegisterServices(svc)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var report health.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, health.StatusDegraded, report.Status)
	assert.Equal(t, int64(3), report.Providers["anthropic"].FailureCount)
}

func TestServer_HealthNeedsNoSubject(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_OpenAPISpec(t *testing.T) {
	f := newRouteFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "openapi")

	body := w.Body.String()
	for _, path := range []string{"/api/v1/documents", "/api/v1/documents/{id}/regenerate", "/api/v1/search", "/api/v1/ask"} {
		assert.Contains(t, body, path)
	}
	assert.Contains(t, body, "medrag")
}

func TestServer_SecurityHeaders(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "0", w.Header().Get("X-XSS-Protection"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestServer_HSTSHeader_WhenEnabled(t *testing.T) {
	srv, err := server.New(server.Config{
		ListenAddr: "127.0.0.1:0",
		EnableHSTS: true,
	})
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=")
}

func TestServer_CORSOrigins(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		allowed bool
	}{
		{name: "configured origin", origins: []string{"https://app.example.com", "https://admin.example.com"}, origin: "https://app.example.com", allowed: true},
		{name: "unlisted origin", origins: []string{"https://app.example.com"}, origin: "https://evil.example.com"},
		{name: "default origin", origin: "http://localhost:3000", allowed: true},
		{name: "default rejects others", origin: "http://localhost:5173"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0", CORSOrigins: tt.origins})
			require.NoError(t, err)
			defer func() { _ = srv.Close() }()

			req := httptest.NewRequest(http.MethodOptions, "/api/v1/search", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", "POST")
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			if tt.allowed {
				assert.Equal(t, tt.origin, w.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestServer_GracefulShutdown(t *testing.T) {
	srv := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx, ln)
	}()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx // test request
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down within timeout")
	}
}

func TestServer_CloseIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	assert.NoError(t, srv.Close())
	assert.NoError(t, srv.Close())
}
