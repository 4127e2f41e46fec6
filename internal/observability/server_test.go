// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

package observability_test

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unirate/unirate/internal/observability"
)

func startServer(t *testing.T, ready observability.ReadinessChecker) *observability.Server {
	t.Helper()
	srv := observability.NewServer("127.0.0.1:0", ready)
	_, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx) //nolint:errcheck
	})
	return srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec,noctx // local test server
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Liveness(t *testing.T) {
	srv := startServer(t, nil)

	status, body := get(t, "http://"+srv.Addr()+"/healthz/liveness")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok\n", body)
}

func TestServer_Readiness(t *testing.T) {
	var ready atomic.Bool
	srv := startServer(t, ready.Load)

	status, body := get(t, "http://"+srv.Addr()+"/healthz/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "not ready\n", body)

	ready.Store(true)
	status, _ = get(t, "http://"+srv.Addr()+"/healthz/readiness")
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_NilCheckerIsReady(t *testing.T) {
	srv := startServer(t, nil)

	status, _ := get(t, "http://"+srv.Addr()+"/healthz/readiness")
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	srv := startServer(t, nil)
	srv.Metrics().LoginsTotal.WithLabelValues("success").Inc()

	status, body := get(t, "http://"+srv.Addr()+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "unirate_logins_total")
	assert.Contains(t, body, "go_goroutines")
}

func TestServer_DoubleStart(t *testing.T) {
	srv := startServer(t, nil)

	_, err := srv.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestServer_StopIsIdempotent(t *testing.T) {
	srv := observability.NewServer("127.0.0.1:0", nil)
	_, err := srv.Start()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, srv.Stop(ctx))
}

func TestServer_BadAddress(t *testing.T) {
	srv := observability.NewServer("256.256.256.256:1", nil)
	_, err := srv.Start()
	assert.Error(t, err)
}
