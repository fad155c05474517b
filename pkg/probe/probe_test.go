package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProber_Probe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		case "/down":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/redirect":
			http.Redirect(w, r, "/ok", http.StatusFound)
		case "/created":
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer server.Close()

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		outcome        Outcome
		statusCode     int
	}{
		{"healthy", "/ok", 200, OutcomeHealthy, 200},
		{"unexpected status", "/down", 200, OutcomeUnhealthy, 503},
		{"redirect is followed", "/redirect", 200, OutcomeHealthy, 200},
		{"exact match required", "/ok", 201, OutcomeUnhealthy, 200},
		{"non-200 expectation", "/created", 201, OutcomeHealthy, 201},
	}

	prober := NewProber(Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := prober.Probe(context.Background(), server.URL+tt.path, 5*time.Second, tt.expectedStatus)

			assert.Equal(t, tt.outcome, result.Outcome)
			assert.Equal(t, tt.statusCode, result.StatusCode)
			if tt.outcome == OutcomeUnhealthy {
				assert.Contains(t, result.Message, "unexpected status")
			}
		})
	}
}

func TestProber_ConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	result := NewProber(Options{}).Probe(context.Background(), "http://"+addr+"/", 5*time.Second, 200)

	assert.Equal(t, OutcomeUnreachable, result.Outcome)
	assert.Equal(t, MessageConnectionRefused, result.Message)
	assert.Zero(t, result.StatusCode)
}

func TestProber_TimeoutIsUnreachableWithinBound(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	timeout := 500 * time.Millisecond
	start := time.Now()
	result := NewProber(Options{}).Probe(context.Background(), server.URL, timeout, 200)
	elapsed := time.Since(start)

	assert.Equal(t, OutcomeUnreachable, result.Outcome)
	assert.Equal(t, MessageTimedOut, result.Message)
	assert.Less(t, elapsed, timeout+time.Second)
}

func TestProber_InvalidURL(t *testing.T) {
	result := NewProber(Options{}).Probe(context.Background(), "http://[::1", time.Second, 200)

	assert.Equal(t, OutcomeUnreachable, result.Outcome)
	assert.Contains(t, result.Message, "invalid url")
}
