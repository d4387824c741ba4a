package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPBackendInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)

		json.NewEncoder(w).Encode(completionResponse{Output: `[]`, Confidence: 1.7})
	}))
	defer srv.Close()

	b := NewHTTPBackend(HTTPConfig{
		ID:       "remote",
		Role:     RoleDeepExecutor,
		Endpoint: srv.URL,
		APIKey:   "test-key",
		Model:    "test-model",
		Timeout:  time.Second,
	})

	resp, err := b.Invoke(context.Background(), &Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, `[]`, resp.Output)
	assert.Equal(t, 1.0, resp.RawConfidence, "confidence is clamped to [0,1]")
}

func TestHTTPBackendErrors(t *testing.T) {
	t.Run("server error maps to unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		b := NewHTTPBackend(HTTPConfig{ID: "b", Endpoint: srv.URL, Timeout: time.Second, Profile: Profile{Local: true}})
		_, err := b.Invoke(context.Background(), &Request{Prompt: "p"})
		assert.ErrorIs(t, err, ErrBackendUnavailable)
	})

	t.Run("gateway timeout maps to timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusGatewayTimeout)
		}))
		defer srv.Close()

		b := NewHTTPBackend(HTTPConfig{ID: "b", Endpoint: srv.URL, Timeout: time.Second, Profile: Profile{Local: true}})
		_, err := b.Invoke(context.Background(), &Request{Prompt: "p"})
		assert.ErrorIs(t, err, ErrBackendTimeout)
	})

	t.Run("deadline exceeded maps to timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()

		b := NewHTTPBackend(HTTPConfig{ID: "b", Endpoint: srv.URL, Timeout: time.Second, Profile: Profile{Local: true}})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := b.Invoke(ctx, &Request{Prompt: "p"})
		assert.ErrorIs(t, err, ErrBackendTimeout)
	})

	t.Run("cancellation passes through", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()

		b := NewHTTPBackend(HTTPConfig{ID: "b", Endpoint: srv.URL, Timeout: time.Second, Profile: Profile{Local: true}})
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		_, err := b.Invoke(ctx, &Request{Prompt: "p"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestHTTPBackendAvailable(t *testing.T) {
	tests := []struct {
		name string
		cfg  HTTPConfig
		want bool
	}{
		{"local with endpoint", HTTPConfig{Endpoint: "http://localhost", Profile: Profile{Local: true}}, true},
		{"no endpoint", HTTPConfig{Profile: Profile{Local: true}}, false},
		{"remote without key", HTTPConfig{Endpoint: "https://api.example.com"}, false},
		{"remote with key", HTTPConfig{Endpoint: "https://api.example.com", APIKey: "k"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewHTTPBackend(tt.cfg).Available())
		})
	}
}
