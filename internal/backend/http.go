package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxErrorBodySize limits how much of an error response body is read (1MB).
// Prevents memory exhaustion from malformed error responses.
const MaxErrorBodySize = 1 * 1024 * 1024

// HTTPConfig configures an HTTP-backed inference backend.
type HTTPConfig struct {
	// ID is the backend identifier.
	ID string

	// Role is the registry role this backend serves.
	Role Role

	// Endpoint is the completion API base URL.
	Endpoint string

	// APIKey authenticates remote backends. Empty for local backends.
	APIKey string

	// Model is the model identifier passed to the endpoint.
	Model string

	// Timeout bounds each invocation. Every backend call carries one.
	Timeout time.Duration

	// Profile is the backend's cost/latency profile.
	Profile Profile
}

// HTTPBackend invokes an OpenAI-style completion endpoint over HTTP.
type HTTPBackend struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPBackend creates an HTTP backend with defaults applied.
func NewHTTPBackend(cfg HTTPConfig) *HTTPBackend {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// ID returns the backend identifier.
func (h *HTTPBackend) ID() string { return h.cfg.ID }

// Role returns the registered role.
func (h *HTTPBackend) Role() Role { return h.cfg.Role }

// Profile returns the cost/latency profile.
func (h *HTTPBackend) Profile() Profile { return h.cfg.Profile }

// Available reports whether the backend is configured. Local backends need
// only an endpoint; remote backends need an API key as well.
func (h *HTTPBackend) Available() bool {
	if h.cfg.Endpoint == "" {
		return false
	}
	if !h.cfg.Profile.Local && h.cfg.APIKey == "" {
		return false
	}
	return true
}

// completionRequest is the wire format for the completion endpoint.
type completionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Context     string  `json:"context,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// completionResponse is the wire format of the backend's answer.
type completionResponse struct {
	Output     string  `json:"output"`
	Confidence float64 `json:"confidence"`
}

// Invoke sends the request and maps transport failures onto the pipeline's
// error taxonomy.
func (h *HTTPBackend) Invoke(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	body, err := json.Marshal(completionRequest{
		Model:       h.cfg.Model,
		Prompt:      req.Prompt,
		Context:     req.Context,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.cfg.Endpoint+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%w: %s after %v", ErrBackendTimeout, h.cfg.ID, time.Since(start))
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, h.cfg.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout {
			return nil, fmt.Errorf("%w: %s: status %d", ErrBackendTimeout, h.cfg.ID, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s: status %d: %s", ErrBackendUnavailable, h.cfg.ID, resp.StatusCode, truncate(string(errBody), 200))
	}

	var cr completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("%w: %s: decode response: %v", ErrBackendUnavailable, h.cfg.ID, err)
	}

	return &Response{
		Output:        cr.Output,
		RawConfidence: clampUnit(cr.Confidence),
		LatencyMs:     time.Since(start).Milliseconds(),
	}, nil
}

// isTimeout checks for net errors that report Timeout().
func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// clampUnit bounds a value to [0,1].
func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// truncate shortens s for error messages.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
