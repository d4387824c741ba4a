// Package backend defines the inference backend contract and the role-tagged
// registry the pipeline dispatches through. Every backend is an opaque
// function behind the same Invoke contract; the pipeline stays indifferent to
// what model a backend runs or where it executes.
package backend

import (
	"context"
	"errors"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ROLES
// ═══════════════════════════════════════════════════════════════════════════════

// Role tags what a backend is registered to do. Routing and dispatch select
// backends by role, never by identifier, so new backends can be added without
// touching pipeline logic.
type Role string

const (
	RoleClassifier        Role = "classifier"
	RoleFastExecutor      Role = "fast-executor"
	RoleDeepExecutor      Role = "deep-executor"
	RoleEnsembleMember    Role = "ensemble-member"
	RoleMathValidator     Role = "math-validator"
	RoleLogicValidator    Role = "logic-validator"
	RoleCriticalValidator Role = "critical-validator"
)

// Roles lists every known role, in registry display order.
var Roles = []Role{
	RoleClassifier,
	RoleFastExecutor,
	RoleDeepExecutor,
	RoleEnsembleMember,
	RoleMathValidator,
	RoleLogicValidator,
	RoleCriticalValidator,
}

// ═══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ═══════════════════════════════════════════════════════════════════════════════

var (
	// ErrBackendUnavailable indicates the backend could not be reached or
	// refused the call. Transient; call sites retry once.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrBackendTimeout indicates the call exceeded its deadline. Treated
	// identically to unavailability by retry policy.
	ErrBackendTimeout = errors.New("backend timeout")

	// ErrNoBackend indicates no backend is registered for a requested role.
	ErrNoBackend = errors.New("no backend registered for role")
)

// ═══════════════════════════════════════════════════════════════════════════════
// CONTRACT
// ═══════════════════════════════════════════════════════════════════════════════

// Request is the input to a backend invocation.
type Request struct {
	// Prompt is the instruction for the backend.
	Prompt string `json:"prompt"`

	// Context is optional additional context (e.g., a fast backend's output
	// fed to the deep backend on the hybrid track).
	Context string `json:"context,omitempty"`

	// MaxTokens bounds the response length. Zero means backend default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls sampling randomness.
	Temperature float64 `json:"temperature,omitempty"`
}

// Response is a backend's answer.
type Response struct {
	// Output is the raw payload, expected to be JSON for structured calls.
	Output string `json:"output"`

	// RawConfidence is the backend's self-reported confidence (0-1).
	RawConfidence float64 `json:"raw_confidence"`

	// LatencyMs is how long the invocation took.
	LatencyMs int64 `json:"latency_ms"`
}

// Profile describes a backend's cost/latency characteristics. This is
// deployment-time registry data; pipeline logic never branches on it.
type Profile struct {
	// CostPerCall is the estimated cost in USD per invocation.
	CostPerCall float64 `json:"cost_per_call"`

	// TypicalLatency is the expected response time.
	TypicalLatency time.Duration `json:"typical_latency"`

	// Local is true when the backend runs on local hardware.
	Local bool `json:"local"`
}

// Backend is the contract every inference backend satisfies.
type Backend interface {
	// Invoke sends a request and returns the response. Implementations must
	// honor ctx cancellation and map transport failures onto
	// ErrBackendUnavailable / ErrBackendTimeout.
	Invoke(ctx context.Context, req *Request) (*Response, error)

	// ID returns the backend identifier (unique within the registry).
	ID() string

	// Role returns the role this backend is registered for.
	Role() Role

	// Available reports whether the backend is configured and reachable.
	Available() bool

	// Profile returns the backend's cost/latency profile.
	Profile() Profile
}
