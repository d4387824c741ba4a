package logging

import (
	"context"
	"time"
)

// DetachContext creates a context that won't be cancelled when parent is.
//
// Fire-and-forget emissions (escalation queue, audit trail, metrics rows)
// must complete even when the task's request context is cancelled.
func DetachContext(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}

// DetachContextWithTimeout creates a detached context with its own timeout,
// so the emission has a deadline independent of the parent's cancellation.
func DetachContextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(parent)
	return context.WithTimeout(detached, timeout)
}
