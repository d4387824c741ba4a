package backend

import "context"

// Func adapts a plain function to the Backend contract. Used in tests and for
// in-process stub backends.
type Func struct {
	BackendID   string
	BackendRole Role
	CostProfile Profile
	Fn          func(ctx context.Context, req *Request) (*Response, error)
	Unavailable bool
}

// Invoke calls the wrapped function.
func (f *Func) Invoke(ctx context.Context, req *Request) (*Response, error) {
	return f.Fn(ctx, req)
}

// ID returns the backend identifier.
func (f *Func) ID() string { return f.BackendID }

// Role returns the registered role.
func (f *Func) Role() Role { return f.BackendRole }

// Available reports configured reachability.
func (f *Func) Available() bool { return !f.Unavailable }

// Profile returns the cost/latency profile.
func (f *Func) Profile() Profile { return f.CostProfile }
