package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/verity/internal/backend"
	"github.com/normanking/verity/internal/task"
)

func classifierBackend(t *testing.T, fn func(ctx context.Context, req *backend.Request) (*backend.Response, error)) *backend.Registry {
	t.Helper()
	r := backend.NewRegistry()
	require.NoError(t, r.Register(&backend.Func{
		BackendID:   "clf",
		BackendRole: backend.RoleClassifier,
		Fn:          fn,
	}))
	return r
}

func sampleTask() *task.Task {
	return &task.Task{
		ID:       "task-1",
		Document: "Revenue grew 12% year over year.",
		Features: task.FeatureSet{
			Length:         320,
			Sections:       map[string]bool{"md&a": true},
			NumericDensity: 0.2,
		},
	}
}

func TestClassify(t *testing.T) {
	reg := classifierBackend(t, func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
		assert.Contains(t, req.Prompt, "numeric_density=0.200")
		assert.NotContains(t, req.Prompt, "Revenue grew", "classifier sees features, not document text")
		return &backend.Response{Output: `{"complexity": 0.62, "materiality": true}`}, nil
	})

	c := New(reg, time.Second)
	cls, err := c.Classify(context.Background(), sampleTask())
	require.NoError(t, err)

	assert.Equal(t, 0.62, cls.ComplexityScore)
	assert.True(t, cls.MaterialityFlag)
	assert.False(t, cls.Fallback)
	assert.NotEmpty(t, cls.FeatureDigest)
}

func TestClassifyChattyOutput(t *testing.T) {
	reg := classifierBackend(t, func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
		return &backend.Response{Output: "Sure, here you go: {\"complexity\": 1.4, \"materiality\": false} hope that helps"}, nil
	})

	c := New(reg, time.Second)
	cls, err := c.Classify(context.Background(), sampleTask())
	require.NoError(t, err)
	assert.Equal(t, 1.0, cls.ComplexityScore, "score clamps to [0,1]")
}

func TestClassifyRetriesOnce(t *testing.T) {
	calls := 0
	reg := classifierBackend(t, func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
		calls++
		if calls == 1 {
			return nil, backend.ErrBackendUnavailable
		}
		return &backend.Response{Output: `{"complexity": 0.2, "materiality": false}`}, nil
	})

	c := New(reg, time.Second)
	cls, err := c.Classify(context.Background(), sampleTask())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0.2, cls.ComplexityScore)
}

func TestClassifyExhaustedRetries(t *testing.T) {
	calls := 0
	reg := classifierBackend(t, func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
		calls++
		return nil, backend.ErrBackendTimeout
	})

	c := New(reg, time.Second)
	_, err := c.Classify(context.Background(), sampleTask())
	assert.ErrorIs(t, err, backend.ErrBackendTimeout)
	assert.Equal(t, 2, calls, "exactly one retry")
}

func TestClassifyUnparseableOutput(t *testing.T) {
	reg := classifierBackend(t, func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
		return &backend.Response{Output: "no json here"}, nil
	})

	c := New(reg, time.Second)
	_, err := c.Classify(context.Background(), sampleTask())
	assert.ErrorIs(t, err, backend.ErrBackendUnavailable)
}

func TestClassifyNoBackend(t *testing.T) {
	c := New(backend.NewRegistry(), time.Second)
	_, err := c.Classify(context.Background(), sampleTask())
	assert.ErrorIs(t, err, backend.ErrNoBackend)
}

func TestClassifyNonRetryableError(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	reg := classifierBackend(t, func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
		calls++
		return nil, boom
	})

	c := New(reg, time.Second)
	_, err := c.Classify(context.Background(), sampleTask())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestConservative(t *testing.T) {
	cls := Conservative(sampleTask())
	assert.Equal(t, 1.0, cls.ComplexityScore)
	assert.True(t, cls.MaterialityFlag)
	assert.True(t, cls.Fallback)
	assert.NotEmpty(t, cls.FeatureDigest)
}
