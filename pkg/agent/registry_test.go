package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAgent is a minimal Agent for registry and runner tests.
type stubAgent struct {
	name string
	run  func(ctx context.Context, actx *Context, emit EmitFunc) (*Result, error)
}

func (s *stubAgent) Name() string { return s.name }

func (s *stubAgent) Run(ctx context.Context, actx *Context, emit EmitFunc) (*Result, error) {
	if s.run == nil {
		return &Result{}, nil
	}
	return s.run(ctx, actx, emit)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	t.Run("get unknown fails typed", func(t *testing.T) {
		_, err := r.Get("nope")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotRegistered)
	})

	t.Run("register and get", func(t *testing.T) {
		a := &stubAgent{name: "a"}
		r.Register("a", a)
		got, err := r.Get("a")
		require.NoError(t, err)
		assert.Same(t, a, got)
		assert.True(t, r.Has("a"))
		assert.False(t, r.Has("b"))
	})

	t.Run("re-register replaces", func(t *testing.T) {
		first := &stubAgent{name: "x"}
		second := &stubAgent{name: "x"}
		r.Register("x", first)
		r.Register("x", second)
		got, err := r.Get("x")
		require.NoError(t, err)
		assert.Same(t, second, got)
	})

	t.Run("list is sorted", func(t *testing.T) {
		r := NewRegistry()
		r.Register("writer", &stubAgent{name: "writer"})
		r.Register("planner", &stubAgent{name: "planner"})
		r.Register("ranker", &stubAgent{name: "ranker"})
		assert.Equal(t, []string{"planner", "ranker", "writer"}, r.List())
	})
}
