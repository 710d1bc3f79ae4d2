package agentpay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func namedSkill(name string) Skill {
	return SkillFunc(func(context.Context, *Task) (*Result, error) {
		return &Result{Deliverable: name}, nil
	})
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()
	r.Register("research", namedSkill("research"))
	r.Register("code", namedSkill("code"))

	s, ok := r.Resolve("code")
	require.True(t, ok)
	res, err := s.Execute(context.Background(), &Task{})
	require.NoError(t, err)
	require.Equal(t, "code", res.Deliverable)

	_, ok = r.Resolve("juggling")
	require.False(t, ok)
}

func TestRegistry_DefaultCatchesUnknown(t *testing.T) {
	r := NewRegistry()
	r.Register("research", namedSkill("research"))
	r.SetDefault(namedSkill("default"))

	s, ok := r.Resolve("juggling")
	require.True(t, ok)
	res, err := s.Execute(context.Background(), &Task{})
	require.NoError(t, err)
	require.Equal(t, "default", res.Deliverable)

	// Registered categories still win over the default.
	s, _ = r.Resolve("research")
	res, _ = s.Execute(context.Background(), &Task{})
	require.Equal(t, "research", res.Deliverable)
}

func TestRegistry_MiddlewareOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("research", namedSkill("base"))

	var calls []string
	tag := func(name string) Middleware {
		return func(next Skill) Skill {
			return SkillFunc(func(ctx context.Context, task *Task) (*Result, error) {
				calls = append(calls, name)
				return next.Execute(ctx, task)
			})
		}
	}
	r.Use(tag("outer"))
	r.Use(tag("inner"))

	s, ok := r.Resolve("research")
	require.True(t, ok)
	res, err := s.Execute(context.Background(), &Task{})
	require.NoError(t, err)
	require.Equal(t, "base", res.Deliverable)
	require.Equal(t, []string{"outer", "inner"}, calls)
}
