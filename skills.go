package agentpay

import "context"

// Result is what a skill produces for a completed task.
type Result struct {
	// Deliverable is the content handed back to the requester.
	Deliverable string `json:"deliverable"`
	// Approach describes how the skill tackled the task. Informational.
	Approach string `json:"approach,omitempty"`
}

// Skill executes the actual work for a task category. Implementations are
// external collaborators (research, writing, code, ...); this package only
// routes to them.
type Skill interface {
	Execute(ctx context.Context, task *Task) (*Result, error)
}

// SkillFunc adapts a function to the Skill interface.
type SkillFunc func(ctx context.Context, task *Task) (*Result, error)

// Execute calls the wrapped function.
func (f SkillFunc) Execute(ctx context.Context, task *Task) (*Result, error) { return f(ctx, task) }

// Middleware wraps a Skill to provide cross-cutting concerns.
type Middleware func(Skill) Skill

// Registry routes task categories to skills. The set is closed and explicit:
// categories are registered up front, unknown ones resolve to the default
// skill when one is set.
type Registry struct {
	skills      map[string]Skill
	fallback    Skill
	middlewares []Middleware
}

// NewRegistry creates an empty skill registry.
func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]Skill)}
}

// Register binds a skill to a task category.
func (r *Registry) Register(category string, s Skill) {
	r.skills[category] = s
}

// SetDefault installs the catch-all skill used for unregistered categories.
func (r *Registry) SetDefault(s Skill) {
	r.fallback = s
}

// Use adds middleware(s) to the registry. Middlewares are applied in the
// order they were added.
func (r *Registry) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

// Resolve returns the skill for a category, falling back to the default.
// ok is false when neither exists.
func (r *Registry) Resolve(category string) (Skill, bool) {
	s, ok := r.skills[category]
	if !ok {
		s = r.fallback
	}
	if s == nil {
		return nil, false
	}
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		s = r.middlewares[i](s)
	}
	return s, true
}
