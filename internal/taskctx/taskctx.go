// Package taskctx carries the task under execution through a context so
// skills can read provenance without widening their signature.
package taskctx

import "context"

type ctxKey struct{}

// Record is the task snapshot visible to a skill during execution.
type Record struct {
	ID        string
	Category  string
	SenderID  string
	Channel   string
	PriceUSDC string
}

// With returns a child context carrying the given record.
func With(parent context.Context, r *Record) context.Context {
	return context.WithValue(parent, ctxKey{}, r)
}

// From extracts the record from context if present.
func From(ctx context.Context) (*Record, bool) {
	v := ctx.Value(ctxKey{})
	if v == nil {
		return nil, false
	}
	r, ok := v.(*Record)
	return r, ok
}
