package principal

import "context"

type contextKey struct{}

// ContextWith stores the principal in the context.
func ContextWith(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext extracts the principal from the context. The zero Principal
// (not Authenticated) is returned when none is present.
func FromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(contextKey{}).(Principal)
	return p
}
