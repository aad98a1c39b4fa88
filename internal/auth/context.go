// ABOUTME: Request-context plumbing for the authenticated caller identity
// ABOUTME: Handlers read the caller set by the bearer middleware

package auth

import "context"

type contextKey struct{}

// WithCaller returns a context carrying the authenticated caller ID.
func WithCaller(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, contextKey{}, callerID)
}

// CallerFromContext extracts the caller ID set by the middleware.
func CallerFromContext(ctx context.Context) (string, bool) {
	callerID, ok := ctx.Value(contextKey{}).(string)
	return callerID, ok && callerID != ""
}
