package shared

import "context"

// RequestContext carries the request-scoped facts downstream services need.
// It is populated once by the auth middleware and passed by value; handlers
// never reach back into raw request state.
type RequestContext struct {
	PrincipalID int64
	Email       string
	SuperAdmin  bool
	// Permissions holds the flattened "resource:action" strings computed for
	// the principal's current key version.
	Permissions []string
	IP          string
	UserAgent   string
	RequestID   string
}

// Authenticated reports whether a principal has been resolved.
func (rc RequestContext) Authenticated() bool {
	return rc.PrincipalID != 0
}

type requestContextKey struct{}

// ContextWithRequest stores the request context.
func ContextWithRequest(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestFromContext extracts the request context. The zero value is returned
// for unauthenticated requests.
func RequestFromContext(ctx context.Context) RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(RequestContext)
	return rc
}
