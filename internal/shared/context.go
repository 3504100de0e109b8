package shared

import "context"

type sourceContextKey struct{}

// ContextWithSource stores the client source address in context.
func ContextWithSource(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, sourceContextKey{}, addr)
}

// SourceFromContext extracts the client source address from context.
func SourceFromContext(ctx context.Context) string {
	addr, _ := ctx.Value(sourceContextKey{}).(string)
	return addr
}
