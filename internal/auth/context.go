package auth

import "context"

type payloadContextKey struct{}
type tokenContextKey struct{}

// ContextWithPayload attaches the current user to the context.
func ContextWithPayload(ctx context.Context, payload Payload) context.Context {
	return context.WithValue(ctx, payloadContextKey{}, &payload)
}

// PayloadFromContext extracts the current user from the context.
func PayloadFromContext(ctx context.Context) (Payload, bool) {
	if ctx == nil {
		return Payload{}, false
	}
	v, ok := ctx.Value(payloadContextKey{}).(*Payload)
	if !ok || v == nil {
		return Payload{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// HasRole checks whether the current user carries the specified role.
func HasRole(ctx context.Context, role string) bool {
	payload, ok := PayloadFromContext(ctx)
	if !ok {
		return false
	}
	return payload.HasRole(role)
}
