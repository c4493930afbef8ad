package actorctx

import "context"

type ctxKey struct{}

// WithUserID records the authenticated caller on a request context so lower
// layers can attribute writes without depending on the HTTP stack.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

func UserIDFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKey{}).(string)

	return v, ok && v != ""
}
