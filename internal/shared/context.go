package shared

import "context"

// Actor identifies the staff member performing a core operation. It is passed
// explicitly through context on every call; there is no ambient current-user
// state.
type Actor struct {
	ID          int64
	DisplayName string
	Role        string
	RemoteAddr  string
}

type actorContextKey struct{}

// ContextWithActor stores the acting user in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the acting user from context. The second return
// is false when no actor was attached.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
