package domain

import "context"

// SystemActor is recorded when no authenticated actor is attached to the context.
const SystemActor = "system"

type actorKey struct{}

// WithActor attaches the acting administrator (or job name) to ctx for audit logging.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored in ctx, or SystemActor.
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}
