// Package emit carries the progress reporter through a context.
//
// Components that report progress take the [Emitter] from their context
// with [FromContext] instead of reaching for a global. When nothing was
// attached a no-op emitter is returned, so tests need no setup.
//
// Example usage:
//
//	ctx = emit.WithEmitter(ctx, emit.NewLogger(slog.Default()))
//	emit.FromContext(ctx).Progress("packing", "platform", "amd64")
package emit
