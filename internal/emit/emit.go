package emit

import (
	"context"
	"log/slog"
)

// Level below debug used for trace output.
const LevelTrace = slog.LevelDebug - 4

// Reports progress and diagnostics to the user.
//
// Arguments after the message are slog-style key/value pairs.
type Emitter interface {
	Progress(msg string, args ...any) // A step of a long-running operation.
	Message(msg string, args ...any)  // A final, user-facing result.
	Warning(msg string, args ...any)  // Something the user should know about.
	Debug(msg string, args ...any)    // Developer-level detail.
	Trace(msg string, args ...any)    // Very fine-grained detail.
}

type contextKey struct{}

// Returns a copy of ctx carrying e.
func WithEmitter(ctx context.Context, e Emitter) context.Context {
	return context.WithValue(ctx, contextKey{}, e)
}

// Returns the emitter carried by ctx, or [Nop] if none was attached.
func FromContext(ctx context.Context) Emitter {
	if e, ok := ctx.Value(contextKey{}).(Emitter); ok {
		return e
	}
	return Nop{}
}

// Discards everything.
type Nop struct{}

func (Nop) Progress(string, ...any) {}
func (Nop) Message(string, ...any)  {}
func (Nop) Warning(string, ...any)  {}
func (Nop) Debug(string, ...any)    {}
func (Nop) Trace(string, ...any)    {}

// Forwards to a [slog.Logger].
type Logger struct {
	log *slog.Logger // Destination logger.
}

// Creates an emitter writing to l. A nil logger means [slog.Default].
func NewLogger(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{log: l}
}

func (l *Logger) Progress(msg string, args ...any) { l.log.Info(msg, args...) }
func (l *Logger) Message(msg string, args ...any)  { l.log.Info(msg, args...) }
func (l *Logger) Warning(msg string, args ...any)  { l.log.Warn(msg, args...) }
func (l *Logger) Debug(msg string, args ...any)    { l.log.Debug(msg, args...) }

func (l *Logger) Trace(msg string, args ...any) {
	l.log.Log(context.Background(), LevelTrace, msg, args...)
}
