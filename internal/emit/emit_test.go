package emit

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestFromContextDefaultsToNop(t *testing.T) {
	e := FromContext(context.Background())
	if _, ok := e.(Nop); !ok {
		t.Fatalf("FromContext = %T, want Nop", e)
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: LevelTrace}))
	ctx := WithEmitter(context.Background(), NewLogger(l))

	e := FromContext(ctx)
	e.Progress("pulling", "part", "hello")
	e.Warning("careful")
	e.Trace("deep")

	out := buf.String()
	for _, want := range []string{"level=INFO msg=pulling part=hello", "level=WARN msg=careful", "msg=deep"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
