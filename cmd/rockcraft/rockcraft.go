package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/cruciblehq/rockcraft/internal"
	"github.com/cruciblehq/rockcraft/internal/cli"
	"github.com/cruciblehq/rockcraft/internal/paths"
)

// The entry point for rockcraft.
//
// Initializes logging, displays startup information, and executes the root
// command. Inside an isolated instance the log is also written to
// /tmp/rockcraft.log so the host can collect it.
func main() {
	out, closeLog := logOutput()
	slog.SetDefault(logger(out))

	slog.Debug("build", "version", internal.VersionString())

	slog.Debug("rockcraft is running",
		"run", uuid.NewString(),
		"pid", os.Getpid(),
		"cwd", cwd(),
		"args", os.Args,
		"managed", internal.IsManaged(),
	)

	code := cli.Execute()
	closeLog()
	os.Exit(code)
}

// Creates a text logger whose level follows [internal.LogLevel].
func logger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: internal.LogLevel}))
}

// Returns the log destination and a function closing it.
//
// In managed mode the log is teed to [paths.ManagedLogFile]. Failing to open
// it leaves logging on stderr only.
func logOutput() (io.Writer, func()) {
	if !internal.IsManaged() {
		return os.Stderr, func() {}
	}
	f, err := os.OpenFile(paths.ManagedLogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, paths.DefaultFileMode)
	if err != nil {
		return os.Stderr, func() {}
	}
	return io.MultiWriter(os.Stderr, f), func() { f.Close() }
}

// Returns the current working directory or "(unknown)".
func cwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "(unknown)"
	}
	return cwd
}
