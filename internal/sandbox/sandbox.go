// Package sandbox defines the runtime boundary the playground drives:
// boot a runtime, write a file into its virtual filesystem, spawn a
// process and stream its output.
package sandbox

import (
	"context"
	"errors"
	"path"
	"strings"
)

// ErrClosed is returned by a Handle after Close.
var ErrClosed = errors.New("sandbox: handle closed")

// Runtime boots sandbox instances.
type Runtime interface {
	// Boot starts the runtime and returns a ready handle.
	Boot(ctx context.Context) (Handle, error)
}

// Handle is a booted sandbox. All filesystem and process operations go
// through it.
type Handle interface {
	// WriteFile replaces the file at path with contents. Paths are
	// rooted at the sandbox's virtual filesystem root.
	WriteFile(ctx context.Context, path string, contents []byte) error

	// Spawn starts command with args. ctx bounds only the start of the
	// process, not its lifetime.
	Spawn(ctx context.Context, command string, args ...string) (Process, error)

	// Close tears the sandbox down.
	Close() error
}

// Process is a running program inside a sandbox.
type Process interface {
	// Output delivers chunks of text in the order the process produced
	// them. The channel is closed when the process exits.
	Output() <-chan string

	// Wait blocks until the process exits and returns its exit code.
	Wait() (int, error)
}

// CleanPath normalises a sandbox path to an absolute, slash-separated
// path that cannot escape the virtual root.
func CleanPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return path.Clean("/" + p)
}
