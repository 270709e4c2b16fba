// Package jsvm is an in-process sandbox runtime: a goja JavaScript engine
// with a small node-compatible surface over an in-memory filesystem.
//
// Only the `node <script>` command is available. Scripts see console,
// process (argv, env, exit, stdout/stderr.write), timers, and a subset of
// require("fs") backed by the sandbox's virtual filesystem.
package jsvm

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/spf13/afero"

	"github.com/michaelbrown/playground/internal/sandbox"
)

// Runtime boots in-memory sandboxes.
type Runtime struct {
	Policy sandbox.Policy

	// MaxCallStackSize bounds JS recursion depth. Zero keeps goja's default.
	MaxCallStackSize int
}

// New creates an in-process runtime.
func New(policy sandbox.Policy) *Runtime {
	return &Runtime{Policy: policy, MaxCallStackSize: 1024}
}

func (r *Runtime) Boot(ctx context.Context) (sandbox.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &Handle{
		runtime:  r,
		fs:       afero.NewMemMapFs(),
		lifetime: lifetime,
		cancel:   cancel,
	}, nil
}

// Handle is a booted in-memory sandbox.
type Handle struct {
	runtime  *Runtime
	fs       afero.Fs
	lifetime context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// FS exposes the virtual filesystem.
func (h *Handle) FS() afero.Fs { return h.fs }

func (h *Handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) WriteFile(ctx context.Context, p string, contents []byte) error {
	if h.isClosed() {
		return sandbox.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p = sandbox.CleanPath(p)
	if err := h.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", p, err)
	}
	if err := afero.WriteFile(h.fs, p, contents, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", p, err)
	}
	return nil
}

func (h *Handle) Spawn(ctx context.Context, command string, args ...string) (sandbox.Process, error) {
	if h.isClosed() {
		return nil, sandbox.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if path.Base(command) != "node" {
		return nil, fmt.Errorf("spawn %s ENOENT: command not found", command)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("node: interactive mode is not supported, pass a script")
	}

	p := newProgram(h, sandbox.CleanPath(args[0]), args[1:])
	go p.run(h.lifetime)
	return p.pipe, nil
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		h.cancel()
	}
	return nil
}
