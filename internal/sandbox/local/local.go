// Package local implements sandbox.Runtime on the host: a temporary
// workspace directory as the virtual filesystem and processes attached
// to a pseudo-terminal.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/creack/pty"

	"github.com/michaelbrown/playground/internal/sandbox"
)

// Runtime creates a fresh workspace per Boot.
type Runtime struct {
	Policy sandbox.Policy
	// Env is appended to the host environment of spawned processes.
	Env []string
}

// New creates a local runtime.
func New(policy sandbox.Policy) *Runtime {
	return &Runtime{Policy: policy}
}

func (r *Runtime) Boot(ctx context.Context) (sandbox.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root, err := os.MkdirTemp("", "playground-*")
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &handle{
		runtime:  r,
		root:     root,
		lifetime: lifetime,
		cancel:   cancel,
	}, nil
}

type handle struct {
	runtime  *Runtime
	root     string
	lifetime context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Root returns the host directory backing the virtual filesystem.
func (h *handle) Root() string { return h.root }

func (h *handle) hostPath(p string) string {
	return filepath.Join(h.root, filepath.FromSlash(sandbox.CleanPath(p)))
}

func (h *handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *handle) WriteFile(ctx context.Context, p string, contents []byte) error {
	if h.isClosed() {
		return sandbox.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	target := h.hostPath(p)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", p, err)
	}
	if err := os.WriteFile(target, contents, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", p, err)
	}
	return nil
}

func (h *handle) Spawn(ctx context.Context, command string, args ...string) (sandbox.Process, error) {
	if h.isClosed() {
		return nil, sandbox.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runCtx, cancel := h.lifetime, context.CancelFunc(func() {})
	if h.runtime.Policy.MaxTimeout > 0 {
		runCtx, cancel = context.WithTimeout(h.lifetime, h.runtime.Policy.MaxTimeout)
	}

	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = h.root
	cmd.Env = append(os.Environ(), "TERM=dumb")
	cmd.Env = append(cmd.Env, h.runtime.Env...)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("spawning %s: %w", command, err)
	}

	pipe := sandbox.NewPipe(64)
	go func() {
		defer cancel()
		readErr := pipe.SendLines(ptmx)
		// Reads on a pty master fail with EIO once the child exits; that
		// is the normal end of stream.
		if errors.Is(readErr, syscall.EIO) {
			readErr = nil
		}
		ptmx.Close()
		code, err := exitCode(cmd.Wait())
		if err == nil && readErr != nil {
			err = fmt.Errorf("reading output: %w", readErr)
		}
		pipe.Finish(code, err)
	}()
	return pipe, nil
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (h *handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	return os.RemoveAll(h.root)
}
