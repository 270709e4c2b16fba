// Package sandboxtest provides a scriptable in-memory sandbox.Runtime for
// tests.
package sandboxtest

import (
	"context"
	"sync"

	"github.com/michaelbrown/playground/internal/sandbox"
)

// Runtime is a fake sandbox.Runtime. Boot blocks until Release is called
// when Gate is set, which lets tests observe the pending state.
type Runtime struct {
	BootErr error
	Gate    chan struct{}

	mu     sync.Mutex
	boots  int
	handle *Handle
}

// NewRuntime returns a fake runtime that boots immediately.
func NewRuntime() *Runtime {
	return &Runtime{}
}

// Gated returns a fake runtime whose Boot waits for Release.
func Gated() *Runtime {
	return &Runtime{Gate: make(chan struct{})}
}

// Release lets a gated Boot complete.
func (r *Runtime) Release() { close(r.Gate) }

// Boots reports how many times Boot was called.
func (r *Runtime) Boots() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.boots
}

// Handle returns the handle produced by the last successful Boot.
func (r *Runtime) Handle() *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle
}

func (r *Runtime) Boot(ctx context.Context) (sandbox.Handle, error) {
	r.mu.Lock()
	r.boots++
	r.mu.Unlock()

	if r.Gate != nil {
		select {
		case <-r.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.BootErr != nil {
		return nil, r.BootErr
	}

	h := NewHandle()
	r.mu.Lock()
	r.handle = h
	r.mu.Unlock()
	return h, nil
}

// Spawned records one Spawn call.
type Spawned struct {
	Command string
	Args    []string
	Process *Process
}

// Handle is a fake sandbox.Handle with a map-backed filesystem. Every
// Spawn returns a Process the test drives by hand.
type Handle struct {
	WriteErr error
	SpawnErr error

	mu      sync.Mutex
	files   map[string]string
	writes  int
	spawned []Spawned
	procs   chan *Process
	closed  bool
}

// NewHandle returns an empty fake handle.
func NewHandle() *Handle {
	return &Handle{
		files: make(map[string]string),
		procs: make(chan *Process, 16),
	}
}

func (h *Handle) WriteFile(_ context.Context, path string, contents []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return sandbox.ErrClosed
	}
	if h.WriteErr != nil {
		return h.WriteErr
	}
	h.writes++
	h.files[sandbox.CleanPath(path)] = string(contents)
	return nil
}

// File returns the current contents of path.
func (h *Handle) File(path string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.files[sandbox.CleanPath(path)]
	return s, ok
}

// Writes reports how many successful WriteFile calls were made.
func (h *Handle) Writes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writes
}

func (h *Handle) Spawn(_ context.Context, command string, args ...string) (sandbox.Process, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, sandbox.ErrClosed
	}
	if h.SpawnErr != nil {
		return nil, h.SpawnErr
	}
	p := &Process{Pipe: sandbox.NewPipe(0)}
	h.spawned = append(h.spawned, Spawned{Command: command, Args: args, Process: p})
	h.procs <- p
	return p, nil
}

// Spawned returns every Spawn call so far.
func (h *Handle) Spawned() []Spawned {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Spawned(nil), h.spawned...)
}

// NextProcess waits for the next spawned process.
func (h *Handle) NextProcess(ctx context.Context) (*Process, error) {
	select {
	case p := <-h.procs:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Closed reports whether Close was called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Process is driven by the test: Emit pushes a chunk (blocking until the
// consumer takes it) and Exit ends the stream.
type Process struct {
	*sandbox.Pipe
}

// Emit delivers chunks in order.
func (p *Process) Emit(chunks ...string) {
	for _, c := range chunks {
		p.Send(c)
	}
}

// Exit finishes the process with code.
func (p *Process) Exit(code int) {
	p.Finish(code, nil)
}
