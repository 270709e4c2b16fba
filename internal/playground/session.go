// Package playground sequences the sandbox for the code playground: it
// boots one runtime per session, and on every run writes the editor
// contents into the sandbox, spawns them, and streams output into a
// shared log.
package playground

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/michaelbrown/playground/internal/monitoring"
	"github.com/michaelbrown/playground/internal/sandbox"
)

// ErrSessionClosed is the boot error of a session closed before its
// boot resolved.
var ErrSessionClosed = errors.New("session closed")

// State is the session lifecycle position.
type State string

const (
	StateUninitialized State = "uninitialized"
	StatePending       State = "pending"
	StateReady         State = "ready"
)

// Status is a point-in-time view of a Session.
type Status struct {
	State  State  `json:"state"`
	Ready  bool   `json:"ready"`
	CanRun bool   `json:"can_run"`
	Error  string `json:"error,omitempty"`
}

// Session owns the single sandbox handle for its lifetime. Boot is
// attempted at most once; there is no retry.
type Session struct {
	runtime sandbox.Runtime
	log     *OutputLog
	logger  *zap.Logger
	metrics *monitoring.Metrics

	once sync.Once
	done chan struct{}

	mu      sync.RWMutex
	state   State
	handle  sandbox.Handle
	bootErr error
	closed  bool
}

// NewSession creates an uninitialized session. log receives the fallback
// message if boot fails. metrics may be nil.
func NewSession(rt sandbox.Runtime, log *OutputLog, logger *zap.Logger, metrics *monitoring.Metrics) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		runtime: rt,
		log:     log,
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
		state:   StateUninitialized,
	}
}

// Initialize starts the boot in the background and returns immediately.
// Only the first call has any effect. ctx bounds the boot attempt.
func (s *Session) Initialize(ctx context.Context) {
	s.once.Do(func() {
		s.mu.Lock()
		s.state = StatePending
		s.mu.Unlock()
		go s.boot(ctx)
	})
}

func (s *Session) boot(ctx context.Context) {
	start := time.Now()
	h, err := s.runtime.Boot(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.state = StateReady
	closed := s.closed
	switch {
	case err != nil:
		s.bootErr = err
	case closed:
		s.bootErr = ErrSessionClosed
	default:
		s.handle = h
	}
	s.mu.Unlock()

	if err == nil && closed {
		s.logger.Info("sandbox booted after close, releasing it", zap.Duration("elapsed", elapsed))
		if closeErr := h.Close(); closeErr != nil {
			s.logger.Warn("releasing sandbox", zap.Error(closeErr))
		}
		close(s.done)
		return
	}

	s.metrics.RecordBoot(elapsed, err == nil)
	if err != nil {
		s.logger.Error("sandbox boot failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		s.log.Reset(FallbackMessage, 0)
	} else {
		s.logger.Info("sandbox ready", zap.Duration("elapsed", elapsed))
	}
	close(s.done)
}

// Done is closed once boot has resolved, successfully or not.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until boot resolves or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Handle returns the booted handle, if any.
func (s *Session) Handle() (sandbox.Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle, s.handle != nil
}

// CanRun reports whether runs may be started: boot has resolved and
// produced a handle.
func (s *Session) CanRun() bool {
	_, ok := s.Handle()
	return ok
}

// BootErr returns the boot failure, if any.
func (s *Session) BootErr() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bootErr
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		State:  s.state,
		Ready:  s.state == StateReady,
		CanRun: s.handle != nil,
	}
	if s.bootErr != nil {
		st.Error = s.bootErr.Error()
	}
	return st
}

// Close releases the sandbox handle. The session cannot run afterwards;
// a boot still in flight releases its handle as soon as it arrives.
func (s *Session) Close() error {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.closed = true
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Close()
}
