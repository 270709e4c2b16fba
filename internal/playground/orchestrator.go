package playground

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelbrown/playground/internal/monitoring"
	"github.com/michaelbrown/playground/internal/sandbox"
	"github.com/michaelbrown/playground/internal/storage"
)

// ErrNotReady is returned by Run when the session has no sandbox handle.
// The output log is left untouched.
var ErrNotReady = errors.New("sandbox not ready")

const (
	DefaultCommand   = "node"
	DefaultEntryFile = "/index.js"
)

// Options configures an Orchestrator. Zero values select the defaults;
// Store and Metrics are optional.
type Options struct {
	Command   string
	Args      []string // defaults to the entry file relative to the root
	EntryFile string
	Backend   string // recorded with each run

	Store   storage.Store
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
}

// Orchestrator executes source text in the session's sandbox.
type Orchestrator struct {
	session   *Session
	log       *OutputLog
	command   string
	args      []string
	entryFile string
	backend   string

	store   storage.Store
	metrics *monitoring.Metrics
	logger  *zap.Logger

	generation atomic.Uint64
}

// NewOrchestrator creates an orchestrator writing to log.
func NewOrchestrator(session *Session, log *OutputLog, opts Options) *Orchestrator {
	o := &Orchestrator{
		session:   session,
		log:       log,
		command:   opts.Command,
		args:      opts.Args,
		entryFile: opts.EntryFile,
		backend:   opts.Backend,
		store:     opts.Store,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	if o.command == "" {
		o.command = DefaultCommand
	}
	if o.entryFile == "" {
		o.entryFile = DefaultEntryFile
	}
	o.entryFile = sandbox.CleanPath(o.entryFile)
	if o.args == nil {
		o.args = []string{strings.TrimPrefix(o.entryFile, "/")}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// EntryFile is the sandbox path every run overwrites.
func (o *Orchestrator) EntryFile() string { return o.entryFile }

// Run writes source to the entry file, spawns it, and streams its output
// into the log in the background. It returns once the process has been
// spawned.
//
// Without a sandbox handle Run returns ErrNotReady and changes nothing.
// If the write or spawn fails the log becomes "Error: " followed by the
// error message, and that error is returned as is.
//
// Nothing stops a second Run while an earlier one is still streaming;
// what happens to the older output depends on the log's StalePolicy.
func (o *Orchestrator) Run(ctx context.Context, source string) (*Run, error) {
	h, ok := o.session.Handle()
	if !ok {
		o.metrics.RecordRun(monitoring.RunSkipped)
		return nil, ErrNotReady
	}

	run := newRun(o.generation.Add(1))
	o.log.Reset(ExecutingMarker, run.Generation)

	if err := h.WriteFile(ctx, o.entryFile, []byte(source)); err != nil {
		return nil, o.fail(run, err)
	}
	proc, err := h.Spawn(ctx, o.command, o.args...)
	if err != nil {
		return nil, o.fail(run, err)
	}

	o.metrics.RecordRun(monitoring.RunStarted)
	o.record(run)
	o.logger.Info("run started",
		zap.String("run_id", run.ID),
		zap.Uint64("generation", run.Generation),
		zap.Int("source_bytes", len(source)))

	go o.stream(run, proc)
	return run, nil
}

func (o *Orchestrator) fail(run *Run, err error) error {
	o.log.Reset(ErrorPrefix+err.Error(), run.Generation)
	o.metrics.RecordRun(monitoring.RunFailed)
	o.logger.Warn("run failed to start",
		zap.String("run_id", run.ID),
		zap.Uint64("generation", run.Generation),
		zap.Error(err))

	if o.store != nil {
		rec := &storage.Run{
			ID:         run.ID,
			Generation: run.Generation,
			Backend:    o.backend,
			Status:     storage.StatusFailed,
			ExitCode:   -1,
			Error:      err.Error(),
			CreatedAt:  run.StartedAt,
			FinishedAt: time.Now().UTC(),
		}
		if storeErr := o.store.CreateRun(context.Background(), rec); storeErr != nil {
			o.logger.Warn("recording run", zap.String("run_id", run.ID), zap.Error(storeErr))
		}
	}
	run.finish(-1, err, "")
	return err
}

func (o *Orchestrator) record(run *Run) {
	if o.store == nil {
		return
	}
	rec := &storage.Run{
		ID:         run.ID,
		Generation: run.Generation,
		Backend:    o.backend,
		Status:     storage.StatusRunning,
		CreatedAt:  run.StartedAt,
	}
	if err := o.store.CreateRun(context.Background(), rec); err != nil {
		o.logger.Warn("recording run", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// stream drains the process output into the log in arrival order.
func (o *Orchestrator) stream(run *Run, proc sandbox.Process) {
	var out strings.Builder
	for chunk := range proc.Output() {
		o.log.Append(chunk, run.Generation)
		out.WriteString(chunk)
		out.WriteByte('\n')
		o.metrics.RecordChunk()
	}

	code, err := proc.Wait()
	o.metrics.RecordExit(code)

	fields := []zap.Field{
		zap.String("run_id", run.ID),
		zap.Uint64("generation", run.Generation),
		zap.Int("exit_code", code),
		zap.Duration("elapsed", time.Since(run.StartedAt)),
	}
	if err != nil {
		o.logger.Warn("run ended abnormally", append(fields, zap.Error(err))...)
	} else {
		o.logger.Info("run finished", fields...)
	}

	if o.store != nil {
		rec := &storage.Run{
			ID:       run.ID,
			Status:   storage.StatusExited,
			ExitCode: code,
			Output:   out.String(),
		}
		if err != nil {
			rec.Status = storage.StatusFailed
			rec.Error = err.Error()
		}
		if storeErr := o.store.FinishRun(context.Background(), rec); storeErr != nil {
			o.logger.Warn("recording run result", zap.String("run_id", run.ID), zap.Error(storeErr))
		}
	}
	run.finish(code, err, out.String())
}

// Run is one invocation of Orchestrator.Run.
type Run struct {
	ID         string
	Generation uint64
	StartedAt  time.Time

	done     chan struct{}
	exitCode int
	err      error
	output   string
}

func newRun(generation uint64) *Run {
	return &Run{
		ID:         uuid.NewString(),
		Generation: generation,
		StartedAt:  time.Now().UTC(),
		done:       make(chan struct{}),
	}
}

func (r *Run) finish(code int, err error, output string) {
	r.exitCode = code
	r.err = err
	r.output = output
	close(r.done)
}

// Done is closed when the process has exited and all of its output has
// been appended to the log.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run is done or ctx ends.
func (r *Run) Wait(ctx context.Context) (int, error) {
	select {
	case <-r.done:
		return r.exitCode, r.err
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Output returns what this run's process printed, one chunk per line.
// It is empty until Done is closed.
func (r *Run) Output() string {
	select {
	case <-r.done:
		return r.output
	default:
		return ""
	}
}

// ExitCode returns the process exit code, or -1 while the run is still
// in flight.
func (r *Run) ExitCode() int {
	select {
	case <-r.done:
		return r.exitCode
	default:
		return -1
	}
}
