package jsvm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/spf13/afero"

	"github.com/michaelbrown/playground/internal/sandbox"
)

// ExitTimeout is the exit code reported when Policy.MaxTimeout elapses.
const ExitTimeout = 124

// exitSignal is the interrupt value used by process.exit.
type exitSignal struct{ code int }

type timer struct {
	id       int64
	due      time.Time
	interval time.Duration
	fn       goja.Callable
	args     []goja.Value
}

// program is one `node <script>` invocation. The VM is only touched from
// the goroutine running run.
type program struct {
	handle *Handle
	script string
	args   []string
	pipe   *sandbox.Pipe
	vm     *goja.Runtime

	timers map[int64]*timer
	nextID int64
	exit   *exitSignal
}

func newProgram(h *Handle, script string, args []string) *program {
	return &program{
		handle: h,
		script: script,
		args:   args,
		pipe:   sandbox.NewPipe(64),
		timers: make(map[int64]*timer),
	}
}

func (p *program) run(lifetime context.Context) {
	ctx, cancel := lifetime, context.CancelFunc(func() {})
	if limit := p.handle.runtime.Policy.MaxTimeout; limit > 0 {
		ctx, cancel = context.WithTimeout(lifetime, limit)
	}
	defer cancel()

	p.vm = goja.New()
	if n := p.handle.runtime.MaxCallStackSize; n > 0 {
		p.vm.SetMaxCallStackSize(n)
	}
	stop := context.AfterFunc(ctx, func() { p.vm.Interrupt(ctx.Err()) })
	defer stop()

	p.pipe.Finish(p.execute(ctx))
}

func (p *program) execute(ctx context.Context) (int, error) {
	src, err := afero.ReadFile(p.handle.fs, p.script)
	if err != nil {
		p.pipe.Send(fmt.Sprintf("Error: Cannot find module '%s'", p.script))
		return 1, nil
	}

	prog, err := goja.Compile(p.script, string(src), false)
	if err != nil {
		p.pipe.Send(err.Error())
		return 1, nil
	}

	if err := p.installGlobals(); err != nil {
		return -1, fmt.Errorf("installing globals: %w", err)
	}
	if _, err := p.vm.RunProgram(prog); err != nil {
		return p.fail(err)
	}
	if p.exit == nil {
		if err := p.loop(ctx); err != nil {
			return p.fail(err)
		}
	}
	if p.exit != nil {
		return p.exit.code, nil
	}
	return 0, nil
}

// fail maps an error that stopped the script to an exit status, writing
// uncaught exceptions to the output like node does.
func (p *program) fail(err error) (int, error) {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		switch v := interrupted.Value().(type) {
		case exitSignal:
			return v.code, nil
		case error:
			err = v
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		p.pipe.Send("Error: execution timed out")
		return ExitTimeout, nil
	case errors.Is(err, context.Canceled):
		return -1, err
	}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		p.pipe.Send("Uncaught " + ex.Error())
		return 1, nil
	}
	p.pipe.Send(err.Error())
	return 1, nil
}

// loop drains pending timers in due order, sleeping between them.
func (p *program) loop(ctx context.Context) error {
	for {
		t := p.nextTimer()
		if t == nil {
			return nil
		}
		if wait := time.Until(t.due); wait > 0 {
			tm := time.NewTimer(wait)
			select {
			case <-tm.C:
			case <-ctx.Done():
				tm.Stop()
				return ctx.Err()
			}
		}

		if t.interval > 0 {
			t.due = time.Now().Add(t.interval)
		} else {
			delete(p.timers, t.id)
		}
		if _, err := t.fn(goja.Undefined(), t.args...); err != nil {
			return err
		}
		if p.exit != nil {
			return nil
		}
	}
}

func (p *program) nextTimer() *timer {
	var next *timer
	for _, t := range p.timers {
		if next == nil || t.due.Before(next.due) || (t.due.Equal(next.due) && t.id < next.id) {
			next = t
		}
	}
	return next
}

func (p *program) installGlobals() error {
	vm := p.vm

	console := vm.NewObject()
	for _, name := range []string{"log", "info", "warn", "error", "debug", "trace"} {
		if err := console.Set(name, p.consoleLine); err != nil {
			return err
		}
	}

	argv := []any{"node", p.script}
	for _, a := range p.args {
		argv = append(argv, a)
	}
	stdout := vm.NewObject()
	stdout.Set("write", p.write)
	stderr := vm.NewObject()
	stderr.Set("write", p.write)

	process := vm.NewObject()
	process.Set("argv", vm.NewArray(argv...))
	process.Set("env", vm.NewObject())
	process.Set("platform", "linux")
	process.Set("exit", p.processExit)
	process.Set("cwd", func() string { return "/" })
	process.Set("stdout", stdout)
	process.Set("stderr", stderr)

	for name, v := range map[string]any{
		"console":       console,
		"process":       process,
		"require":       p.require,
		"setTimeout":    p.setTimer(false),
		"setInterval":   p.setTimer(true),
		"clearTimeout":  p.clearTimer,
		"clearInterval": p.clearTimer,
	} {
		if err := vm.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (p *program) consoleLine(call goja.FunctionCall) goja.Value {
	parts := make([]string, len(call.Arguments))
	for i, arg := range call.Arguments {
		parts[i] = p.inspect(arg)
	}
	p.pipe.Send(strings.Join(parts, " "))
	return goja.Undefined()
}

func (p *program) write(call goja.FunctionCall) goja.Value {
	p.pipe.Send(call.Argument(0).String())
	return p.vm.ToValue(true)
}

func (p *program) processExit(call goja.FunctionCall) goja.Value {
	code := 0
	if arg := call.Argument(0); !goja.IsUndefined(arg) {
		code = int(arg.ToInteger())
	}
	p.exit = &exitSignal{code: code}
	p.vm.Interrupt(*p.exit)
	return goja.Undefined()
}

func (p *program) setTimer(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(p.vm.NewTypeError("The \"callback\" argument must be of type function"))
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		if delay < time.Millisecond {
			delay = time.Millisecond
		}

		p.nextID++
		t := &timer{
			id:   p.nextID,
			due:  time.Now().Add(delay),
			fn:   fn,
			args: append([]goja.Value(nil), call.Arguments[min(2, len(call.Arguments)):]...),
		}
		if repeat {
			t.interval = delay
		}
		p.timers[t.id] = t
		return p.vm.ToValue(t.id)
	}
}

func (p *program) clearTimer(call goja.FunctionCall) goja.Value {
	delete(p.timers, call.Argument(0).ToInteger())
	return goja.Undefined()
}

// inspect renders a value roughly the way node's console does.
func (p *program) inspect(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}

	if _, isFn := goja.AssertFunction(obj); isFn {
		if name := obj.Get("name"); name != nil && name.String() != "" {
			return "[Function: " + name.String() + "]"
		}
		return "[Function (anonymous)]"
	}
	if obj.ClassName() == "Error" {
		if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
			return stack.String()
		}
		return obj.String()
	}

	json := p.vm.Get("JSON").ToObject(p.vm)
	if stringify, ok := goja.AssertFunction(json.Get("stringify")); ok {
		if out, err := stringify(json, obj); err == nil && !goja.IsUndefined(out) {
			return out.String()
		}
	}
	return obj.String()
}
