package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/playground/internal/playground"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Edit and run JavaScript interactively",
	Long: `Start an interactive editor backed by the sandbox.

Lines you type are appended to the buffer; /run executes the whole buffer.
The buffer starts with the configured initial code.

Examples:
  playground repl
  playground repl --backend local`,
	RunE: runRepl,
}

func init() {
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Playground - Interactive Editor\n")
	fmt.Printf("Backend: %s\n", cfg.Sandbox.Backend)

	// Boot in the background; the banner shows while it resolves.
	a.session.Initialize(context.Background())
	if a.session.State() != playground.StateReady {
		fmt.Println("Initializing...")
	}
	if err := a.session.Wait(context.Background()); err != nil {
		return err
	}
	if !a.session.CanRun() {
		fmt.Println(a.log.Display())
		fmt.Printf("\033[31msandbox unavailable: %v\033[0m\n", a.session.BootErr())
	}

	fmt.Printf("Type /help for commands, /quit to exit\n\n")

	buf := newSourceBuffer(cfg.Playground.InitialCode)
	fmt.Print(buf.numbered())
	fmt.Println()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36mjs>\033[0m ",
		HistoryFile:     filepath.Join(os.TempDir(), "playground_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	// Ctrl+C stops waiting for the current run; a second Ctrl+C while
	// idle exits.
	var runCancel context.CancelFunc
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if runCancel != nil {
				runCancel()
			}
		}
	}()

	r := &repl{app: a, buf: buf, out: rl.Stdout()}
	for {
		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		if strings.HasPrefix(strings.TrimSpace(input), "/") {
			if r.command(strings.TrimSpace(input), &runCancel) {
				return nil
			}
			continue
		}
		buf.add(input)
	}
}

type repl struct {
	app *app
	buf *sourceBuffer
	out io.Writer
}

// command handles a slash command and reports whether the REPL should exit.
func (r *repl) command(input string, runCancel *context.CancelFunc) bool {
	fields := strings.Fields(input)
	switch strings.ToLower(fields[0]) {
	case "/quit", "/exit", "/q":
		fmt.Fprintln(r.out, "Goodbye!")
		return true
	case "/run", "/r":
		ctx, cancel := context.WithCancel(context.Background())
		*runCancel = cancel
		r.run(ctx)
		cancel()
		*runCancel = nil
	case "/show":
		fmt.Fprint(r.out, r.buf.numbered())
		fmt.Fprintln(r.out)
	case "/clear":
		r.buf.clear()
		fmt.Fprintln(r.out, "Buffer cleared.")
		fmt.Fprintln(r.out)
	case "/undo":
		if r.buf.undo() {
			fmt.Fprintf(r.out, "Removed last line (%d left).\n\n", r.buf.len())
		} else {
			fmt.Fprintln(r.out, "Buffer is empty.")
		}
	case "/load":
		if len(fields) < 2 {
			fmt.Fprintln(r.out, "Usage: /load <file>")
			return false
		}
		src, err := readSource(fields[1], os.Stdin)
		if err != nil {
			fmt.Fprintf(r.out, "\033[31merror: %s\033[0m\n\n", err)
			return false
		}
		r.buf.set(src)
		fmt.Fprintf(r.out, "Loaded %d lines from %s.\n\n", r.buf.len(), fields[1])
	case "/status":
		st := r.app.session.Status()
		fmt.Fprintf(r.out, "State: %s | Can run: %v\n\n", st.State, st.CanRun)
	case "/help":
		fmt.Fprintln(r.out, "Commands:")
		fmt.Fprintln(r.out, "  /run          - Run the buffer")
		fmt.Fprintln(r.out, "  /show         - Show the buffer")
		fmt.Fprintln(r.out, "  /clear        - Empty the buffer")
		fmt.Fprintln(r.out, "  /undo         - Remove the last line")
		fmt.Fprintln(r.out, "  /load <file>  - Replace the buffer with a file")
		fmt.Fprintln(r.out, "  /status       - Show sandbox status")
		fmt.Fprintln(r.out, "  /quit         - Exit")
		fmt.Fprintln(r.out)
	default:
		fmt.Fprintf(r.out, "Unknown command: %s (try /help)\n\n", input)
	}
	return false
}

func (r *repl) run(ctx context.Context) {
	code, err := r.app.execute(ctx, r.buf.String(), newLogPrinter(r.out))
	switch {
	case errors.Is(err, playground.ErrNotReady):
		fmt.Fprintln(r.out, "\033[31msandbox not ready\033[0m")
	case ctx.Err() != nil:
		fmt.Fprintln(r.out, "\n(interrupted)")
	case err != nil:
		// The log already shows the error.
	case code != 0:
		fmt.Fprintf(r.out, "\033[90m(exit code %d)\033[0m\n", code)
	}
	fmt.Fprintln(r.out)
}
