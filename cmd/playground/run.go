package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	timeoutFlag   time.Duration
	noHistoryFlag bool
)

var runCmd = &cobra.Command{
	Use:   "run <file|->",
	Short: "Run a JavaScript file in the sandbox",
	Long: `Run a JavaScript file in the sandbox and stream its output.

The file is written to the sandbox entry file and started with the configured
command. Use "-" to read the program from stdin. The command exits with the
program's exit code.

Examples:
  playground run hello.js
  echo 'console.log(1 + 1)' | playground run -
  playground run --backend docker --timeout 10s script.js`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "Per-run time limit (overrides sandbox.policy.max_timeout)")
	runCmd.Flags().BoolVar(&noHistoryFlag, "no-history", false, "Do not record the run in history")
	rootCmd.AddCommand(runCmd)
}

func readSource(name string, stdin io.Reader) (string, error) {
	if name == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", name, err)
	}
	return string(data), nil
}

func runRun(cmd *cobra.Command, args []string) error {
	source, err := readSource(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if timeoutFlag > 0 {
		cfg.Sandbox.Policy.MaxTimeout = timeoutFlag
	}

	a, err := newApp(cfg, !noHistoryFlag)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.boot(ctx); err != nil {
		return err
	}

	code, err := a.execute(ctx, source, newLogPrinter(cmd.OutOrStdout()))
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		// The printed log already reads "Error: ...".
		return &exitCodeError{code: 1}
	}
	if code != 0 {
		return &exitCodeError{code: code}
	}
	return nil
}
