package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFlag  string
	backendFlag string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "playground",
	Short: "Playground - run JavaScript in a sandbox",
	Long: `Playground runs JavaScript snippets in a sandbox and streams their output.

It serves a browser editor (serve), runs files from the command line (run),
offers an interactive editor (repl), and keeps a history of past runs (runs).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: ./playground.yaml or ~/.playground/playground.yaml)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Sandbox backend: jsvm, docker or local (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit *exitCodeError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// exitCodeError carries a sandboxed process's non-zero exit code out of a
// command without printing anything further.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}
