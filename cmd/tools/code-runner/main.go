// Command code-runner is an MCP stdio server exposing a code_run tool that
// executes JavaScript in a playground sandbox.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/michaelbrown/playground/internal/config"
	"github.com/michaelbrown/playground/internal/logging"
	"github.com/michaelbrown/playground/internal/playground"
)

const maxOutput = 4000

func main() {
	configPath := flag.String("config", "", "Playground config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Sandbox.Policy.MaxTimeout == 0 {
		cfg.Sandbox.Policy.MaxTimeout = 30 * time.Second
	}

	// stdout carries the MCP protocol.
	cfg.Log.OutputPaths = []string{"stderr"}
	logger := logging.NewOrNop(cfg.Log)
	defer logger.Sync()

	r, err := newRunner(cfg, logger)
	if err != nil {
		logger.Fatal("building runner", zap.Error(err))
	}
	defer r.close()

	s := server.NewMCPServer("playground-code-runner", "0.1.0")
	s.AddTool(mcp.Tool{
		Name:        "code_run",
		Description: fmt.Sprintf("Execute JavaScript in a %s sandbox and return what it printed.", cfg.Sandbox.Backend),
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "JavaScript source to execute",
				},
			},
			Required: []string{"code"},
		},
	}, r.handleCodeRun)

	if err := server.ServeStdio(s); err != nil {
		logger.Error("server error", zap.Error(err))
	}
}

// runner owns one playground session; tool calls run one at a time since
// they share the output log.
type runner struct {
	session *playground.Session
	orch    *playground.Orchestrator
	sem     chan struct{}
}

func newRunner(cfg *config.Config, logger *zap.Logger) (*runner, error) {
	rt, err := cfg.NewRuntime()
	if err != nil {
		return nil, err
	}
	log := playground.NewOutputLog(playground.StaleDiscard)
	session := playground.NewSession(rt, log, logger.Named("session"), nil)
	session.Initialize(context.Background())

	return &runner{
		session: session,
		orch: playground.NewOrchestrator(session, log, playground.Options{
			Command:   cfg.Sandbox.Command,
			EntryFile: cfg.Sandbox.EntryFile,
			Backend:   cfg.Sandbox.Backend,
			Logger:    logger.Named("orchestrator"),
		}),
		sem: make(chan struct{}, 1),
	}, nil
}

func (r *runner) close() { r.session.Close() }

func (r *runner) handleCodeRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}
	code, _ := args["code"].(string)
	if code == "" {
		return errResult("error: 'code' is required"), nil
	}

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return errResult("error: " + ctx.Err().Error()), nil
	}

	if err := r.session.Wait(ctx); err != nil {
		return errResult("error: " + err.Error()), nil
	}
	if !r.session.CanRun() {
		return errResult(fmt.Sprintf("error: sandbox unavailable: %v", r.session.BootErr())), nil
	}

	run, err := r.orch.Run(ctx, code)
	if err != nil {
		return errResult(playground.ErrorPrefix + err.Error()), nil
	}
	exitCode, err := run.Wait(ctx)
	if err != nil {
		return errResult("error: " + err.Error()), nil
	}

	return formatResult(run.Output(), exitCode), nil
}

func formatResult(output string, exitCode int) *mcp.CallToolResult {
	text := output
	if exitCode != 0 {
		text += fmt.Sprintf("exit code: %d", exitCode)
	}
	if text == "" {
		text = "(no output)"
	}
	if len(text) > maxOutput {
		text = truncate(text, maxOutput) + "\n... (output truncated)"
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: exitCode != 0,
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
