package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/playground/internal/storage"
)

var (
	statusFilter string
	limitFlag    int
	exportFormat string
	exportOutput string
	forceFlag    bool
)

var runsCmd = &cobra.Command{
	Use:     "runs",
	Aliases: []string{"history", "h"},
	Short:   "Inspect past runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its output",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

var runsExportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run as markdown, JSON or YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsExport,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsDeleteCmd, runsExportCmd)

	runsListCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (running, exited, failed)")
	runsListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max runs to show")

	runsExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md, json or yaml")
	runsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	runsDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func openHistory() (storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openStore(cfg)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(context.Background(), storage.RunListOptions{
		Status: storage.RunStatus(statusFilter),
		Limit:  limitFlag,
	})
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	fmt.Printf("%-10s %-9s %-6s %-8s %-40s %s\n", "ID", "STATUS", "EXIT", "BACKEND", "OUTPUT", "STARTED")
	fmt.Println(strings.Repeat("─", 90))

	for _, r := range runs {
		exit := "-"
		if r.Status != storage.StatusRunning {
			exit = fmt.Sprint(r.ExitCode)
		}
		fmt.Printf("%-10s %-9s %-6s %-8s %-40s %s\n",
			shortID(r.ID), r.Status, exit, r.Backend, firstLine(r, 38), timeAgo(r.CreatedAt))
	}

	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := store.GetRun(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Run:        %s\n", r.ID)
	fmt.Printf("Status:     %s\n", r.Status)
	fmt.Printf("Exit code:  %d\n", r.ExitCode)
	fmt.Printf("Backend:    %s\n", r.Backend)
	fmt.Printf("Generation: %d\n", r.Generation)
	fmt.Printf("Started:    %s\n", r.CreatedAt.Format(time.RFC3339))
	if !r.FinishedAt.IsZero() {
		fmt.Printf("Finished:   %s (%s)\n", r.FinishedAt.Format(time.RFC3339), r.FinishedAt.Sub(r.CreatedAt).Round(time.Millisecond))
	}
	if r.Error != "" {
		fmt.Printf("Error:      \033[31m%s\033[0m\n", r.Error)
	}

	fmt.Println(strings.Repeat("─", 60))
	if r.Output == "" {
		fmt.Println("(no output)")
	} else {
		fmt.Print(r.Output)
	}
	return nil
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	r, err := store.GetRun(ctx, args[0])
	if err != nil {
		return err
	}

	if !forceFlag {
		fmt.Printf("Delete run %s (%s, %s)? [y/N] ", shortID(r.ID), r.Status, timeAgo(r.CreatedAt))
		var confirm string
		fmt.Scanln(&confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := store.DeleteRun(ctx, r.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted run %s\n", shortID(r.ID))
	return nil
}

func runRunsExport(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := store.GetRun(context.Background(), args[0])
	if err != nil {
		return err
	}

	output, err := exportRun(r, exportFormat)
	if err != nil {
		return err
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, output, 0o644)
	}

	os.Stdout.Write(output)
	return nil
}

func exportRun(r *storage.Run, format string) ([]byte, error) {
	switch format {
	case "json":
		return storage.ExportJSON(r)
	case "yaml", "yml":
		return storage.ExportYAML(r)
	case "md", "markdown":
		return []byte(storage.ExportMarkdown(r)), nil
	default:
		return nil, fmt.Errorf("unknown export format %q (want md, json or yaml)", format)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// firstLine returns the first output line of r, or its error for runs
// that never started.
func firstLine(r storage.Run, maxLen int) string {
	s := r.Output
	if r.Status == storage.StatusFailed && r.Error != "" {
		s = "Error: " + r.Error
	}
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	if s == "" {
		return "(no output)"
	}
	if len(s) > maxLen {
		return s[:maxLen] + ".."
	}
	return s
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
