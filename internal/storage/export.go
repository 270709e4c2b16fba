package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExportMarkdown renders a run as a markdown document.
func ExportMarkdown(r *Run) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run %s\n\n", r.ID)
	fmt.Fprintf(&b, "- **Backend:** %s\n", r.Backend)
	fmt.Fprintf(&b, "- **Generation:** %d\n", r.Generation)
	fmt.Fprintf(&b, "- **Status:** %s\n", r.Status)
	if r.Status != StatusRunning {
		fmt.Fprintf(&b, "- **Exit code:** %d\n", r.ExitCode)
	}
	fmt.Fprintf(&b, "- **Started:** %s\n", r.CreatedAt.Format("2006-01-02 15:04:05"))
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "- **Finished:** %s\n", r.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "- **Error:** %s\n", r.Error)
	}
	b.WriteString("\n## Output\n\n```\n")
	b.WriteString(r.Output)
	if r.Output != "" && !strings.HasSuffix(r.Output, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n")

	return b.String()
}

// ExportJSON renders a run as formatted JSON.
func ExportJSON(r *Run) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ExportYAML renders a run as YAML.
func ExportYAML(r *Run) ([]byte, error) {
	return yaml.Marshal(r)
}
