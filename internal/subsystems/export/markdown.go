package export

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RenderMarkdown produces the human-readable rendering of a snapshot,
// shared by markdown exports and system reports.
func RenderMarkdown(snap Snapshot) []byte {
	var b strings.Builder
	b.WriteString("# Loom System Report\n\n")
	fmt.Fprintf(&b, "- Generated: %s\n", snap.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Version: %s\n\n", snap.Version)

	b.WriteString("## Components\n\n")
	names := make([]string, 0, len(snap.Components))
	for name := range snap.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := snap.Components[name]
		if st.Detail != "" {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", name, st.State, st.Detail)
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", name, st.State)
		}
	}

	fmt.Fprintf(&b, "\n## Workspaces (%d)\n\n", len(snap.Workspaces))
	for _, ws := range snap.Workspaces {
		fmt.Fprintf(&b, "### %s\n\n", ws.RootPath)
		fmt.Fprintf(&b, "- Documents: %d\n", len(ws.Documents))
		fmt.Fprintf(&b, "- Active workflows: %d\n\n", len(ws.ActiveWorkflows))
		docs := make([]string, 0, len(ws.Documents))
		for _, doc := range ws.Documents {
			docs = append(docs, fmt.Sprintf("- %s (%s) at %s\n", doc.Title, doc.Type, doc.CurrentStage))
		}
		sort.Strings(docs)
		for _, line := range docs {
			b.WriteString(line)
		}
		if len(docs) > 0 {
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "## Workflows (%d)\n\n", len(snap.Instances))
	if len(snap.Instances) > 0 {
		b.WriteString("| Workflow | Stage | Status | Retries | Error |\n")
		b.WriteString("| --- | --- | --- | --- | --- |\n")
		for _, inst := range snap.Instances {
			errText := inst.Error
			if errText == "" {
				errText = "-"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %d | %s |\n",
				inst.ID, inst.Stage, inst.Status, inst.RetryCount, errText)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Pipeline: %d running, %d pending, %d blocked, %d completed, %d failed\n",
		snap.Stats.Running, snap.Stats.Pending, snap.Stats.Blocked,
		snap.Stats.Completed, snap.Stats.Failed)

	if len(snap.RecentEvents) > 0 {
		b.WriteString("\n## Recent Events\n\n")
		for _, kind := range snap.RecentEvents {
			fmt.Fprintf(&b, "- %s\n", kind)
		}
	}
	return []byte(b.String())
}
