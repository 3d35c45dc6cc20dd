package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/loom/internal/pipeline"
)

// buildStatusSnapshot pulls one consistent view of the coordinator. It runs
// inside a tea.Cmd so slow disks never stall the render loop.
func (a *App) buildStatusSnapshot() statusRefreshMsg {
	status := a.coord.SystemStatus()
	instances := a.coord.Instances()
	titles := make(map[string]string)
	for _, ws := range a.coord.Workspaces() {
		for id, doc := range ws.Documents {
			title := strings.TrimSpace(doc.Title)
			if title == "" {
				title = shortID(id)
			}
			titles[id] = title
		}
	}
	return statusRefreshMsg{
		status:    status,
		instances: instances,
		titles:    titles,
		journal:   a.coord.JournalTail(journalTailLines),
	}
}

func (a *App) renderInstancePanel(width int) string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(a.colors.Accent).
		Render(fmt.Sprintf("Workflows (%d)", len(a.instances)))
	if len(a.instances) == 0 {
		note := lipgloss.NewStyle().
			Foreground(a.colors.Muted).
			Render("No workflow instances yet. Queue a document to start a chain.")
		return lipgloss.JoinVertical(lipgloss.Left, title, note, a.renderBoardInstructions())
	}
	start, end := a.boardWindowBounds()
	var rows []string
	if start > 0 {
		rows = append(rows, lipgloss.NewStyle().Foreground(a.colors.Muted).Render(fmt.Sprintf("… %d earlier", start)))
	}
	for i := start; i < end; i++ {
		selected := a.boardFocus == focusInstances && i == a.boardSel
		rows = append(rows, a.renderInstanceRow(a.instances[i], selected, width))
		if selected {
			rows = append(rows, a.renderInstanceDetail(a.instances[i]))
		}
	}
	if end < len(a.instances) {
		rows = append(rows, lipgloss.NewStyle().Foreground(a.colors.Muted).Render(fmt.Sprintf("… %d more", len(a.instances)-end)))
	}
	body := strings.Join(rows, "\n")
	return lipgloss.JoinVertical(lipgloss.Left, title, body, a.renderBoardInstructions())
}

func (a *App) renderBoardInstructions() string {
	return lipgloss.NewStyle().
		Foreground(a.colors.Muted).
		MarginTop(1).
		Render("Tab → switch panel    r → refresh    q → quit")
}

func (a *App) renderInstanceRow(inst pipeline.Instance, selected bool, width int) string {
	label := statusStyleFor(a.colors, inst.Status).Render(friendlyLabel(string(inst.Status)))
	line1 := fmt.Sprintf("%s · %s", a.instanceTitle(inst), inst.Stage)
	if inst.ParentID != "" {
		line1 += " · refinement"
	}
	line2 := label
	if inst.RetryCount > 0 {
		line2 += fmt.Sprintf(" · retry %d", inst.RetryCount)
	}
	if inst.RequeueCount > 0 {
		line2 += fmt.Sprintf(" · requeued %d", inst.RequeueCount)
	}
	if ts := instanceClock(inst); !ts.IsZero() {
		line2 += fmt.Sprintf(" · %s ago", humanizeDuration(time.Since(ts)))
	}
	content := line1 + "\n" + line2
	style := lipgloss.NewStyle().Width(max(20, width)).Padding(0, 0, 1, 0)
	if selected {
		style = style.Bold(true).
			Border(lipgloss.NormalBorder()).
			BorderForeground(a.colors.Accent).
			Padding(0, 1)
	}
	return style.Render(content)
}

func (a *App) renderInstanceDetail(inst pipeline.Instance) string {
	details := []string{fmt.Sprintf("workflow %s · chain %s", shortID(inst.ID), shortID(inst.ChainID))}
	if inst.ParentID != "" {
		details = append(details, fmt.Sprintf("refines %s", shortID(inst.ParentID)))
	}
	if inst.Error != "" {
		details = append(details, fmt.Sprintf("error: %s", inst.Error))
	}
	if len(inst.RefinementPhases) > 0 {
		details = append(details, fmt.Sprintf("phases: %s", strings.Join(inst.RefinementPhases, " → ")))
	}
	if !inst.StartedAt.IsZero() {
		details = append(details, fmt.Sprintf("started %s", inst.StartedAt.Format("15:04:05")))
	}
	if !inst.FinishedAt.IsZero() {
		details = append(details, fmt.Sprintf("finished %s", inst.FinishedAt.Format("15:04:05")))
	}
	body := "  " + strings.Join(details, "\n  ")
	return lipgloss.NewStyle().Foreground(a.colors.Detail).Render(body)
}

// boardWindowBounds keeps the selection visible when the instance list
// outgrows the panel.
func (a *App) boardWindowBounds() (int, int) {
	total := len(a.instances)
	if total <= boardWindow {
		return 0, total
	}
	start := a.boardSel - boardWindow/2
	if start < 0 {
		start = 0
	}
	if start+boardWindow > total {
		start = total - boardWindow
	}
	return start, start + boardWindow
}

func (a *App) instanceTitle(inst pipeline.Instance) string {
	if title, ok := a.titles[inst.DocumentID]; ok && title != "" {
		return title
	}
	return shortID(inst.DocumentID)
}

func instanceClock(inst pipeline.Instance) time.Time {
	if !inst.FinishedAt.IsZero() {
		return inst.FinishedAt
	}
	if !inst.StartedAt.IsZero() {
		return inst.StartedAt
	}
	return inst.EnqueuedAt
}
