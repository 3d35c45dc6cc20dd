// internal/tui/app.go
//
// The terminal dashboard for Loom. It is built on bubbletea's Elm-style
// loop: key presses, refresh ticks and event-bus pushes arrive as
// messages, Update folds them into the model, and View renders the model
// to the screen.

package tui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	loom "github.com/kingrea/loom"
	"github.com/kingrea/loom/internal/event"
	"github.com/kingrea/loom/internal/pipeline"
	"github.com/kingrea/loom/internal/subsystem"
)

// appState represents which "screen" the dashboard shows
type appState int

const (
	stateDashboard appState = iota // Status board with the action menu
	stateIntake                    // Path prompt for queueing a document
	stateReport                    // Rendered markdown system report
)

const (
	dashboardRefreshInterval = 2 * time.Second
	journalTailLines         = 6
	eventFeedLines           = 5
	boardWindow              = 8
)

type boardFocus int

const (
	focusMenu boardFocus = iota
	focusInstances
)

type statusRefreshMsg struct {
	status    loom.SystemStatus
	instances []pipeline.Instance
	titles    map[string]string
	journal   []string
}

// busPushMsg signals that the coordinator's bus published something and the
// board should refresh ahead of the next tick.
type busPushMsg struct{}

type intakeDoneMsg struct {
	path   string
	result loom.ProcessResult
}

type exportDoneMsg struct {
	result loom.ExportResult
}

// App is the dashboard model. In bubbletea, this holds ALL the state.
type App struct {
	coord  *loom.Coordinator
	colors palette
	state  appState

	// UI components
	mainMenu  list.Model
	intake    textinput.Model
	report    string
	statusMsg string

	// Latest snapshot pulled from the coordinator
	status    loom.SystemStatus
	instances []pipeline.Instance
	titles    map[string]string
	journal   []string

	boardFocus boardFocus
	boardSel   int

	// Window size (we get this from bubbletea)
	width  int
	height int

	push chan struct{}
	sub  *event.Subscription
}

// menuItem implements list.Item interface for our menu items
type menuItem struct {
	title string
	desc  string
}

func (i menuItem) Title() string       { return i.title }
func (i menuItem) Description() string { return i.desc }
func (i menuItem) FilterValue() string { return i.title }

// NewApp builds the dashboard around an initialized coordinator. When the
// interface runs with real-time refresh, the app also subscribes to the
// coordinator's bus so pipeline activity shows up before the next tick.
func NewApp(coord *loom.Coordinator) *App {
	items := []list.Item{
		menuItem{title: "Queue Document", desc: "Send a markdown document through the stage pipeline"},
		menuItem{title: "Export Snapshot", desc: "Write a system snapshot to the exports directory"},
		menuItem{title: "View Report", desc: "Render the markdown system report"},
		menuItem{title: "Exit", desc: "Quit Loom"},
	}
	mainMenu := list.New(items, list.NewDefaultDelegate(), 0, 0)
	mainMenu.Title = "▤ THE LOOM"
	mainMenu.SetShowStatusBar(false)
	mainMenu.SetFilteringEnabled(false)

	intake := textinput.New()
	intake.Placeholder = "path/to/document.md"
	intake.Width = 48

	app := &App{
		coord:      coord,
		colors:     paletteFor(coord.Theme()),
		state:      stateDashboard,
		mainMenu:   mainMenu,
		intake:     intake,
		boardFocus: focusMenu,
	}
	if coord.RealTime() {
		app.push = make(chan struct{}, 1)
		app.sub = coord.Subscribe(event.KindAll, func(event.Event) {
			select {
			case app.push <- struct{}{}:
			default:
			}
		})
	}
	return app
}

// Close detaches the bus subscription. Run calls this when the program
// exits; callers embedding the model elsewhere must do the same.
func (a *App) Close() {
	if a.sub != nil {
		a.sub.Close()
	}
}

// Run drives the dashboard until the user quits.
func Run(coord *loom.Coordinator) error {
	app := NewApp(coord)
	defer app.Close()
	program := tea.NewProgram(app, tea.WithAltScreen())
	_, err := program.Run()
	return err
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.fetchStatusSnapshot()}
	if cmd := a.awaitBusPush(); cmd != nil {
		cmds = append(cmds, cmd)
	}
	return tea.Batch(cmds...)
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.mainMenu.SetSize(max(0, msg.Width-6), max(0, msg.Height-12))
		return a, nil

	case statusRefreshMsg:
		a.applySnapshot(msg)
		return a, a.scheduleStatusRefresh()

	case busPushMsg:
		return a, tea.Batch(a.fetchStatusSnapshot(), a.awaitBusPush())

	case intakeDoneMsg:
		if msg.result.Error != nil {
			a.statusMsg = fmt.Sprintf("Intake failed: %v", msg.result.Error)
			return a, nil
		}
		a.statusMsg = fmt.Sprintf("Queued %s (%d stages)", filepath.Base(msg.path), len(msg.result.WorkflowIDs))
		return a, a.fetchStatusSnapshot()

	case exportDoneMsg:
		if msg.result.Error != nil {
			a.statusMsg = fmt.Sprintf("Export failed: %v", msg.result.Error)
			return a, nil
		}
		a.statusMsg = fmt.Sprintf("Exported %s", msg.result.Filename)
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a.forwardToFocused(msg)
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return a, tea.Quit
	}
	switch a.state {
	case stateIntake:
		return a.handleIntakeKey(msg)
	case stateReport:
		if key == "esc" || key == "q" {
			a.state = stateDashboard
			a.report = ""
		}
		return a, nil
	}

	switch key {
	case "q":
		return a, tea.Quit
	case "r":
		a.statusMsg = "Refreshing dashboard..."
		return a, a.fetchStatusSnapshot()
	case "tab":
		if a.boardFocus == focusMenu && len(a.instances) > 0 {
			a.boardFocus = focusInstances
		} else {
			a.boardFocus = focusMenu
		}
	case "right", "l":
		if len(a.instances) > 0 {
			a.boardFocus = focusInstances
		}
	case "left", "h":
		a.boardFocus = focusMenu
	case "up", "k":
		if a.boardFocus == focusInstances && len(a.instances) > 0 {
			if a.boardSel > 0 {
				a.boardSel--
			}
			return a, nil
		}
	case "down", "j":
		if a.boardFocus == focusInstances && len(a.instances) > 0 {
			if a.boardSel < len(a.instances)-1 {
				a.boardSel++
			}
			return a, nil
		}
	case "enter":
		if a.boardFocus == focusMenu {
			return a.handleMenuSelection()
		}
		return a, nil
	}

	return a.forwardToFocused(msg)
}

func (a *App) forwardToFocused(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch a.state {
	case stateIntake:
		var cmd tea.Cmd
		a.intake, cmd = a.intake.Update(msg)
		return a, cmd
	case stateDashboard:
		if a.boardFocus == focusMenu {
			var cmd tea.Cmd
			a.mainMenu, cmd = a.mainMenu.Update(msg)
			return a, cmd
		}
	}
	return a, nil
}

// handleMenuSelection processes menu item selection
func (a *App) handleMenuSelection() (tea.Model, tea.Cmd) {
	item, ok := a.mainMenu.SelectedItem().(menuItem)
	if !ok {
		return a, nil
	}

	switch item.title {
	case "Queue Document":
		a.state = stateIntake
		a.intake.SetValue("")
		a.intake.Focus()
		a.statusMsg = "Enter a document path to queue"
		return a, textinput.Blink

	case "Export Snapshot":
		a.statusMsg = "Exporting snapshot..."
		return a, a.exportSnapshot()

	case "View Report":
		a.report = a.coord.GenerateSystemReport()
		a.state = stateReport
		return a, nil

	case "Exit":
		return a, tea.Quit
	}

	return a, nil
}

func (a *App) handleIntakeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.state = stateDashboard
		a.intake.Blur()
		a.statusMsg = ""
		return a, nil
	case "enter":
		path := strings.TrimSpace(a.intake.Value())
		if path == "" {
			a.statusMsg = "Document path is required"
			return a, nil
		}
		a.intake.Blur()
		a.state = stateDashboard
		a.statusMsg = fmt.Sprintf("Queueing %s...", filepath.Base(path))
		return a, a.queueDocument(path)
	}
	var cmd tea.Cmd
	a.intake, cmd = a.intake.Update(msg)
	return a, cmd
}

func (a *App) queueDocument(path string) tea.Cmd {
	coord := a.coord
	return func() tea.Msg {
		return intakeDoneMsg{path: path, result: coord.ProcessDocument(path)}
	}
}

func (a *App) exportSnapshot() tea.Cmd {
	coord := a.coord
	return func() tea.Msg {
		return exportDoneMsg{result: coord.ExportSystemData("")}
	}
}

func (a *App) applySnapshot(msg statusRefreshMsg) {
	a.status = msg.status
	a.instances = msg.instances
	a.titles = msg.titles
	a.journal = msg.journal
	if len(a.instances) == 0 {
		a.boardSel = 0
		a.boardFocus = focusMenu
	} else if a.boardSel >= len(a.instances) {
		a.boardSel = len(a.instances) - 1
	}
}

func (a *App) fetchStatusSnapshot() tea.Cmd {
	return func() tea.Msg {
		return a.buildStatusSnapshot()
	}
}

func (a *App) scheduleStatusRefresh() tea.Cmd {
	return tea.Tick(dashboardRefreshInterval, func(time.Time) tea.Msg {
		return a.buildStatusSnapshot()
	})
}

func (a *App) awaitBusPush() tea.Cmd {
	if a.push == nil {
		return nil
	}
	ch := a.push
	return func() tea.Msg {
		<-ch
		return busPushMsg{}
	}
}

// View renders the current state to a string.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	rightWidth := max(40, (width*2)/5)
	leftWidth := width - rightWidth - 4
	if leftWidth < 40 {
		leftWidth = width - 4
	}
	if leftWidth < 20 {
		leftWidth = width
		rightWidth = 0
	}
	if a.state == stateDashboard && a.boardFocus == focusMenu {
		a.mainMenu.SetSize(max(20, leftWidth-4), max(10, a.height-12))
	}
	var content string
	switch a.state {
	case stateDashboard:
		content = a.mainMenu.View()
	case stateIntake:
		content = a.renderIntake()
	case stateReport:
		content = a.renderReport()
	}
	return a.renderDashboard(content, leftWidth, rightWidth)
}

func (a *App) renderDashboard(mainContent string, leftWidth, rightWidth int) string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(a.colors.Header).
		MarginBottom(1).
		Render("▤ LOOM")
	left := lipgloss.JoinVertical(lipgloss.Left,
		a.renderLifecyclePanel(leftWidth-4),
		"",
		a.renderMainArea(mainContent, leftWidth-4),
	)
	leftBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(a.colors.Border).
		Padding(0, 1).
		Width(max(20, leftWidth)).
		Render(left)
	var body string
	if rightWidth > 0 {
		right := a.renderInstancePanel(rightWidth - 4)
		rightBox := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(a.colors.Border).
			Padding(0, 1).
			Width(max(20, rightWidth)).
			Render(right)
		body = lipgloss.JoinHorizontal(lipgloss.Top, leftBox, rightBox)
	} else {
		body = leftBox
	}
	sections := []string{header, body}
	if feed := a.renderEventPanel(); feed != "" {
		sections = append(sections, feed)
	}
	if tail := a.renderJournalPanel(); tail != "" {
		sections = append(sections, tail)
	}
	footer := lipgloss.NewStyle().
		Foreground(a.colors.Muted).
		MarginTop(1).
		Render(a.statusMsg)
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) renderLifecyclePanel(width int) string {
	st := a.status
	stateLine := fmt.Sprintf("State: %s", friendlyLabel(string(st.State)))
	if st.UptimeSeconds > 0 {
		stateLine += fmt.Sprintf(" · up %s", humanizeDuration(time.Duration(st.UptimeSeconds)*time.Second))
	}
	countLine := fmt.Sprintf(
		"%d workspace(s) · %d document(s) · %d active chain(s)",
		st.Workspaces, st.Documents, st.Pipeline.ActiveChains,
	)
	pipeLine := fmt.Sprintf(
		"Pipeline: %d running · %d pending · %d blocked · %d done · %d failed",
		st.Pipeline.Running, st.Pipeline.Pending, st.Pipeline.Blocked,
		st.Pipeline.Completed, st.Pipeline.Failed,
	)
	lines := []string{stateLine, countLine, pipeLine}
	names := make([]string, 0, len(st.Components))
	for name := range st.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		comp := st.Components[name]
		line := fmt.Sprintf("%s %s", a.componentGlyph(comp.State), name)
		if comp.Detail != "" {
			line += fmt.Sprintf(" · %s", comp.Detail)
		}
		lines = append(lines, line)
	}
	return lipgloss.NewStyle().Width(max(20, width)).Render(strings.Join(lines, "\n"))
}

func (a *App) componentGlyph(state subsystem.State) string {
	switch state {
	case subsystem.StateReady:
		return lipgloss.NewStyle().Foreground(a.colors.Good).Render("●")
	case subsystem.StateDegraded:
		return lipgloss.NewStyle().Foreground(a.colors.Warn).Render("●")
	case subsystem.StateError:
		return lipgloss.NewStyle().Foreground(a.colors.Bad).Render("●")
	default:
		return lipgloss.NewStyle().Foreground(a.colors.Muted).Render("○")
	}
}

func (a *App) renderMainArea(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		content = "Ready to queue documents."
	}
	return lipgloss.NewStyle().Width(max(20, width)).Render(content)
}

func (a *App) renderIntake() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(a.colors.Accent).
		Render("Queue Document")
	hint := lipgloss.NewStyle().
		Foreground(a.colors.Muted).
		MarginTop(1).
		Render("Enter → queue document    Esc → cancel")
	return lipgloss.JoinVertical(lipgloss.Left, title, a.intake.View(), hint)
}

func (a *App) renderReport() string {
	hint := lipgloss.NewStyle().
		Foreground(a.colors.Muted).
		MarginTop(1).
		Render("Esc → back to dashboard")
	return lipgloss.JoinVertical(lipgloss.Left, a.report, hint)
}

func (a *App) renderEventPanel() string {
	events := a.status.RecentEvents
	if len(events) == 0 {
		return ""
	}
	if len(events) > eventFeedLines {
		events = events[len(events)-eventFeedLines:]
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(a.colors.Accent).
		Render(fmt.Sprintf("EVENTS · last %d", len(events)))
	body := lipgloss.NewStyle().
		Foreground(a.colors.Text).
		Render(strings.Join(events, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(a.colors.Border).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

func (a *App) renderJournalPanel() string {
	if len(a.journal) == 0 {
		return ""
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(a.colors.Accent).
		Render("JOURNAL · loom.log")
	body := lipgloss.NewStyle().
		Foreground(a.colors.Detail).
		Render(strings.Join(a.journal, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(a.colors.Border).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

func friendlyLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	replacer := strings.NewReplacer("_", " ", "-", " ", ".", " ")
	words := strings.Fields(replacer.Replace(strings.ToLower(value)))
	if len(words) == 0 {
		return ""
	}
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func humanizeDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh", int(d.Hours()))
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
