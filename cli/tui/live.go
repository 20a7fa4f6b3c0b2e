package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/drawscan/runtime"
	"github.com/justapithecus/drawscan/types"
)

// UploadingStatus is shown until the first server event arrives.
const UploadingStatus = "Uploading image..."

// SnapshotMsg delivers a published snapshot.
type SnapshotMsg struct{ Snapshot *types.Snapshot }

// StateMsg delivers a session state change.
type StateMsg struct{ State types.SessionState }

// ServerErrorMsg delivers a server-reported error.
type ServerErrorMsg struct{ Message string }

// DoneMsg delivers the session result.
type DoneMsg struct{ Result *runtime.SessionResult }

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
	Up   key.Binding
	Down key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "scroll up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "scroll down"),
	),
}

// LiveModel is a Bubble Tea model following one analysis session.
type LiveModel struct {
	filename     string
	state        types.SessionState
	snap         *types.Snapshot
	serverErrors []string
	result       *runtime.SessionResult
	spinner      spinner.Model
	offset       int
	width        int
	height       int
	exitOnDone   bool
	quitting     bool
}

// NewLiveModel creates a live model in the Idle state. With exitOnDone the
// program quits as soon as the session result arrives.
func NewLiveModel(filename string, exitOnDone bool) LiveModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = WarningStyle
	return LiveModel{
		filename:   filename,
		state:      types.SessionIdle,
		snap:       types.EmptySnapshot(),
		spinner:    sp,
		exitOnDone: exitOnDone,
	}
}

// Init implements tea.Model.
func (m LiveModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m LiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.offset > 0 {
				m.offset--
			}
		case key.Matches(msg, keys.Down):
			if m.offset < len(m.snap.Items)-1 {
				m.offset++
			}
		}
		return m, nil

	case SnapshotMsg:
		if msg.Snapshot != nil && msg.Snapshot.Version >= m.snap.Version {
			m.snap = msg.Snapshot
		}
		return m, nil

	case StateMsg:
		m.state = msg.State
		return m, nil

	case ServerErrorMsg:
		m.serverErrors = append(m.serverErrors, msg.Message)
		return m, nil

	case DoneMsg:
		m.result = msg.Result
		if msg.Result != nil {
			m.state = msg.Result.State
			if msg.Result.Snapshot != nil {
				m.snap = msg.Result.Snapshot
			}
		}
		if m.exitOnDone {
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		if m.state.IsTerminal() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m LiveModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("drawscan · " + m.filename))
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n\n")

	s := m.snap
	b.WriteString(field("Annotated image", presence(s.HasAnnotatedImage())))
	if s.Summary != "" {
		b.WriteString(field("Summary", s.Summary))
	}
	if len(m.serverErrors) > 0 {
		b.WriteString(field("Server errors", ErrorStyle.Render(fmt.Sprintf("%d", len(m.serverErrors)))))
	}

	if p := s.PageExtraction; p != nil {
		b.WriteString("\n")
		b.WriteString(SectionStyle.Render("Page extraction"))
		b.WriteString("\n")
		if p.Text != "" {
			b.WriteString(field("Text", p.Text))
		}
		for _, f := range p.Fields() {
			b.WriteString(field(f, p.Table[f]))
		}
		if p.ExportFile != "" {
			b.WriteString(field("Export file", p.ExportFile))
		}
	}

	b.WriteString("\n")
	b.WriteString(SectionStyle.Render(fmt.Sprintf("Items (%d)", len(s.Items))))
	b.WriteString("\n")
	b.WriteString(m.renderItems())

	if m.result != nil && m.result.Outcome != nil {
		b.WriteString("\n")
		outcome := string(m.result.Outcome.Status)
		b.WriteString(StateStyle(outcome).Render(outcome + ": " + m.result.Outcome.Message))
		b.WriteString("\n")
	}

	b.WriteString(HelpStyle.Render("↑/↓ scroll · q quit"))
	return b.String()
}

// StatusText returns the status line shown for the current model.
func (m LiveModel) StatusText() string {
	if m.state == types.SessionIdle && m.snap.Version == 0 {
		return UploadingStatus
	}
	return m.snap.StatusLine()
}

func (m LiveModel) renderStatus() string {
	state := StateStyle(string(m.state)).Render(string(m.state))
	text := m.StatusText()
	if m.snap.LastError != "" {
		text = ErrorStyle.Render(text)
	}
	if m.state.IsTerminal() {
		return state + "  " + text
	}
	return m.spinner.View() + " " + state + "  " + text
}

// renderItems lists items from the scroll offset, bounded by window height.
func (m LiveModel) renderItems() string {
	items := m.snap.Items
	if len(items) == 0 {
		return LabelStyle.Render("(none yet)") + "\n"
	}

	limit := len(items)
	if m.height > 0 {
		// Leave room for the header, status and sections above.
		limit = max(m.height-16, 3)
	}
	start := min(m.offset, len(items)-1)
	end := min(start+limit, len(items))

	var b strings.Builder
	for i := start; i < end; i++ {
		item := items[i]
		line := fmt.Sprintf("%3d  %-20s %7s", i+1, truncate(item.ClassName, 20), item.ConfidencePercent())
		if item.VLMText != "" {
			line += "  " + truncate(oneLine(item.VLMText), m.textWidth())
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if end < len(items) {
		b.WriteString(LabelStyle.Render(fmt.Sprintf("… %d more", len(items)-end)))
		b.WriteString("\n")
	}
	return b.String()
}

func (m LiveModel) textWidth() int {
	if m.width <= 0 {
		return 60
	}
	return max(m.width-36, 10)
}

// State returns the last session state seen.
func (m LiveModel) State() types.SessionState {
	return m.state
}

// Snapshot returns the snapshot being shown.
func (m LiveModel) Snapshot() *types.Snapshot {
	return m.snap
}

func field(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, LabelStyle.Render(label+":"), ValueStyle.Render(value)) + "\n"
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "pending"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
