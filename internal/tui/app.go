// Package tui provides the interactive terminal chat for mcp-local.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dgellow/mcp-local/internal/agent"
)

var (
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	queryStyle = lipgloss.NewStyle().
			Foreground(cyanColor).
			Bold(true)

	metaStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(successColor)
)

// Asker answers one query
type Asker interface {
	Ask(ctx context.Context, query string) (*agent.Turn, error)
}

// turnDoneMsg carries a finished turn back into the update loop
type turnDoneMsg struct {
	turn *agent.Turn
	err  error
}

// entry is one exchange in the transcript
type entry struct {
	query    string
	response string
	meta     string
	failed   bool
}

// App is the chat model
type App struct {
	ctx      context.Context
	asker    Asker
	model    string
	servers  []string
	input    textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	history  []entry
	pending  string
	busy     bool
	started  time.Time
	width    int
	height   int
}

// New creates the chat. model and servers are shown in the header.
func New(ctx context.Context, asker Asker, model string, servers []string) *App {
	ta := textarea.New()
	ta.Placeholder = "Ask about a sample, a function, an address..."
	ta.ShowLineNumbers = false
	ta.CharLimit = 4096
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	return &App{
		ctx:      ctx,
		asker:    asker,
		model:    model,
		servers:  servers,
		input:    ta,
		viewport: viewport.New(80, 20),
		spinner:  sp,
	}
}

// Run starts the chat and blocks until the user quits
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen(), tea.WithContext(a.ctx))
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return textarea.Blink
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "esc":
			a.input.Reset()
			return a, nil

		case "enter", "ctrl+s":
			return a, a.submit()

		case "pgup", "pgdown":
			var cmd tea.Cmd
			a.viewport, cmd = a.viewport.Update(msg)
			return a, cmd
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.SetWidth(msg.Width - 4)
		a.viewport.Width = msg.Width
		a.viewport.Height = max(msg.Height-9, 3)
		a.refresh()

	case turnDoneMsg:
		a.busy = false
		a.finish(msg)
		a.refresh()

	case spinner.TickMsg:
		if !a.busy {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	return a, tea.Batch(cmds...)
}

// submit starts a turn for the current input. Only one turn runs at a time.
func (a *App) submit() tea.Cmd {
	query := strings.TrimSpace(a.input.Value())
	if query == "" || a.busy {
		return nil
	}
	a.input.Reset()
	a.busy = true
	a.pending = query
	a.started = time.Now()
	a.refresh()

	ctx, asker := a.ctx, a.asker
	return tea.Batch(a.spinner.Tick, func() tea.Msg {
		turn, err := asker.Ask(ctx, query)
		return turnDoneMsg{turn: turn, err: err}
	})
}

func (a *App) finish(msg turnDoneMsg) {
	e := entry{query: a.pending, failed: msg.err != nil}
	a.pending = ""

	switch {
	case msg.turn != nil:
		e.response = msg.turn.Response
		if msg.turn.Call != nil {
			e.meta = fmt.Sprintf("%s › %s · %s", msg.turn.Server, msg.turn.Call.Name, msg.turn.Duration.Round(time.Millisecond))
		}
	case msg.err != nil:
		e.response = msg.err.Error()
	}
	a.history = append(a.history, e)
}

// refresh rebuilds the transcript and keeps it scrolled to the newest turn
func (a *App) refresh() {
	a.viewport.SetContent(a.transcript())
	a.viewport.GotoBottom()
}

func (a *App) transcript() string {
	var b strings.Builder
	width := max(a.viewport.Width-2, 20)
	wrap := lipgloss.NewStyle().Width(width)

	for _, e := range a.history {
		b.WriteString(queryStyle.Render("> " + e.query))
		b.WriteString("\n")
		if e.meta != "" {
			b.WriteString(metaStyle.Render(e.meta))
			b.WriteString("\n")
		}
		if e.failed {
			b.WriteString(errorStyle.Render(wrap.Render(e.response)))
		} else {
			b.WriteString(wrap.Render(e.response))
		}
		b.WriteString("\n\n")
	}
	if a.busy {
		b.WriteString(queryStyle.Render("> " + a.pending))
		b.WriteString("\n")
	}
	return b.String()
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	header := titleStyle.Render("mcp-local")
	header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(a.model)
	header += "  " + metaStyle.Render(strings.Join(a.servers, ", "))
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 1)) + "\n")

	b.WriteString(a.viewport.View())
	b.WriteString("\n")

	if a.busy {
		b.WriteString(a.spinner.View() + " " + metaStyle.Render(fmt.Sprintf("thinking (%s)", time.Since(a.started).Round(time.Second))))
	}
	b.WriteString("\n")

	b.WriteString(inputBoxStyle.Render(a.input.View()))
	b.WriteString("\n")

	status := fmt.Sprintf(" Turns: %d | Enter/Ctrl+S:send | Esc:clear | PgUp/PgDn:scroll | Ctrl+C:quit", len(a.history))
	b.WriteString(statusBarStyle.Width(max(a.width, 1)).Render(status))

	return b.String()
}
