// Package tui is the interactive scheduler prompt. It follows The Elm
// Architecture via bubbletea: each submitted line runs through the pipeline
// as a command and its result is appended to the transcript.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/HendryAvila/kmad/internal/command"
	"github.com/HendryAvila/kmad/internal/pipeline"
)

// maxTranscript bounds how many past commands stay on screen.
const maxTranscript = 20

var (
	titleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC")).Bold(true)
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	replacedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// Executor runs one line of input. *app.App satisfies it.
type Executor interface {
	Execute(ctx context.Context, line string) (pipeline.Result, error)
}

type entry struct {
	input string
	res   pipeline.Result
	err   error
	help  bool
}

type resultMsg struct {
	line string
	res  pipeline.Result
	err  error
}

// Model is the REPL state.
type Model struct {
	exec       Executor
	input      textinput.Model
	transcript []entry
	running    bool
	showPhases bool
	width      int
}

// New creates the REPL model.
func New(exec Executor) *Model {
	in := textinput.New()
	in.Placeholder = "place Meeting 9:00"
	in.Prompt = "kmad> "
	in.PromptStyle = promptStyle
	in.CharLimit = 256
	in.Focus()
	return &Model{exec: exec, input: in, width: 80}
}

// Run starts the REPL on the terminal and blocks until the user quits.
func Run(exec Executor) error {
	_, err := tea.NewProgram(New(exec)).Run()
	return err
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case resultMsg:
		m.running = false
		m.push(entry{input: msg.line, res: msg.res, err: msg.err})
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyCtrlP:
			m.showPhases = !m.showPhases
			return m, nil
		case tea.KeyEnter:
			return m.submit()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	if line == "" || m.running {
		return m, nil
	}
	m.input.Reset()

	switch strings.ToLower(line) {
	case "quit", "exit":
		return m, tea.Quit
	case "help":
		m.push(entry{input: line, help: true})
		return m, nil
	}

	m.running = true
	exec := m.exec
	return m, func() tea.Msg {
		res, err := exec.Execute(context.Background(), line)
		return resultMsg{line: line, res: res, err: err}
	}
}

func (m *Model) push(e entry) {
	m.transcript = append(m.transcript, e)
	if len(m.transcript) > maxTranscript {
		m.transcript = m.transcript[len(m.transcript)-maxTranscript:]
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("kmad scheduler"))
	b.WriteString("\n\n")

	body := lipgloss.NewStyle().Width(max(20, m.width))
	for _, e := range m.transcript {
		b.WriteString(mutedStyle.Render("> " + e.input))
		b.WriteString("\n")
		b.WriteString(body.Render(m.render(e)))
		b.WriteString("\n\n")
	}

	if m.running {
		b.WriteString(mutedStyle.Render("running..."))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("enter run • ctrl+p phases • help • esc quit"))
	return b.String()
}

func (m *Model) render(e entry) string {
	switch {
	case e.help:
		return "Commands:\n" + command.Help()
	case e.err != nil:
		return errorStyle.Render("fatal: " + e.err.Error())
	}

	var text string
	switch e.res.Kind {
	case pipeline.ResultSuccess:
		text = successStyle.Render(e.res.Message)
	case pipeline.ResultReplaced:
		text = replacedStyle.Render(e.res.Message)
	case pipeline.ResultError:
		text = errorStyle.Render(e.res.Message)
	default:
		text = e.res.Message
	}
	if m.showPhases && len(e.res.Phases) > 0 {
		phases := make([]string, len(e.res.Phases))
		for i, p := range e.res.Phases {
			phases[i] = string(p)
		}
		text += "\n" + mutedStyle.Render(fmt.Sprintf("phases: %s", strings.Join(phases, " → ")))
	}
	return text
}
