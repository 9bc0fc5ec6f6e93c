package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/script-host/luahost"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	blobStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type monitorModel struct {
	err     error
	host    *luahost.Host
	stats   *luahost.Stats
	input   textinput.Model
	lastRun string
	timeout time.Duration
}

type tickMsg time.Time

type snapshotMsg struct {
	stats *luahost.Stats
	err   error
}

type evalMsg struct {
	err error
}

func newMonitorModel(host *luahost.Host, timeout time.Duration) *monitorModel {
	ti := textinput.New()
	ti.Placeholder = `b = blobs.open("name") b:write("data")`
	ti.Prompt = "lua> "
	ti.Width = 60
	ti.Focus()
	return &monitorModel{host: host, input: ti, timeout: timeout}
}

func (m *monitorModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.snapshot, tick())
}

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *monitorModel) snapshot() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	st, err := m.host.Snapshot(ctx)
	return snapshotMsg{stats: st, err: err}
}

func (m *monitorModel) eval(src string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		return evalMsg{err: m.host.RunString(ctx, src)}
	}
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "enter":
			src := strings.TrimSpace(m.input.Value())
			if src == "" {
				return m, nil
			}
			m.input.Reset()
			m.lastRun = src
			m.err = nil
			return m, m.eval(src)
		}

	case tickMsg:
		return m, tea.Batch(m.snapshot, tick())

	case snapshotMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.stats = msg.stats
		return m, nil

	case evalMsg:
		m.err = msg.err
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *monitorModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Blob Host Monitor"))
	b.WriteString("\n\n")

	if m.stats == nil {
		b.WriteString("Collecting first snapshot...\n")
	} else {
		st := m.stats
		b.WriteString(fmt.Sprintf("Workers %d   Pins %d   Scheduled %d   Completed %d\n\n",
			st.Workers, st.Pins, st.Scheduled, st.Completed))

		b.WriteString(headerStyle.Render(fmt.Sprintf("  %-4s %-16s %8s %7s %7s  %s",
			"ID", "NAME", "SIZE", "ACTIVE", "QUEUED", "STATE")))
		b.WriteString("\n")
		if len(st.Blobs) == 0 {
			b.WriteString(helpStyle.Render("  no blobs"))
			b.WriteString("\n")
		}
		for _, blob := range st.Blobs {
			state := ""
			style := blobStyle
			if blob.Canceled {
				state = "canceled"
				style = errorStyle
			}
			b.WriteString(style.Render(fmt.Sprintf("  %-4d %-16s %8d %7d %7d  %s",
				blob.ID, blob.Name, blob.Size, blob.Active, blob.Queued, state)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	if m.lastRun != "" && m.err == nil {
		b.WriteString(resultStyle.Render("ok: " + m.lastRun))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter run • esc quit"))
	return b.String()
}

func runInteractive(cfg luahost.Config, scriptFile, inline string, timeout time.Duration) error {
	host, err := luahost.New(cfg)
	if err != nil {
		return fmt.Errorf("create host: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		host.Close(closeCtx)
	}()

	ctx := context.Background()
	if scriptFile != "" {
		if err := host.RunFile(ctx, scriptFile); err != nil {
			return err
		}
	}
	if inline != "" {
		if err := host.RunString(ctx, inline); err != nil {
			return err
		}
	}

	p := tea.NewProgram(newMonitorModel(host, timeout), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
