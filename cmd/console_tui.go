// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/gcodehost/pkg/gcode"
	"github.com/Thermoquad/gcodehost/pkg/printcore"
)

// Console log entry
type consoleLogEntry struct {
	timestamp time.Time
	kind      consoleEntryKind
	message   string
}

type consoleEntryKind int

const (
	entryRecv consoleEntryKind = iota
	entrySent
	entryInfo
	entryError
)

// TUI model
type consoleModel struct {
	ctrl     *printcore.Controller
	connInfo string

	input    textinput.Model
	logView  viewport.Model
	log      []consoleLogEntry
	maxLog   int
	follow   bool
	history  []string
	histIdx  int
	jobFile  string
	layer    int
	temps    map[string]printcore.Reading
	stats    printcore.Statistics
	pollTemp time.Duration
	lastPoll time.Time

	width    int
	height   int
	ready    bool
	quitting bool
}

// Messages
type consoleTickMsg time.Time

type consoleRecvMsg struct {
	line string
}

type consoleSendMsg struct {
	command string
}

type consoleTempMsg struct {
	temps map[string]printcore.Reading
}

type consoleEventMsg struct {
	message string
	isError bool
}

type consoleLayerMsg struct {
	layer int
}

// consoleJobMsg reports a job action that ran off the UI goroutine
type consoleJobMsg struct {
	file    string
	message string
	ok      bool
}

func initialConsoleModel(c *printcore.Controller, connInfo string, pollTemp time.Duration) consoleModel {
	ti := textinput.New()
	ti.Placeholder = "G-code or /command"
	ti.Prompt = "> "
	ti.CharLimit = 256
	ti.Focus()

	return consoleModel{
		ctrl:     c,
		connInfo: connInfo,
		input:    ti,
		maxLog:   2000,
		follow:   true,
		temps:    make(map[string]printcore.Reading),
		pollTemp: pollTemp,
		width:    80,
		height:   24,
	}
}

func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		consoleTickCmd(),
	)
}

func consoleTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return consoleTickMsg(t)
	})
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				return m, nil
			}
			m.history = append(m.history, line)
			m.histIdx = len(m.history)
			return m.handleInput(line)
		case "up":
			if m.histIdx > 0 {
				m.histIdx--
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			}
			return m, nil
		case "down":
			if m.histIdx < len(m.history)-1 {
				m.histIdx++
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			} else {
				m.histIdx = len(m.history)
				m.input.SetValue("")
			}
			return m, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.logView, cmd = m.logView.Update(msg)
			m.follow = m.logView.AtBottom()
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case consoleTickMsg:
		m.stats = m.ctrl.Stats()
		if m.pollTemp > 0 && m.ctrl.Online() && time.Since(m.lastPoll) >= m.pollTemp {
			m.lastPoll = time.Now()
			m.ctrl.SendNow("M105")
		}
		cmds = append(cmds, consoleTickCmd())

	case consoleRecvMsg:
		// polled temperature reports only update the status line
		if !strings.HasPrefix(msg.line, "ok T:") {
			m.addLogEntry(entryRecv, msg.line)
		}

	case consoleSendMsg:
		if !strings.Contains(msg.command, "M105") {
			m.addLogEntry(entrySent, msg.command)
		}

	case consoleTempMsg:
		for k, v := range msg.temps {
			m.temps[k] = v
		}

	case consoleLayerMsg:
		m.layer = msg.layer

	case consoleEventMsg:
		kind := entryInfo
		if msg.isError {
			kind = entryError
		}
		m.addLogEntry(kind, msg.message)

	case consoleJobMsg:
		if msg.file != "" && msg.ok {
			m.jobFile = msg.file
			m.layer = 0
		}
		if msg.message != "" {
			kind := entryInfo
			if !msg.ok {
				kind = entryError
			}
			m.addLogEntry(kind, msg.message)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// handleInput sends G-code or runs a /command. Controller calls that wait
// on the sender run as tea.Cmds so the UI keeps draining events.
func (m consoleModel) handleInput(line string) (tea.Model, tea.Cmd) {
	if !strings.HasPrefix(line, "/") {
		if !m.ctrl.Send(line) {
			m.addLogEntry(entryError, "Not sent: "+line)
		}
		return m, nil
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	c := m.ctrl

	switch strings.ToLower(name) {
	case "quit", "exit":
		m.quitting = true
		return m, tea.Quit
	case "print":
		if arg == "" {
			m.addLogEntry(entryError, "usage: /print FILE")
			return m, nil
		}
		return m, func() tea.Msg { return startJob(c, arg) }
	case "pause":
		return m, jobAction(c.Pause, "Paused", "Nothing to pause")
	case "resume":
		return m, jobAction(c.Resume, "Resuming", "Nothing to resume")
	case "cancel":
		return m, jobAction(c.CancelPrint, "Job cancelled", "Nothing to cancel")
	case "recover":
		return m, jobAction(c.Recover, "Recovering", "Nothing to recover")
	case "reset":
		return m, func() tea.Msg {
			if err := c.Reset(); err != nil {
				return consoleJobMsg{message: err.Error()}
			}
			return consoleJobMsg{message: "Board reset", ok: true}
		}
	case "stats":
		st := c.Stats()
		for _, s := range strings.Split(strings.TrimRight(st.String(), "\n"), "\n") {
			m.addLogEntry(entryInfo, s)
		}
		return m, nil
	}

	m.addLogEntry(entryError, "Unknown command /"+name)
	return m, nil
}

func jobAction(fn func() bool, okMsg, failMsg string) tea.Cmd {
	return func() tea.Msg {
		if fn() {
			return consoleJobMsg{message: okMsg, ok: true}
		}
		return consoleJobMsg{message: failMsg}
	}
}

func startJob(c *printcore.Controller, path string) tea.Msg {
	doc, err := gcode.LoadFile(path)
	if err != nil {
		return consoleJobMsg{message: err.Error()}
	}
	if !c.StartPrint(doc, 0) {
		return consoleJobMsg{message: "Printer refused " + path}
	}
	return consoleJobMsg{
		file:    path,
		message: fmt.Sprintf("Printing %s (%d lines, est. %s)", path, doc.Len(), gcode.FormatDuration(doc.Duration)),
		ok:      true,
	}
}

func (m *consoleModel) addLogEntry(kind consoleEntryKind, message string) {
	m.log = append(m.log, consoleLogEntry{
		timestamp: time.Now(),
		kind:      kind,
		message:   message,
	})

	// Keep only last N entries
	if len(m.log) > m.maxLog {
		m.log = m.log[len(m.log)-m.maxLog:]
	}
	m.refreshLog()
}

// resize lays out the log viewport under the header and above the input
func (m *consoleModel) resize() {
	h := m.height - 8
	if h < 3 {
		h = 3
	}
	if !m.ready {
		m.logView = viewport.New(m.width-4, h)
		m.ready = true
	} else {
		m.logView.Width = m.width - 4
		m.logView.Height = h
	}
	m.input.Width = m.width - 6
	m.refreshLog()
}

func (m *consoleModel) refreshLog() {
	if !m.ready {
		return
	}

	timeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	recvStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	sentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	infoStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	var b strings.Builder
	for i, e := range m.log {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(timeStyle.Render(e.timestamp.Format("15:04:05.000")))
		b.WriteString(" ")
		switch e.kind {
		case entryRecv:
			b.WriteString(recvStyle.Render(e.message))
		case entrySent:
			b.WriteString(sentStyle.Render(">>> " + e.message))
		case entryInfo:
			b.WriteString(infoStyle.Render("ℹ " + e.message))
		case entryError:
			b.WriteString(errorStyle.Render("✗ " + e.message))
		}
	}
	m.logView.SetContent(b.String())
	if m.follow {
		m.logView.GotoBottom()
	}
}

func (m consoleModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("GCODEHOST - CONSOLE"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Ctrl+C to quit", m.connInfo)))
	s.WriteString("\n")

	// Status line
	status := statsValueStyle.Render("online")
	if !m.ctrl.Online() {
		status = errorStyle.Render("offline")
	}
	s.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Printer:"), status,
		statsLabelStyle.Render("Job:"), statsValueStyle.Render(m.jobLabel()),
		statsLabelStyle.Render("Temps:"), statsValueStyle.Render(formatTemps(m.temps)),
	))
	s.WriteString("\n")

	if cursor, total := m.ctrl.Progress(); total > 0 {
		s.WriteString(fmt.Sprintf("%s %s %s   %s %s   %s %s",
			statsLabelStyle.Render("Progress:"),
			renderBar(cursor, total, 20),
			statsValueStyle.Render(fmt.Sprintf("%d/%d", cursor, total)),
			statsLabelStyle.Render("Layer:"), statsValueStyle.Render(fmt.Sprintf("%d", m.layer)),
			statsLabelStyle.Render("ETA:"), statsValueStyle.Render(gcode.FormatDuration(m.ctrl.ETA())),
		))
	} else {
		s.WriteString(headerStyle.Render("No job loaded"))
	}
	s.WriteString("\n")

	errCount := m.stats.Errors + m.stats.DecodeErrors + m.stats.WriteFailures
	s.WriteString(fmt.Sprintf("%s %d   %s %d   %s %d   %s %s",
		statsLabelStyle.Render("Sent:"), m.stats.LinesSent,
		statsLabelStyle.Render("Recv:"), m.stats.LinesReceived,
		statsLabelStyle.Render("Resends:"), m.stats.Resends,
		statsLabelStyle.Render("Errors:"), func() string {
			if errCount > 0 {
				return errorStyle.Render(fmt.Sprintf("%d", errCount))
			}
			return statsValueStyle.Render("0")
		}(),
	))
	s.WriteString("\n")

	if m.ready {
		s.WriteString(boxStyle.Render(m.logView.View()))
		s.WriteString("\n")
	}
	s.WriteString(m.input.View())

	return s.String()
}

func (m consoleModel) jobLabel() string {
	state := m.ctrl.JobState()
	if m.jobFile == "" || state == printcore.JobIdle {
		return state
	}
	return state + " " + m.jobFile
}

// renderBar draws a fixed-width progress bar
func renderBar(cursor, total, width int) string {
	filled := 0
	if total > 0 {
		filled = cursor * width / total
	}
	filled = min(max(filled, 0), width)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

// sortedTempKeys returns heater names in display order
func sortedTempKeys(temps map[string]printcore.Reading) []string {
	keys := make([]string, 0, len(temps))
	for k := range temps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
