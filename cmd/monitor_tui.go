// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
// Copyright (c) 2025 The moist Authors

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fchabrun/moist/pkg/acquisition"
	"github.com/fchabrun/moist/pkg/link"
	"github.com/fchabrun/moist/pkg/moist_protocol"
	"github.com/fchabrun/moist/pkg/settings"
	"github.com/rs/zerolog"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// Settings writer used by the delay editor
type settingsSaver interface {
	Save(settings.Settings) error
}

// TUI model
type monitorModel struct {
	connInfo      string
	saver         settingsSaver
	stats         *acquisition.Statistics
	maxSensors    int
	current       settings.Settings
	hasSettings   bool
	lastReading   *moist_protocol.Reading
	eventLog      []logEntry
	maxLogEntries int
	delayInput    textinput.Model
	editing       bool
	linkLost      bool
	width         int
	height        int
	quitting      bool
}

// Messages
type monitorTickMsg time.Time
type loopEventMsg acquisition.Event
type loopDoneMsg struct {
	err error
}

func newMonitorModel(connInfo string, saver settingsSaver, stats *acquisition.Statistics, maxSensors int) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "10"
	ti.CharLimit = 8
	ti.Width = 10

	return monitorModel{
		connInfo:      connInfo,
		saver:         saver,
		stats:         stats,
		maxSensors:    maxSensors,
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 100,
		delayInput:    ti,
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.editing {
			return m.handleEditKey(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.editing = true
			m.delayInput.SetValue("")
			if m.hasSettings {
				m.delayInput.Placeholder = strconv.FormatFloat(m.current.LoopDelaySeconds, 'g', -1, 64)
			}
			cmd := m.delayInput.Focus()
			return m, cmd
		case "r":
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case monitorTickMsg:
		// Redraw so rates stay current
		return m, monitorTickCmd()

	case loopEventMsg:
		m.handleEvent(acquisition.Event(msg))

	case loopDoneMsg:
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.linkLost = true
			m.addLogEntry(fmt.Sprintf("Acquisition stopped: %v", msg.err), true)
		}
	}

	return m, nil
}

func (m monitorModel) handleEditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.editing = false
		m.delayInput.Blur()
		return m, nil

	case "enter":
		m.editing = false
		m.delayInput.Blur()

		value := strings.TrimSpace(m.delayInput.Value())
		if value == "" {
			value = m.delayInput.Placeholder
		}
		delay, err := strconv.ParseFloat(value, 64)
		if err != nil {
			m.addLogEntry(fmt.Sprintf("Invalid poll interval %q", value), true)
			return m, nil
		}
		if err := m.saver.Save(settings.Settings{LoopDelaySeconds: delay}); err != nil {
			m.addLogEntry(fmt.Sprintf("Unable to save settings: %v", err), true)
			return m, nil
		}
		m.addLogEntry(fmt.Sprintf("Poll interval set to %gs (applies from the next request)", delay), false)
		return m, nil
	}

	var cmd tea.Cmd
	m.delayInput, cmd = m.delayInput.Update(msg)
	return m, cmd
}

func (m *monitorModel) handleEvent(ev acquisition.Event) {
	switch ev.Type {
	case acquisition.EventSettingsLoaded:
		if !m.hasSettings || m.current != ev.Settings {
			m.addLogEntry(fmt.Sprintf("Poll interval %gs", ev.Settings.LoopDelaySeconds), false)
		}
		m.current = ev.Settings
		m.hasSettings = true

	case acquisition.EventSettingsFallback:
		m.addLogEntry(fmt.Sprintf("Settings unavailable, keeping %gs: %v", ev.Settings.LoopDelaySeconds, ev.Err), true)

	case acquisition.EventReadingStored:
		m.lastReading = ev.Reading
		for _, verr := range moist_protocol.ValidateReading(ev.Reading.Pairs(), m.maxSensors) {
			m.addLogEntry("Not storable: "+verr.Message, true)
		}

	case acquisition.EventDecodeError:
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v (%q)", ev.Err, ev.Line), true)

	case acquisition.EventReplyMissed:
		m.addLogEntry(fmt.Sprintf("MISSED REPLY: %v", ev.Err), true)
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m monitorModel) View() string {
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

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("MOIST - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | 'd' poll interval | 'r' reset stats | 'q' quit", m.connInfo)))
	s.WriteString("\n\n")

	if m.linkLost {
		s.WriteString(errorStyle.Render("✗ Link lost"))
		s.WriteString("\n\n")
	}

	// Statistics
	c := m.stats.Snapshot()
	var replyPercent float64
	if c.Requests > 0 {
		replyPercent = float64(c.Replies) * 100.0 / float64(c.Requests)
	}
	errorCount := c.MissedReplies + c.DecodeErrors

	delay := "-"
	if m.hasSettings {
		delay = fmt.Sprintf("%gs", m.current.LoopDelaySeconds)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Requests:"), valueStyle.Render(fmt.Sprintf("%d", c.Requests)),
		labelStyle.Render("Replies:"), valueStyle.Render(fmt.Sprintf("%d (%.1f%%)", c.Replies, replyPercent)),
		labelStyle.Render("Poll:"), valueStyle.Render(delay),
	))
	if errorCount > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			labelStyle.Render("Missed:"), errorStyle.Render(fmt.Sprintf("%d", c.MissedReplies)),
			labelStyle.Render("Decode Errors:"), errorStyle.Render(fmt.Sprintf("%d", c.DecodeErrors)),
		))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("Reply Rate:"), valueStyle.Render(fmt.Sprintf("%.1f/min", c.ReplyRate)),
		labelStyle.Render("Error Rate:"), func() string {
			if c.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f/min", c.ErrorRate))
			}
			return valueStyle.Render(fmt.Sprintf("%.1f/min", c.ErrorRate))
		}(),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Latest reading (only shown once a reply arrived)
	if m.lastReading != nil {
		s.WriteString(labelStyle.Render(fmt.Sprintf("Latest Reading (%s):", m.lastReading.Timestamp().Format("15:04:05"))))
		s.WriteString("\n")

		readingContent := strings.Builder{}
		for i, p := range m.lastReading.Pairs() {
			if i > 0 {
				readingContent.WriteString("\n")
			}
			name := labelStyle.Render(moist_protocol.ColumnName(p.Index) + ":")
			if v, err := moist_protocol.ParseValue(p.Value); err == nil && p.Index < m.maxSensors {
				readingContent.WriteString(fmt.Sprintf("%s %s", name, valueStyle.Render(fmt.Sprintf("%g", v))))
			} else {
				readingContent.WriteString(fmt.Sprintf("%s %s", name, warningStyle.Render(fmt.Sprintf("%q", p.Value))))
			}
		}

		s.WriteString(boxStyle.Render(readingContent.String()))
		s.WriteString("\n\n")
	}

	if m.editing {
		s.WriteString(labelStyle.Render("Poll interval (seconds): "))
		s.WriteString(m.delayInput.View())
		s.WriteString(headerStyle.Render("  enter to save, esc to cancel"))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 18
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}

// runMonitorTUI polls at the interval from settings.json and shows replies in a terminal UI
func runMonitorTUI(ctx context.Context, lnk *link.Link, connInfo string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store := settings.NewStore(rundir, zerolog.Nop())

	var p *tea.Program
	loop := acquisition.New(
		lnk,
		store,
		acquisition.SinkFunc(func(context.Context, *moist_protocol.Reading) error { return nil }),
		zerolog.Nop(), // log lines would tear the alternate screen
		acquisition.WithObserver(func(ev acquisition.Event) {
			p.Send(loopEventMsg(ev))
		}),
	)

	m := newMonitorModel(connInfo, store, loop.Statistics(), maxSensors)
	p = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	go func() {
		err := loop.Run(ctx)
		p.Send(loopDoneMsg{err: err})
	}()

	_, err := p.Run()
	cancel()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
