package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Status is a workload item's lifecycle state.
type Status uint8

const (
	// StatusQueued means the workload has not started yet.
	StatusQueued Status = iota
	// StatusRunning means the workload is executing iterations.
	StatusRunning
	// StatusDone means the workload finished cleanly.
	StatusDone
	// StatusError means the workload stopped on a failure.
	StatusError
)

// Event reports workload progress to the UI. An event with an empty Worker
// updates the shared heap summary line instead of a per-worker row.
type Event struct {
	Worker    string
	Status    Status
	Completed int
	Total     int
	Note      string
}

type progressModel struct {
	title     string
	events    <-chan Event
	spinner   spinner.Model
	prog      progress.Model
	items     []workerItem
	index     map[string]int
	heapLabel string
	width     int
	done      bool
}

type workerItem struct {
	name      string
	status    string
	completed int
	total     int
}

type eventMsg Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model that renders stress workload
// progress with a live heap summary.
func NewProgressModel(title string, workers []string, events <-chan Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	items := make([]workerItem, 0, len(workers))
	index := make(map[string]int, len(workers))
	for i, w := range workers {
		items = append(items, workerItem{name: w, status: "queued"})
		index[w] = i
	}
	return &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		items:   items,
		index:   index,
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case progress.FrameMsg:
		progressModel, cmd := m.prog.Update(msg)
		m.prog = progressModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	if len(m.items) == 0 {
		return ""
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := m.title
	if m.done {
		header = fmt.Sprintf("done: %s", header)
	} else {
		header = fmt.Sprintf("%s %s", m.spinner.View(), header)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	statusWidth := 12
	nameWidth := m.width - statusWidth - 16
	if nameWidth < 20 {
		nameWidth = 20
	}

	for _, item := range m.items {
		name := truncate(item.name, nameWidth)
		statusStyled := styleStatus(item.status).Render(fmt.Sprintf("%12s", item.status))
		line := fmt.Sprintf("  %s %s  %d/%d", statusStyled, name, item.completed, item.total)
		b.WriteString(line)
		b.WriteString("\n")
	}

	if m.heapLabel != "" {
		b.WriteString("\n")
		heapStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
		b.WriteString(heapStyle.Render("  heap: " + m.heapLabel))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")

	return b.String()
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) applyEvent(ev Event) tea.Cmd {
	if ev.Worker == "" {
		if ev.Note != "" {
			m.heapLabel = ev.Note
		}
		return nil
	}
	idx, ok := m.index[ev.Worker]
	if !ok {
		return nil
	}
	item := &m.items[idx]
	item.status = statusLabel(ev.Status)
	item.completed = ev.Completed
	if ev.Total > 0 {
		item.total = ev.Total
	}

	total := 0.0
	for _, it := range m.items {
		switch {
		case it.status == "done" || it.status == "error":
			total += 1.0
		case it.total > 0:
			total += float64(it.completed) / float64(it.total)
		}
	}
	return m.prog.SetPercent(total / float64(len(m.items)))
}

func statusLabel(status Status) string {
	switch status {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusDone:
		return "done"
	case StatusError:
		return "error"
	default:
		return ""
	}
}

func styleStatus(status string) lipgloss.Style {
	switch status {
	case "done":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case "error":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case "running":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
