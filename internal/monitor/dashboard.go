// Package monitor is a terminal dashboard for a running loop. It polls the
// status server and renders progress, the current item, recent iterations
// and token use.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	loophttp "github.com/fyrsmithlabs/loopd/internal/http"
	"github.com/fyrsmithlabs/loopd/internal/orchestrator"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	recentSize      = 5
	fetchTimeout    = 5 * time.Second
)

// Model is the bubbletea dashboard model.
type Model struct {
	client     *StatusClient
	interval   time.Duration
	lastUpdate time.Time
	status     loophttp.StatusResponse
	haveStatus bool
	err        error
	quitting   bool

	progress progress.Model

	// tokenHistory holds tokens per finished iteration, oldest first.
	tokenHistory  []float64
	recent        []orchestrator.IterationReport
	lastIteration int
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling client every interval.
func NewModel(client *StatusClient, interval time.Duration) Model {
	return Model{
		client:   client,
		interval: interval,
		progress: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(40),
		),
		tokenHistory: make([]float64, 0, historySize),
	}
}

// statusBadge returns the run state badge.
func statusBadge(s loophttp.StatusResponse) string {
	switch {
	case s.Status == loophttp.StatusFinished && (s.Reason == orchestrator.DonePersistence || s.Reason == orchestrator.DoneError):
		return errorStyle.Render("✗ HALTED")
	case s.Status == loophttp.StatusFinished:
		return healthyStyle.Render("✓ FINISHED")
	case s.Status == loophttp.StatusStarting:
		return warningStyle.Render("… STARTING")
	default:
		return healthyStyle.Render("● RUNNING")
	}
}

// reportBadge returns the badge for one iteration.
func reportBadge(r orchestrator.IterationReport) string {
	switch {
	case r.Success:
		return healthyStyle.Render("[✓]")
	case r.Abandoned:
		return errorStyle.Render("[✗]")
	default:
		return warningStyle.Render("[⚠]")
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type statusMsg loophttp.StatusResponse
type errMsg error

// Init starts polling.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchStatus(m.client),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchStatus fetches the loop status from the status server.
func fetchStatus(client *StatusClient) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		status, err := client.Status(ctx)
		if err != nil {
			return errMsg(err)
		}
		return statusMsg(status)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchStatus(m.client)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchStatus(m.client),
		)

	case statusMsg:
		status := loophttp.StatusResponse(msg)
		if status.RunID != m.status.RunID {
			// A new run restarts the history.
			m.tokenHistory = make([]float64, 0, historySize)
			m.recent = nil
			m.lastIteration = 0
		}
		if r := status.LastReport; r != nil && r.Iteration != m.lastIteration {
			m.tokenHistory = appendToHistory(m.tokenHistory, float64(r.Cost.Tokens))
			m.recent = append(m.recent, *r)
			if len(m.recent) > recentSize {
				m.recent = m.recent[1:]
			}
			m.lastIteration = r.Iteration
		}
		m.status = status
		m.haveStatus = true
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	if !m.haveStatus {
		return containerStyle.Render(headerStyle.Render(" loopd ") + "\n\n" + dimStyle.Render("connecting to "+m.client.BaseURL()+"..."))
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(" loopd ") + "\n\n")
	b.WriteString(errorStyle.Render("⚠ Cannot reach the status server") + "\n\n")
	b.WriteString(dimStyle.Render("URL: ") + valueStyle.Render(m.client.BaseURL()) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Start the loop with server.enabled: true in loopd.yaml.") + "\n")
	b.WriteString(footerStyle.Render("[q] quit  [r] retry") + "\n")
	return containerStyle.Render(b.String())
}

func (m Model) renderDashboard() string {
	s := m.status
	var b strings.Builder

	lastUpdate := "never"
	if !m.lastUpdate.IsZero() {
		lastUpdate = m.lastUpdate.Format("15:04:05")
	}
	elapsed := ""
	if !s.StartedAt.IsZero() {
		elapsed = FormatDuration(s.UpdatedAt.Sub(s.StartedAt))
	}

	b.WriteString(headerStyle.Render(" loopd "+s.RunID+" ") + "\n")
	fmt.Fprintf(&b, "%s   %s %s   %s\n",
		statusBadge(s),
		dimStyle.Render("Elapsed:"),
		valueStyle.Render(elapsed),
		dimStyle.Render(lastUpdate))

	b.WriteString("\n" + sectionStyle.Render("┃ Progress") + "\n")
	ratio := 0.0
	if s.Counts.Total > 0 {
		ratio = float64(s.Counts.Complete) / float64(s.Counts.Total)
	}
	b.WriteString(labelStyle.Render("  Complete: ") +
		m.progress.ViewAs(ratio) + " " +
		dimStyle.Render(fmt.Sprintf("%d/%d %s", s.Counts.Complete, s.Counts.Total, FormatPercentage(ratio))) + "\n")
	b.WriteString(labelStyle.Render("  Pending: ") + valueStyle.Render(fmt.Sprint(s.Counts.Pending)) +
		labelStyle.Render("  Blocked: ") + valueStyle.Render(fmt.Sprint(s.Counts.Blocked)) +
		labelStyle.Render("  In progress: ") + valueStyle.Render(fmt.Sprint(s.Counts.InProgress)) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Iteration") + "\n")
	current := dimStyle.Render("none")
	if s.CurrentItem != "" {
		current = valueStyle.Render(s.CurrentItem)
	}
	b.WriteString(labelStyle.Render("  Number: ") + valueStyle.Render(fmt.Sprint(s.Iteration)) +
		labelStyle.Render("  Phase: ") + valueStyle.Render(string(s.Phase)) +
		labelStyle.Render("  Item: ") + current + "\n")
	if s.Reason != "" {
		b.WriteString(labelStyle.Render("  Done: ") + valueStyle.Render(string(s.Reason)) + "\n")
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Tokens per iteration") + "\n")
	total := 0
	for _, r := range m.recent {
		total += r.Cost.Tokens
	}
	b.WriteString("  " + createSparkline(m.tokenHistory) + "\n")
	if s.LastReport != nil {
		b.WriteString(labelStyle.Render("  Last: ") + valueStyle.Render(FormatTokens(s.LastReport.Cost.Tokens)) +
			labelStyle.Render("  Recent: ") + valueStyle.Render(FormatTokens(total)) + "\n")
	}

	if len(m.recent) > 0 {
		b.WriteString("\n" + sectionStyle.Render("┃ Recent iterations") + "\n")
		for i := len(m.recent) - 1; i >= 0; i-- {
			r := m.recent[i]
			line := fmt.Sprintf("  %s %s %s", reportBadge(r), dimStyle.Render(fmt.Sprintf("#%d", r.Iteration)), r.ItemID)
			if r.Recovered {
				line += dimStyle.Render(" (reframed)")
			}
			if !r.Success && r.FailureReason != "" {
				line += dimStyle.Render(": " + r.FailureReason)
			}
			b.WriteString(line + "\n")
		}
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}
