package dashboard

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pricetrail/models"
)

// A log untouched for this long is shown as stale.
const liveLogWindow = 2 * time.Minute

type overviewDataMsg struct {
	runs  []models.ScrapeRun
	fleet *models.FleetTrend
	err   error
}

type logTailMsg struct {
	lines   []string
	modTime time.Time
}

type Overview struct {
	ctx           context.Context
	src           Source
	trends        Trends
	width, height int
	runs          []models.ScrapeRun
	fleet         *models.FleetTrend
	err           error
	now           func() time.Time

	logPath     string
	logLines    []string
	logScroll   int // 0 is the newest line
	logViewport int
	logBuffer   int
	logModTime  time.Time
}

func NewOverview(ctx context.Context, src Source, trends Trends, logPath string) Overview {
	if logPath == "" {
		logPath = "daemon.log"
	}
	return Overview{
		ctx:         ctx,
		src:         src,
		trends:      trends,
		now:         time.Now,
		logPath:     logPath,
		logViewport: 20,
		logBuffer:   200,
	}
}

func (o Overview) Init() tea.Cmd {
	return tea.Batch(o.Refresh(), o.tailLog())
}

func (o Overview) Refresh() tea.Cmd {
	return func() tea.Msg {
		runs, err := o.src.RecentRuns(o.ctx, 10)
		if err != nil {
			return overviewDataMsg{err: err}
		}
		fleet, err := o.trends.Fleet(o.ctx)
		return overviewDataMsg{runs: runs, fleet: fleet, err: err}
	}
}

func (o Overview) tailLog() tea.Cmd {
	return func() tea.Msg {
		lines, modTime := readLastLines(o.logPath, o.logBuffer)
		return logTailMsg{lines, modTime}
	}
}

func readLastLines(path string, n int) ([]string, time.Time) {
	info, err := os.Stat(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}
	modTime := info.ModTime()

	f, err := os.Open(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}
	defer f.Close()

	var all []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		all = append(all, scanner.Text())
		if len(all) > 2*n {
			all = append(all[:0], all[len(all)-n:]...)
		}
	}

	if len(all) == 0 {
		return []string{"(empty log)"}, modTime
	}
	start := len(all) - n
	if start < 0 {
		start = 0
	}
	return all[start:], modTime
}

func (o Overview) SetSize(w, h int) Overview {
	o.width = w
	o.height = h
	return o
}

func (o Overview) Update(msg tea.Msg) (Overview, tea.Cmd) {
	switch msg := msg.(type) {
	case overviewDataMsg:
		o.err = msg.err
		if msg.err == nil {
			o.runs = msg.runs
			o.fleet = msg.fleet
		}
	case logTailMsg:
		o.logLines = msg.lines
		o.logModTime = msg.modTime
	case tea.KeyMsg:
		maxScroll := len(o.logLines) - o.logViewport
		if maxScroll < 0 {
			maxScroll = 0
		}
		switch msg.String() {
		case "up", "k":
			o.logScroll = min(o.logScroll+1, maxScroll)
		case "down", "j":
			o.logScroll = max(o.logScroll-1, 0)
		case "pgup":
			o.logScroll = min(o.logScroll+10, maxScroll)
		case "pgdown":
			o.logScroll = max(o.logScroll-10, 0)
		case "home":
			o.logScroll = maxScroll
		case "end":
			o.logScroll = 0
		}
	}
	return o, nil
}

func (o Overview) View() string {
	parts := []string{title.Render("Overview"), o.renderStatCards(), ""}
	if o.err != nil {
		parts = append(parts, statusError.Render("Error: "+o.err.Error()), "")
	}
	parts = append(parts,
		title.Render("Recent Runs"),
		o.renderRunsTable(),
		"",
		o.renderLogTail(),
	)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (o Overview) renderStatCards() string {
	var up, down, stable, fresh, total int
	if o.fleet != nil {
		up, down, stable, fresh = o.fleet.Up, o.fleet.Down, o.fleet.Stable, o.fleet.New
		total = len(o.fleet.Results)
	}
	lastRun := "never"
	if len(o.runs) > 0 {
		lastRun = relativeTime(o.runs[0].StartedAt, o.now())
	}
	cards := []string{
		renderStatCard("Targets", fmt.Sprintf("%d", total)),
		renderStatCard("Up", fmt.Sprintf("%d", up)),
		renderStatCard("Down", fmt.Sprintf("%d", down)),
		renderStatCard("Stable", fmt.Sprintf("%d", stable)),
		renderStatCard("New", fmt.Sprintf("%d", fresh)),
		renderStatCard("Last run", lastRun),
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func renderStatCard(label, value string) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		statValue.Render(value),
		statLabel.Render(label),
	)
	return cardBorder.Width(14).Render(content)
}

func runStatusStyle(s models.RunStatus) lipgloss.Style {
	switch s {
	case models.RunStatusCompleted:
		return statusSuccess
	case models.RunStatusAborted, models.RunStatusFailed:
		return statusError
	default:
		return statusPending
	}
}

func (o Overview) renderRunsTable() string {
	if len(o.runs) == 0 {
		return muted.Render("No runs yet")
	}

	header := fmt.Sprintf("%-10s %-10s %-9s %9s %9s %7s %8s",
		"Run", "Status", "Started", "Attempted", "Succeeded", "Failed", "Skipped")
	rows := tableHeader.Render(header) + "\n"

	for _, r := range o.runs {
		row := fmt.Sprintf("%-10s %s %-9s %9d %9d %7d %8d",
			truncate(r.ID, 10),
			runStatusStyle(r.Status).Render(fmt.Sprintf("%-10s", r.Status)),
			r.StartedAt.Local().Format("15:04:05"),
			r.Attempted,
			r.Succeeded,
			r.Failed,
			r.Skipped,
		)
		if r.ErrorMessage != "" {
			row += "  " + statusError.Render(truncate(r.ErrorMessage, 40))
		}
		rows += row + "\n"
	}
	return rows
}

func (o Overview) renderLogTail() string {
	if len(o.logLines) == 0 {
		return logBox.Width(max(o.width-4, 20)).Render(muted.Render("(waiting for logs...)"))
	}

	total := len(o.logLines)
	endIdx := total - o.logScroll
	startIdx := max(endIdx-o.logViewport, 0)
	if endIdx > total {
		endIdx = total
	}

	maxLineWidth := o.width - 8
	var lines []string
	for _, line := range o.logLines[startIdx:endIdx] {
		lines = append(lines, styleLogLine(line, maxLineWidth))
	}

	var state string
	switch {
	case o.logModTime.IsZero() || o.now().Sub(o.logModTime) > liveLogWindow:
		state = statusError.Render(" ● STALE ")
	case o.logScroll > 0:
		state = statusPending.Render(fmt.Sprintf(" ↑%d ", o.logScroll))
	default:
		state = statusSuccess.Render(" ● LIVE ")
	}

	header := title.Render("Daemon Log") + state +
		muted.Render(fmt.Sprintf("[%d-%d/%d]", startIdx+1, endIdx, total))
	return logBox.Width(max(o.width-4, 20)).Render(header + "\n" + strings.Join(lines, "\n"))
}

func styleLogLine(line string, maxWidth int) string {
	if maxWidth > 0 {
		line = truncate(line, maxWidth)
	}
	switch {
	case strings.Contains(line, "ERROR"):
		return statusError.Render(line)
	case strings.Contains(line, "WARN"):
		return statusPending.Render(line)
	case strings.Contains(line, "DEBUG"):
		return muted.Render(line)
	}
	return line
}

func relativeTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}
