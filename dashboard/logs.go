package dashboard

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pricetrail/models"
)

var logLevels = []models.LogLevel{"", models.LogLevelInfo, models.LogLevelWarn, models.LogLevelError}

type logsMsg struct {
	logs []models.ScrapeLog
	err  error
}

type Logs struct {
	ctx           context.Context
	src           Source
	width, height int
	logs          []models.ScrapeLog
	levelIndex    int
	scrollOffset  int
	err           error
}

func NewLogs(ctx context.Context, src Source) Logs {
	return Logs{ctx: ctx, src: src}
}

func (l Logs) level() *models.LogLevel {
	lvl := logLevels[l.levelIndex]
	if lvl == "" {
		return nil
	}
	return &lvl
}

func (l Logs) Refresh() tea.Cmd {
	level := l.level()
	return func() tea.Msg {
		logs, err := l.src.RecentLogs(l.ctx, 200, level)
		return logsMsg{logs, err}
	}
}

func (l Logs) SetSize(w, h int) Logs {
	l.width = w
	l.height = h
	return l
}

func (l Logs) Update(msg tea.Msg) (Logs, tea.Cmd) {
	switch msg := msg.(type) {
	case logsMsg:
		l.err = msg.err
		if msg.err == nil {
			l.logs = msg.logs
			l.scrollOffset = 0
		}

	case tea.KeyMsg:
		maxScroll := max(len(l.logs)-l.visibleLines(), 0)
		switch msg.String() {
		case "left":
			if l.levelIndex > 0 {
				l.levelIndex--
				return l, l.Refresh()
			}
		case "right":
			if l.levelIndex < len(logLevels)-1 {
				l.levelIndex++
				return l, l.Refresh()
			}
		case "up", "k":
			l.scrollOffset = max(l.scrollOffset-1, 0)
		case "down", "j":
			l.scrollOffset = min(l.scrollOffset+1, maxScroll)
		case "g":
			l.scrollOffset = 0
		case "G":
			l.scrollOffset = maxScroll
		}
	}
	return l, nil
}

func (l Logs) visibleLines() int {
	if l.height <= 6 {
		return 10
	}
	return l.height - 6
}

func (l Logs) View() string {
	parts := []string{title.Render("Run Log"), l.renderFilter(), ""}
	if l.err != nil {
		parts = append(parts, statusError.Render("Error: "+l.err.Error()))
	}
	parts = append(parts, l.renderLogs())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (l Logs) renderFilter() string {
	var parts []string
	for i, level := range logLevels {
		name := strings.ToUpper(string(level))
		if level == "" {
			name = "ALL"
		}
		if i == l.levelIndex {
			parts = append(parts, tabActive.Render("["+name+"]"))
		} else {
			parts = append(parts, tabInactive.Render(name))
		}
	}
	return "Filter: " + strings.Join(parts, " ") + "  (←/→ to change)"
}

func (l Logs) renderLogs() string {
	if len(l.logs) == 0 {
		return muted.Render("No logs")
	}

	start := l.scrollOffset
	end := min(start+l.visibleLines(), len(l.logs))

	lines := make([]string, 0, end-start)
	for _, entry := range l.logs[start:end] {
		lines = append(lines, l.formatLog(entry))
	}

	header := muted.Render(fmt.Sprintf("  [%d-%d of %d]", start+1, end, len(l.logs)))
	return header + "\n" + strings.Join(lines, "\n")
}

func (l Logs) formatLog(entry models.ScrapeLog) string {
	ts := entry.Timestamp.Local().Format("01-02 15:04:05")
	level := fmt.Sprintf("%-5s", strings.ToUpper(string(entry.Level)))

	var levelStyle lipgloss.Style
	switch entry.Level {
	case models.LogLevelInfo:
		levelStyle = statusSuccess
	case models.LogLevelWarn:
		levelStyle = statusPending
	case models.LogLevelError:
		levelStyle = statusError
	default:
		levelStyle = lipgloss.NewStyle()
	}

	target := ""
	if entry.TargetID != nil {
		target = fmt.Sprintf("[#%d] ", *entry.TargetID)
	}

	msg := entry.Message
	if maxLen := l.width - 30; maxLen > 0 {
		msg = truncate(msg, maxLen)
	}

	return fmt.Sprintf("%s %s %s%s",
		muted.Render(ts),
		levelStyle.Render(level),
		muted.Render(target),
		msg,
	)
}
