// Package dashboard is the terminal UI over the store: recent runs, fleet
// trends, per-target ledger history and the run log. Operator actions are
// queued as commands for the daemon to pick up.
package dashboard

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pricetrail/models"
)

// Source is what the dashboard reads from and writes commands to.
type Source interface {
	RecentRuns(ctx context.Context, limit int) ([]models.ScrapeRun, error)
	RecentLogs(ctx context.Context, limit int, level *models.LogLevel) ([]models.ScrapeLog, error)
	ListTargets(ctx context.Context) ([]models.ScrapeTarget, error)
	History(ctx context.Context, targetID int64, limit int) ([]models.LedgerEntry, error)
	EnqueueCommand(ctx context.Context, cmd models.CommandType, params models.CommandParams) (int64, error)
}

// Trends computes the fleet summary shown on the overview and targets tabs.
type Trends interface {
	Fleet(ctx context.Context) (*models.FleetTrend, error)
}

type tab int

const (
	tabOverview tab = iota
	tabTargets
	tabLogs
)

var tabNames = []string{"Overview", "Targets", "Logs"}

type tickMsg time.Time
type logTickMsg time.Time
type notifyMsg string

type Model struct {
	ctx           context.Context
	src           Source
	activeTab     tab
	width, height int
	notification  string
	notifyUntil   time.Time
	now           func() time.Time

	overview Overview
	targets  Targets
	logs     Logs
}

func New(ctx context.Context, src Source, trends Trends, logPath string) Model {
	return Model{
		ctx:       ctx,
		src:       src,
		activeTab: tabOverview,
		now:       time.Now,
		overview:  NewOverview(ctx, src, trends, logPath),
		targets:   NewTargets(ctx, src, trends),
		logs:      NewLogs(ctx, src),
	}
}

// Run blocks until the user quits or ctx ends.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.overview.Init(),
		m.targets.Refresh(),
		m.logs.Refresh(),
		tickCmd(),
		logTickCmd(),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(30*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func logTickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return logTickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "d":
			m.activeTab = tabOverview
		case "t":
			m.activeTab = tabTargets
		case "l":
			m.activeTab = tabLogs
		case "tab":
			m.activeTab = (m.activeTab + 1) % tab(len(tabNames))
		case "r":
			m.notify("Refreshed")
			return m, m.refreshActive()
		case "s":
			return m, m.enqueue(models.CmdScrapeNow, models.CommandParams{}, "Scrape command sent!")
		case "f":
			return m, m.enqueue(models.CmdScrapeNow, models.CommandParams{Force: true}, "Forced scrape sent!")
		case "x":
			return m, m.enqueue(models.CmdPause, models.CommandParams{}, "Pause sent")
		case "u":
			return m, m.enqueue(models.CmdResume, models.CommandParams{}, "Resume sent")
		case "c":
			return m, m.enqueue(models.CmdReconcile, models.CommandParams{}, "Reconcile sent")
		case "enter":
			if m.activeTab == tabTargets {
				if id := m.targets.SelectedID(); id != 0 {
					return m, m.enqueue(models.CmdScrapeTarget, models.CommandParams{TargetID: id, Force: true}, "Target scrape sent!")
				}
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.overview = m.overview.SetSize(msg.Width, msg.Height-4)
		m.targets = m.targets.SetSize(msg.Width, msg.Height-4)
		m.logs = m.logs.SetSize(msg.Width, msg.Height-4)
		return m, nil

	case tickMsg:
		cmds = append(cmds, m.refreshActive(), tickCmd())

	case logTickMsg:
		cmds = append(cmds, m.overview.tailLog(), logTickCmd())

	case notifyMsg:
		m.notify(string(msg))
		return m, nil
	}

	// Keys go to the active tab only; data messages go everywhere.
	var cmd tea.Cmd
	switch msg.(type) {
	case tea.KeyMsg:
		switch m.activeTab {
		case tabOverview:
			m.overview, cmd = m.overview.Update(msg)
		case tabTargets:
			m.targets, cmd = m.targets.Update(msg)
		case tabLogs:
			m.logs, cmd = m.logs.Update(msg)
		}
		cmds = append(cmds, cmd)
	default:
		m.overview, cmd = m.overview.Update(msg)
		cmds = append(cmds, cmd)
		m.targets, cmd = m.targets.Update(msg)
		cmds = append(cmds, cmd)
		m.logs, cmd = m.logs.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) notify(text string) {
	m.notification = text
	m.notifyUntil = m.now().Add(2 * time.Second)
}

func (m Model) enqueue(cmd models.CommandType, params models.CommandParams, done string) tea.Cmd {
	return func() tea.Msg {
		if _, err := m.src.EnqueueCommand(m.ctx, cmd, params); err != nil {
			return notifyMsg("Command failed: " + err.Error())
		}
		return notifyMsg(done)
	}
}

func (m Model) refreshActive() tea.Cmd {
	switch m.activeTab {
	case tabOverview:
		return m.overview.Refresh()
	case tabTargets:
		return m.targets.Refresh()
	case tabLogs:
		return m.logs.Refresh()
	}
	return nil
}

func (m Model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left, m.renderTabs(), m.renderContent(), m.renderStatusBar())
}

func (m Model) renderTabs() string {
	var rendered []string
	for i, name := range tabNames {
		if tab(i) == m.activeTab {
			rendered = append(rendered, tabActive.Render(name))
		} else {
			rendered = append(rendered, tabInactive.Render(name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...) + "\n"
}

func (m Model) renderContent() string {
	switch m.activeTab {
	case tabTargets:
		return m.targets.View()
	case tabLogs:
		return m.logs.View()
	default:
		return m.overview.View()
	}
}

func (m Model) renderStatusBar() string {
	left := "d Dash  t Targets  l Log  r Refresh  s Scrape  f Force  x Pause  u Resume  c Reconcile  q Quit"
	right := ""
	if m.now().Before(m.notifyUntil) {
		right = notification.Render(m.notification)
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 0 {
		gap = 0
	}

	return statusBar.Render(left) + lipgloss.NewStyle().Width(gap).Render("") + right
}
