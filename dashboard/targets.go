package dashboard

import (
	"context"
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"pricetrail/models"
)

const historyLimit = 12

type targetsMsg struct {
	targets []models.ScrapeTarget
	trends  map[int64]models.TrendResult
	err     error
}

type historyMsg struct {
	targetID int64
	entries  []models.LedgerEntry
}

type Targets struct {
	ctx           context.Context
	src           Source
	trendSrc      Trends
	width, height int
	targets       []models.ScrapeTarget
	trends        map[int64]models.TrendResult
	history       []models.LedgerEntry
	historyFor    int64
	selected      int
	activeOnly    bool
	err           error
}

func NewTargets(ctx context.Context, src Source, trends Trends) Targets {
	return Targets{ctx: ctx, src: src, trendSrc: trends, activeOnly: true}
}

func (t Targets) Refresh() tea.Cmd {
	activeOnly := t.activeOnly
	return func() tea.Msg {
		all, err := t.src.ListTargets(t.ctx)
		if err != nil {
			return targetsMsg{err: err}
		}
		var targets []models.ScrapeTarget
		for _, tgt := range all {
			if activeOnly && !tgt.Active {
				continue
			}
			targets = append(targets, tgt)
		}

		trends := make(map[int64]models.TrendResult)
		fleet, err := t.trendSrc.Fleet(t.ctx)
		if err == nil {
			for _, r := range fleet.Results {
				trends[r.TargetID] = r
			}
		}
		return targetsMsg{targets: targets, trends: trends, err: err}
	}
}

func (t Targets) SetSize(w, h int) Targets {
	t.width = w
	t.height = h
	return t
}

// SelectedID is the id of the highlighted target, or 0.
func (t Targets) SelectedID() int64 {
	if t.selected < 0 || t.selected >= len(t.targets) {
		return 0
	}
	return t.targets[t.selected].ID
}

func (t Targets) loadHistory() tea.Cmd {
	id := t.SelectedID()
	if id == 0 {
		return nil
	}
	return func() tea.Msg {
		entries, _ := t.src.History(t.ctx, id, historyLimit)
		return historyMsg{targetID: id, entries: entries}
	}
}

func (t Targets) Update(msg tea.Msg) (Targets, tea.Cmd) {
	switch msg := msg.(type) {
	case targetsMsg:
		t.err = msg.err
		if msg.targets != nil || msg.err == nil {
			t.targets = msg.targets
			t.trends = msg.trends
		}
		if t.selected >= len(t.targets) {
			t.selected = 0
		}
		return t, t.loadHistory()

	case historyMsg:
		if msg.targetID == t.SelectedID() {
			t.history = msg.entries
			t.historyFor = msg.targetID
		}

	case tea.KeyMsg:
		if len(t.targets) == 0 && msg.String() != "a" {
			return t, nil
		}
		prev := t.selected
		switch msg.String() {
		case "up", "k":
			t.selected = max(t.selected-1, 0)
		case "down", "j":
			t.selected = min(t.selected+1, len(t.targets)-1)
		case "pgup", "ctrl+u":
			t.selected = max(t.selected-10, 0)
		case "pgdown", "ctrl+d":
			t.selected = min(t.selected+10, len(t.targets)-1)
		case "home", "g":
			t.selected = 0
		case "end", "G":
			t.selected = len(t.targets) - 1
		case "a":
			t.activeOnly = !t.activeOnly
			t.selected = 0
			return t, t.Refresh()
		}
		if t.selected != prev {
			return t, t.loadHistory()
		}
	}
	return t, nil
}

func (t Targets) visibleRows() int {
	rows := 20
	if t.height > 0 {
		rows = max((t.height*55)/100, 5)
	}
	return rows
}

func (t Targets) View() string {
	filter := "Active only"
	if !t.activeOnly {
		filter = "All"
	}
	header := title.Render("Targets") +
		statValue.Render(fmt.Sprintf("  %d", len(t.targets))) +
		"  " + muted.Render(fmt.Sprintf("[a] Filter: %s  [enter] Scrape now", filter))

	parts := []string{header}
	if t.err != nil {
		parts = append(parts, statusError.Render("Error: "+t.err.Error()))
	}
	parts = append(parts, t.renderTable(), "", t.renderBottomPanel())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func trendStyle(c models.Classification) lipgloss.Style {
	switch c {
	case models.TrendUp:
		return statusError
	case models.TrendDown:
		return statusSuccess
	case models.TrendStable:
		return muted
	default:
		return statusPending
	}
}

func (t Targets) renderTable() string {
	if len(t.targets) == 0 {
		return muted.Render("No targets")
	}

	header := fmt.Sprintf("%-4s %-30s %-12s %14s %-7s %8s",
		"ID", "Name", "Site", "Last value", "Trend", "Change")
	rows := tableHeader.Render(header) + "\n"

	visible := t.visibleRows()
	offset := 0
	if t.selected >= visible {
		offset = t.selected - visible + 1
	}
	end := min(offset+visible, len(t.targets))

	for i := offset; i < end; i++ {
		tgt := t.targets[i]
		value := "—"
		if tgt.LastValue != nil {
			value = formatValue(*tgt.LastValue)
		}
		class, change := "", ""
		if r, ok := t.trends[tgt.ID]; ok {
			class = string(r.Classification)
			if r.HasPrevious {
				change = fmt.Sprintf("%+.2f%%", r.PercentChange)
			}
		}

		row := fmt.Sprintf("%-4d %-30s %-12s %14s %s %8s",
			tgt.ID,
			truncate(tgt.Name, 30),
			truncate(tgt.SiteID, 12),
			value,
			trendStyle(models.Classification(class)).Render(fmt.Sprintf("%-7s", class)),
			change,
		)
		if i == t.selected {
			rows += tableSelected.Render(row) + "\n"
		} else {
			rows += row + "\n"
		}
	}

	if len(t.targets) > visible {
		rows += muted.Render(fmt.Sprintf("  [%d-%d of %d]", offset+1, end, len(t.targets)))
	}
	return rows
}

func (t Targets) renderBottomPanel() string {
	half := max(t.width/2-2, 30)
	historyBox := cardBorder.Width(half).Render(title.Render("Ledger") + "\n" + t.renderHistory())
	trendBox := detailBorder.Width(half).Render(title.Render("Trend") + "\n" + t.renderTrend())
	return lipgloss.JoinHorizontal(lipgloss.Top, historyBox, trendBox)
}

func (t Targets) renderHistory() string {
	if len(t.history) == 0 || t.historyFor != t.SelectedID() {
		return muted.Render("No entries")
	}

	rows := tableHeader.Render(fmt.Sprintf("%-16s %-11s %s", "When", "Status", "Value")) + "\n"
	var lines []string
	for _, e := range t.history {
		var detail string
		style := statusPending
		switch e.Status {
		case models.StatusSuccess:
			style = statusSuccess
			if e.Value != nil {
				detail = formatValue(*e.Value)
			}
		case models.StatusError:
			style = statusError
			if e.ErrorMessage != nil {
				detail = truncate(*e.ErrorMessage, 40)
			}
		}
		lines = append(lines, fmt.Sprintf("%-16s %s %s",
			e.CreatedAt.Local().Format("01-02 15:04:05"),
			style.Render(fmt.Sprintf("%-11s", e.Status)),
			detail,
		))
	}
	return rows + strings.Join(lines, "\n")
}

func (t Targets) renderTrend() string {
	r, ok := t.trends[t.SelectedID()]
	if !ok {
		return muted.Render("Select a target")
	}
	lines := []string{
		statLabel.Render("Classification: ") + trendStyle(r.Classification).Render(string(r.Classification)),
		statLabel.Render("Current: ") + formatValue(r.Current),
	}
	if r.CurrentAt != nil {
		lines = append(lines, statLabel.Render("At: ")+r.CurrentAt.Local().Format("2006-01-02 15:04"))
	}
	if r.HasPrevious && r.Previous != nil {
		lines = append(lines,
			statLabel.Render("Previous: ")+formatValue(*r.Previous),
			statLabel.Render("Delta: ")+fmt.Sprintf("%+.2f", r.Delta),
			statLabel.Render("Change: ")+fmt.Sprintf("%+.2f%%", r.PercentChange),
		)
	}
	return strings.Join(lines, "\n")
}

var printer = message.NewPrinter(language.English)

// formatValue groups thousands and drops the decimals of whole values.
func formatValue(v float64) string {
	if v == math.Trunc(v) {
		return printer.Sprintf("%d", int64(v))
	}
	return printer.Sprintf("%.2f", v)
}
