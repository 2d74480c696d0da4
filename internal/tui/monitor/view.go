package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/stockly-app/stockly/internal/models"
	stocksync "github.com/stockly-app/stockly/internal/sync"
)

// renderView renders the complete monitor view
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}
	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}
	if m.ShowHelp {
		return m.renderHelp()
	}

	header := m.renderHeader()
	footer := m.renderFooter()

	// Header and footer take one line each; each panel border takes two.
	available := m.Height - lipgloss.Height(header) - lipgloss.Height(footer) - 4
	if available < 4 {
		available = 4
	}
	queueHeight := available * 3 / 5
	historyHeight := available - queueHeight

	queue := m.wrapPanel(fmt.Sprintf("QUEUE (%d)", len(m.Data.Outstanding)),
		m.renderQueuePanel(queueHeight-1), queueHeight, PanelQueue)
	history := m.wrapPanel("SYNC HISTORY",
		m.renderHistoryPanel(historyHeight-1), historyHeight, PanelHistory)

	return lipgloss.JoinVertical(lipgloss.Left, header, queue, history, footer)
}

// renderCompact renders a single status line for tiny terminals
func (m Model) renderCompact() string {
	c := m.Data.Counts
	line := fmt.Sprintf("stockly: %d pending, %d conflict, %d failed",
		c[models.StatusPending], c[models.StatusConflict], c[models.StatusFailed])
	return ansi.Truncate(line, m.Width, "…")
}

func (m Model) renderHeader() string {
	var parts []string
	parts = append(parts, titleStyle.Render("stockly sync"))

	c := m.Data.Counts
	for _, s := range []models.SyncStatus{models.StatusPending, models.StatusConflict, models.StatusFailed, models.StatusSynced} {
		parts = append(parts, fmt.Sprintf("%s %d", formatStatus(s), c[s]))
	}
	parts = append(parts, m.renderEngineState())

	line := strings.Join(parts, "  ")
	return ansi.Truncate(line, m.Width, "…")
}

func (m Model) renderEngineState() string {
	st := m.Data.Engine
	switch {
	case m.Syncing || (st != nil && st.Syncing):
		label := "syncing"
		if st != nil && st.Phase != stocksync.PhaseIdle {
			label = fmt.Sprintf("%s %d/%d", st.Phase, st.Processed, st.Total)
		}
		return m.spinner.View() + " " + label
	case m.Err != nil:
		return errorStyle.Render("error: " + m.Err.Error())
	case st != nil && st.LastError != "":
		return errorStyle.Render("last error: " + st.LastError)
	case m.Data.LastSync != nil:
		return subtleStyle.Render("synced " + timeAgo(*m.Data.LastSync))
	default:
		return subtleStyle.Render("never synced")
	}
}

func (m Model) renderQueuePanel(height int) string {
	items := m.Data.Outstanding
	if len(items) == 0 {
		return subtleStyle.Render("Queue is empty")
	}
	offset := clampOffset(m.ScrollOffset[PanelQueue], len(items))
	width := m.contentWidth()

	var lines []string
	for _, item := range items[offset:] {
		if len(lines) >= height {
			break
		}
		line := fmt.Sprintf("#%-5d %-8s %-7s %s %d", item.ID, formatStatus(item.Status), item.Operation, item.EntityType, item.EntityID)
		if item.Attempts > 0 {
			line += subtleStyle.Render(fmt.Sprintf("  %dx", item.Attempts))
		}
		if item.Error != "" {
			line += "  " + errorStyle.Render(item.Error)
		}
		lines = append(lines, ansi.Truncate(line, width, "…"))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderHistoryPanel(height int) string {
	entries := m.Data.History
	if err := m.Data.HistoryErr; err != nil {
		return errorStyle.Render(ansi.Truncate("history unavailable: "+err.Error(), m.contentWidth(), "…"))
	}
	if len(entries) == 0 {
		return subtleStyle.Render("No sync history")
	}
	offset := clampOffset(m.ScrollOffset[PanelHistory], len(entries))
	width := m.contentWidth()

	var lines []string
	for _, e := range entries[offset:] {
		if len(lines) >= height {
			break
		}
		line := fmt.Sprintf("%s %s %s %s %d v%d",
			timestampStyle.Render(e.Timestamp.Local().Format("15:04:05")),
			formatDirectionBadge(e.Direction), e.Operation, e.EntityType, e.EntityID, e.ServerVersion)
		lines = append(lines, ansi.Truncate(line, width, "…"))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderFooter() string {
	var parts []string
	if res := m.LastResult; res != nil {
		parts = append(parts, fmt.Sprintf("last run: %d pushed, %d failed, %d conflict(s), %d pulled",
			res.SuccessCount, res.FailureCount, res.ConflictCount, res.PulledRows()))
	}
	if !m.Data.Timestamp.IsZero() {
		parts = append(parts, subtleStyle.Render("refreshed "+m.Data.Timestamp.Format("15:04:05")))
	}
	status := ansi.Truncate(strings.Join(parts, "  "), m.Width, "…")
	return status + "\n" + m.help.View(m.keys)
}

// wrapPanel wraps content in a bordered panel with a title
func (m Model) wrapPanel(title, content string, height int, panel Panel) string {
	style := panelStyle
	if m.ActivePanel == panel {
		style = activePanelStyle
	}
	body := panelTitleStyle.Render(title) + "\n" + content
	return style.Width(m.Width - 2).Height(height).Render(body)
}

func (m Model) renderHelp() string {
	h := m.help
	h.ShowAll = true
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("stockly monitor"),
		"",
		h.View(m.keys),
	)
}

// contentWidth is the usable width inside a panel border and padding.
func (m Model) contentWidth() int {
	w := m.Width - 6
	if w < 10 {
		w = 10
	}
	return w
}

func clampOffset(offset, n int) int {
	if offset >= n {
		offset = n - 1
	}
	if offset < 0 {
		offset = 0
	}
	return offset
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
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
