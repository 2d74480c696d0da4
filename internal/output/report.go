package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stockly-app/stockly/internal/db"
	"github.com/stockly-app/stockly/internal/models"
	stocksync "github.com/stockly-app/stockly/internal/sync"
)

// Report gathers what the sync report shows.
type Report struct {
	Result    *stocksync.SyncResult
	Queue     map[models.SyncStatus]int
	Tables    []db.TableSyncState
	Conflicts []db.SyncConflict
	LastSync  *time.Time
}

// FormatResultSummary returns the one-line summary printed after a session.
func FormatResultSummary(res *stocksync.SyncResult) string {
	if res == nil {
		return ""
	}
	parts := []string{
		successStyle.Render(fmt.Sprintf("%d pushed", res.SuccessCount)),
	}
	if res.FailureCount > 0 {
		parts = append(parts, errorStyle.Render(fmt.Sprintf("%d failed", res.FailureCount)))
	}
	if res.ConflictCount > 0 {
		parts = append(parts, warningStyle.Render(fmt.Sprintf("%d conflict(s), %d resolved", res.ConflictCount, res.ResolvedConflicts)))
	}
	if res.PendingCount > 0 {
		parts = append(parts, fmt.Sprintf("%d still pending", res.PendingCount))
	}
	if len(res.Pulled) > 0 {
		parts = append(parts, fmt.Sprintf("%d row(s) pulled", res.PulledRows()))
	}
	parts = append(parts, subtleStyle.Render(res.Duration.Round(time.Millisecond).String()))
	return strings.Join(parts, ", ")
}

// ReportMarkdown renders the report as markdown.
func ReportMarkdown(r Report) string {
	var sb strings.Builder
	sb.WriteString("# Sync report\n\n")
	if r.LastSync != nil {
		sb.WriteString(fmt.Sprintf("Last sync: **%s** (%s)\n\n", r.LastSync.Format(time.RFC3339), FormatTimeAgo(*r.LastSync)))
	} else {
		sb.WriteString("Last sync: **never**\n\n")
	}

	if res := r.Result; res != nil {
		sb.WriteString("## Session\n\n")
		sb.WriteString("| Total | Pushed | Failed | Conflicts | Resolved | Pending | Pulled | Duration |\n")
		sb.WriteString("|---|---|---|---|---|---|---|---|\n")
		sb.WriteString(fmt.Sprintf("| %d | %d | %d | %d | %d | %d | %d | %s |\n\n",
			res.TotalItems, res.SuccessCount, res.FailureCount, res.ConflictCount,
			res.ResolvedConflicts, res.PendingCount, res.PulledRows(), res.Duration.Round(time.Millisecond)))

		if len(res.Errors) > 0 {
			sb.WriteString("### Problems\n\n")
			for _, e := range res.Errors {
				target := e.Table
				if e.EntityID != 0 {
					target = fmt.Sprintf("%s %d", e.Table, e.EntityID)
				}
				if e.ChangeID != 0 {
					target = fmt.Sprintf("change #%d (%s %s)", e.ChangeID, e.Operation, target)
				}
				sb.WriteString(fmt.Sprintf("- **%s** %s: %s\n", e.Kind, target, e.Message))
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("## Queue\n\n")
	sb.WriteString("| Status | Items |\n|---|---|\n")
	for _, s := range []models.SyncStatus{models.StatusPending, models.StatusConflict, models.StatusFailed, models.StatusSynced} {
		sb.WriteString(fmt.Sprintf("| %s | %d |\n", s, r.Queue[s]))
	}
	sb.WriteString("\n")

	if len(r.Tables) > 0 {
		tables := append([]db.TableSyncState(nil), r.Tables...)
		sort.Slice(tables, func(i, j int) bool { return tables[i].Table < tables[j].Table })
		sb.WriteString("## Tables\n\n")
		sb.WriteString("| Table | Rows | Last pulled | Error |\n|---|---|---|---|\n")
		for _, t := range tables {
			pulled := "never"
			if t.LastPulledAt != nil {
				pulled = FormatTimeAgo(*t.LastPulledAt)
			}
			errMsg := t.LastError
			if errMsg == "" {
				errMsg = "-"
			}
			sb.WriteString(fmt.Sprintf("| %s | %d | %s | %s |\n", t.Table, t.RowCount, pulled, errMsg))
		}
		sb.WriteString("\n")
	}

	if len(r.Conflicts) > 0 {
		sb.WriteString("## Recent conflicts\n\n")
		for _, c := range r.Conflicts {
			sb.WriteString(fmt.Sprintf("- change #%d %s %d: %s via %s (server v%d)\n",
				c.ChangeID, c.EntityType, c.EntityID, c.Resolution, c.Strategy, c.ServerVersion))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderReport renders the report for the terminal.
func RenderReport(r Report) (string, error) {
	return RenderMarkdown(ReportMarkdown(r))
}
