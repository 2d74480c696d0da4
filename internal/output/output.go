// Package output provides styled terminal output helpers (success, error,
// warning, change-log and row formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/stockly-app/stockly/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	opStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	statusStyles = map[models.SyncStatus]lipgloss.Style{
		models.StatusPending:  lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.StatusSynced:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.StatusConflict: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.StatusFailed:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Success prints a success message
func Success(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...any) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...any) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...any) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound      = "not_found"
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeConflict      = "conflict"
	ErrCodeDatabaseError = "database_error"
	ErrCodeSyncError     = "sync_error"
	ErrCodeNotConfigured = "not_configured"
	ErrCodeOutOfStock    = "insufficient_stock"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	JSONErrorWithDetails(code, message, nil)
}

// JSONErrorWithDetails outputs an error as JSON with additional context
func JSONErrorWithDetails(code, message string, details map[string]any) {
	errObj := map[string]any{
		"code":    code,
		"message": message,
	}
	if len(details) > 0 {
		errObj["details"] = details
	}
	data, _ := json.MarshalIndent(map[string]any{"error": errObj}, "", "  ")
	fmt.Println(string(data))
}

// FormatStatus formats a change-log status with color
func FormatStatus(s models.SyncStatus) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// StatusBadge returns a status indicator with symbol
// e.g., "○ pending", "✓ synced", "⚡ conflict", "✗ failed"
func StatusBadge(status models.SyncStatus) string {
	symbols := map[models.SyncStatus]string{
		models.StatusPending:  "○",
		models.StatusSynced:   "✓",
		models.StatusConflict: "⚡",
		models.StatusFailed:   "✗",
	}
	symbol, ok := symbols[status]
	if !ok {
		symbol = "?"
	}
	if style, ok := statusStyles[status]; ok {
		return style.Render(fmt.Sprintf("%s %s", symbol, status))
	}
	return fmt.Sprintf("%s %s", symbol, status)
}

// FormatOperation formats a change operation
func FormatOperation(op models.Operation) string {
	return opStyle.Render(fmt.Sprintf("%-6s", op))
}

// FormatChangeShort formats one change-log item on a single line
func FormatChangeShort(item models.ChangeItem) string {
	parts := []string{
		titleStyle.Render(fmt.Sprintf("#%d", item.ID)),
		FormatOperation(item.Operation),
		fmt.Sprintf("%s %d", item.EntityType, item.EntityID),
		FormatStatus(item.Status),
	}
	if item.Attempts > 0 {
		parts = append(parts, subtleStyle.Render(fmt.Sprintf("%d attempt(s)", item.Attempts)))
	}
	parts = append(parts, subtleStyle.Render(FormatTimeAgo(item.CreatedAt)))
	if item.Error != "" {
		parts = append(parts, errorStyle.Render(item.Error))
	}
	return strings.Join(parts, "  ")
}

// FormatChangeLong formats a change-log item with its payloads
func FormatChangeLong(item models.ChangeItem) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("Change #%d: %s %s %d", item.ID, item.Operation, item.EntityType, item.EntityID)))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Status: %s\n", FormatStatus(item.Status)))
	sb.WriteString(fmt.Sprintf("Attempts: %d | Base version: %d | Server version: %d\n", item.Attempts, item.BaseVersion, item.ServerVersion))
	sb.WriteString(fmt.Sprintf("Queued: %s (%s)\n", item.CreatedAt.Format(time.RFC3339), FormatTimeAgo(item.CreatedAt)))
	if item.SyncedAt != nil {
		sb.WriteString(fmt.Sprintf("Synced: %s\n", item.SyncedAt.Format(time.RFC3339)))
	}
	sb.WriteString(subtleStyle.Render("Idempotency key: " + item.IdempotencyKey))
	sb.WriteString("\n")
	if item.Error != "" {
		sb.WriteString(fmt.Sprintf("Error: %s\n", errorStyle.Render(item.Error)))
	}
	if len(item.Data) > 0 {
		sb.WriteString(SectionHeader("Data"))
		sb.WriteString(IndentString(prettyJSON(item.Data), 2))
		sb.WriteString("\n")
	}
	if len(item.OldData) > 0 {
		sb.WriteString(SectionHeader("Previous"))
		sb.WriteString(IndentString(prettyJSON(item.OldData), 2))
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatRow formats a store row as "id  key=value ..." with business fields
// first and sync bookkeeping dimmed.
func FormatRow(row models.Row) string {
	var business, bookkeeping []string
	keys := make([]string, 0, len(row))
	for k := range row {
		if k != models.ColID {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		kv := fmt.Sprintf("%s=%v", k, row[k])
		switch k {
		case models.ColVersion, models.ColServerVersion, models.ColIsSynced,
			models.ColLastModified, models.ColCreatedAt, models.ColUpdatedAt:
			bookkeeping = append(bookkeeping, kv)
		default:
			business = append(business, kv)
		}
	}
	line := titleStyle.Render(fmt.Sprintf("%d", row.ID())) + "  " + strings.Join(business, "  ")
	if synced, _ := models.AsInt64(row[models.ColIsSynced]); synced == 0 {
		line += "  " + warningStyle.Render("[unsynced]")
	}
	if len(bookkeeping) > 0 {
		line += "\n    " + subtleStyle.Render(strings.Join(bookkeeping, "  "))
	}
	return line
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nCONFLICTS:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentString indents each line in a string by the specified number of spaces
func IndentString(s string, spaces int) string {
	if s == "" {
		return ""
	}
	indent := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}

func prettyJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(data)
}
