package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/clockpipe/clockpipe/internal/metrics"
)

var (
	tblHeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3B82F6"))
	tblCopyingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	tblCopiedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	tblStreamStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6"))
	tblPendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

// RenderTables renders the per-table counters table.
func RenderTables(snap metrics.Snapshot, width, maxRows int) string {
	if len(snap.Tables) == 0 {
		return "  No table data available"
	}

	var b strings.Builder

	// Header.
	header := fmt.Sprintf("  %-35s %-10s %-22s %s", "Table", "Status", "Copied / Ins / Del", "Elapsed")
	b.WriteString(tblHeaderStyle.Render(header))
	b.WriteByte('\n')

	shown := len(snap.Tables)
	if maxRows > 0 && shown > maxRows {
		shown = maxRows
	}

	for i := 0; i < shown; i++ {
		t := snap.Tables[i]
		name := t.Table
		if len(name) > 33 {
			name = name[:30] + "..."
		}

		var statusStr string
		switch t.Status {
		case metrics.TableCopying:
			statusStr = tblCopyingStyle.Render("copying")
		case metrics.TableCopied:
			statusStr = tblCopiedStyle.Render("copied")
		case metrics.TableStreaming:
			statusStr = tblStreamStyle.Render("streaming")
		default:
			statusStr = tblPendingStyle.Render("pending")
		}

		counters := fmt.Sprintf("%s / %s / %s",
			formatCount(t.RowsCopied), formatCount(t.RowsInserted), formatCount(t.RowsDeleted))
		if t.Truncations > 0 {
			counters += fmt.Sprintf(" (%dx truncate)", t.Truncations)
		}

		elapsed := formatDuration(t.ElapsedSec)

		line := fmt.Sprintf("  %-35s %-10s %-22s %s", name, statusStr, counters, elapsed)
		b.WriteString(line)
		if i < shown-1 {
			b.WriteByte('\n')
		}
	}

	if len(snap.Tables) > shown {
		b.WriteByte('\n')
		b.WriteString(fmt.Sprintf("  ... and %d more tables", len(snap.Tables)-shown))
	}

	return b.String()
}

func formatCount(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1e6)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1e3)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func formatBytes(b uint64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
