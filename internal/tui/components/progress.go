package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/clockpipe/clockpipe/internal/metrics"
)

// RenderProgress renders the overall count of tables that have finished
// bulk copy (copied or already streaming) versus the total bound.
func RenderProgress(snap metrics.Snapshot, width int) string {
	total := len(snap.Tables)
	if total == 0 {
		return "  No tables bound"
	}

	var done int
	for _, t := range snap.Tables {
		if t.Status == metrics.TableCopied || t.Status == metrics.TableStreaming {
			done++
		}
	}

	pct := float64(done) / float64(total) * 100

	// Bar width = available width - label overhead.
	barWidth := width - 40
	if barWidth < 10 {
		barWidth = 10
	}

	filled := int(float64(barWidth) * pct / 100)
	if filled > barWidth {
		filled = barWidth
	}
	empty := barWidth - filled

	fullChars := strings.Repeat("█", filled)
	emptyChars := strings.Repeat("░", empty)

	coloredFull := lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Render(fullChars)
	coloredEmpty := lipgloss.NewStyle().Foreground(lipgloss.Color("#374151")).Render(emptyChars)

	return fmt.Sprintf("  Overall: %s%s %5.1f%% (%d/%d tables)",
		coloredFull, coloredEmpty, pct, done, total)
}
