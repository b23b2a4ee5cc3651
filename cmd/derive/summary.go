package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/not-nullexception/image-derivatives/internal/pipeline"
)

var (
	summaryBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#81A1C1")).
			Padding(0, 1)
	summaryTitle = lipgloss.NewStyle().Bold(true)
	summaryOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A3BE8C"))
	summaryWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EBCB8B"))
	summaryFail  = lipgloss.NewStyle().Foreground(lipgloss.Color("#BF616A"))
	summaryDim   = lipgloss.NewStyle().Foreground(lipgloss.Color("#7A8291"))
)

// renderSummary lists one line per input: ok, degraded (some presets failed)
// or failed.
func renderSummary(items []pipeline.BatchItem, outputDir string) string {
	var b strings.Builder
	b.WriteString(summaryTitle.Render(fmt.Sprintf("%d image(s) -> %s", len(items), outputDir)))

	for _, item := range items {
		b.WriteString("\n")
		switch {
		case item.Failed():
			b.WriteString(summaryFail.Render("x " + item.File))
			b.WriteString(summaryDim.Render("  " + item.Error))
		case len(item.Result.Sizes.Failures()) > 0:
			b.WriteString(summaryWarn.Render("! " + item.Result.Original.Name))
			b.WriteString(summaryDim.Render("  failed: " + strings.Join(item.Result.Sizes.Failures(), ", ")))
		default:
			r := item.Result
			b.WriteString(summaryOK.Render("* " + r.Original.Name))
			b.WriteString(summaryDim.Render(fmt.Sprintf("  %dx%d %s, %d derivative(s), color #%02x%02x%02x",
				r.Metadata.Width, r.Metadata.Height, r.Metadata.Format, len(r.Sizes),
				r.DominantColor.R, r.DominantColor.G, r.DominantColor.B)))
		}
	}

	return summaryBox.Render(b.String())
}
