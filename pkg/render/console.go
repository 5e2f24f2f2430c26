// Package render writes bugnosis results to a terminal as tables that adapt
// to the console width.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/term"

	"github.com/greg-hellings/bugnosis-desktop/pkg/projector"
)

// Fixed widths of the non-title columns of the bug table, borders included.
const (
	bugTableFixedWidth = 60
	minTitleWidth      = 20
	maxTitleWidth      = 80
)

// ConsoleFormatter renders dashboard data as terminal tables.
type ConsoleFormatter struct {
	// MaxTitleWidth caps the bug title column. Zero sizes it from the
	// terminal width.
	MaxTitleWidth int

	// EnableColors toggles ANSI colors for impact and status cells.
	EnableColors bool
}

// NewConsoleFormatter returns a formatter with colors enabled.
func NewConsoleFormatter() *ConsoleFormatter {
	return &ConsoleFormatter{EnableColors: true}
}

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.Style().Options.SeparateRows = false
	tw.Style().Options.SeparateColumns = false
	tw.Style().Options.DrawBorder = true
	return tw
}

// RenderBugs writes the saved bug table followed by a summary block.
func (f *ConsoleFormatter) RenderBugs(w io.Writer, rows []projector.BugRow, sum projector.BugSummary) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No saved bugs.")
		return err
	}

	tw := newTable(w)
	tw.AppendHeader(table.Row{"Issue", "Title", "Impact", "Users", "Severity"})
	titleWidth := f.titleWidth(w)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: titleWidth, Transformer: truncTransformer(titleWidth)},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	for _, r := range rows {
		tw.AppendRow(table.Row{
			r.Key,
			r.Title,
			f.impactCell(r),
			r.Users,
			r.Severity,
		})
	}
	tw.Render()

	lines := []string{
		"",
		"Summary:",
		fmt.Sprintf("  Bugs: %d (critical %d, high %d, opportunity %d)",
			sum.Count,
			sum.ByBucket[projector.BucketCritical],
			sum.ByBucket[projector.BucketHigh],
			sum.ByBucket[projector.BucketOpportunity]),
		fmt.Sprintf("  Impact: mean %.1f, median %.1f, max %d", sum.MeanImpact, sum.MedianImpact, sum.MaxImpact),
		fmt.Sprintf("  Affected users (known): %d", sum.AffectedUsers),
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return fmt.Errorf("failed writing summary: %w", err)
		}
	}
	return nil
}

// RenderStats writes the dashboard counters. No cards means the backend's
// stats output was incomplete.
func (f *ConsoleFormatter) RenderStats(w io.Writer, cards []projector.StatCard) error {
	if len(cards) == 0 {
		_, err := fmt.Fprintln(w, "No stats available.")
		return err
	}
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Metric", "Value"})
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	for _, c := range cards {
		tw.AppendRow(table.Row{c.Label, c.Value})
	}
	tw.Render()
	return nil
}

// RenderWatched writes the watch list in backend order.
func (f *ConsoleFormatter) RenderWatched(w io.Writer, repos []string) error {
	if len(repos) == 0 {
		_, err := fmt.Fprintln(w, "No repositories are being watched.")
		return err
	}
	tw := newTable(w)
	tw.AppendHeader(table.Row{"#", "Repository"})
	for i, r := range repos {
		tw.AppendRow(table.Row{i + 1, r})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d watched", len(repos))})
	tw.Render()
	return nil
}

// RenderScan writes the status banner followed by the backend's summary.
func (f *ConsoleFormatter) RenderScan(w io.Writer, status projector.Status, raw string) error {
	banner := status.Headline()
	switch status {
	case projector.StatusSecure:
		banner = f.color(banner, text.FgGreen)
	case projector.StatusRisk:
		banner = f.color(banner, text.FgRed)
	default:
		banner = f.color(banner, text.FgHiBlack)
	}
	if _, err := fmt.Fprintln(w, banner); err != nil {
		return err
	}
	return f.RenderText(w, raw)
}

// RenderText writes backend prose verbatim, ensuring a trailing newline.
func (f *ConsoleFormatter) RenderText(w io.Writer, raw string) error {
	if raw == "" {
		return nil
	}
	if !strings.HasSuffix(raw, "\n") {
		raw += "\n"
	}
	_, err := io.WriteString(w, raw)
	return err
}

func (f *ConsoleFormatter) impactCell(r projector.BugRow) string {
	s := fmt.Sprintf("%d %s", r.Score, r.BucketLabel)
	switch r.Bucket {
	case projector.BucketCritical:
		return f.color(s, text.FgRed)
	case projector.BucketHigh:
		return f.color(s, text.FgYellow)
	default:
		return f.color(s, text.FgCyan)
	}
}

func (f *ConsoleFormatter) titleWidth(w io.Writer) int {
	if f.MaxTitleWidth > 0 {
		return f.MaxTitleWidth
	}
	width := detectTerminalWidth(w)
	if width <= 0 {
		return maxTitleWidth
	}
	tw := width - bugTableFixedWidth
	switch {
	case tw < minTitleWidth:
		return minTitleWidth
	case tw > maxTitleWidth:
		return maxTitleWidth
	default:
		return tw
	}
}

// detectTerminalWidth reports the width of w when it is a terminal, falling
// back to stdout; -1 when neither is.
func detectTerminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil {
			return width
		}
	}
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		return width
	}
	return -1
}

// truncTransformer ellipsizes cells wider than limit.
func truncTransformer(limit int) text.Transformer {
	return func(val interface{}) string {
		return truncateRunes(fmt.Sprint(val), limit)
	}
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	var b strings.Builder
	n := 0
	for _, r := range s {
		if n >= limit-1 {
			break
		}
		b.WriteRune(r)
		n++
	}
	b.WriteRune('…')
	return b.String()
}

func (f *ConsoleFormatter) color(s string, c text.Color) string {
	if !f.EnableColors {
		return s
	}
	return text.Colors{c}.Sprint(s)
}
