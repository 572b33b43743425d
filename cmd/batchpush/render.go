package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/JonMunkholm/batchpush/internal/core"
	"github.com/JonMunkholm/batchpush/internal/history"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	mutedStyle  = lipgloss.NewStyle().Faint(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// maxCellWidth truncates long values so wide tables stay readable.
const maxCellWidth = 40

// textTable renders rows as aligned columns.
type textTable struct {
	headers []string
	rows    [][]string
}

func (t *textTable) addRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *textTable) render() string {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(clip(cell)))
			}
		}
	}

	var sb strings.Builder
	for i, h := range t.headers {
		sb.WriteString(headerStyle.Render(pad(h, widths[i])))
		sb.WriteString("  ")
	}
	sb.WriteString("\n")
	for _, row := range t.rows {
		for i := range t.headers {
			var cell string
			if i < len(row) {
				cell = clip(row[i])
			}
			sb.WriteString(pad(cell, widths[i]))
			sb.WriteString("  ")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func clip(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= maxCellWidth {
		return s
	}
	return string(r[:maxCellWidth-1]) + "…"
}

func pad(s string, width int) string {
	if n := width - lipgloss.Width(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}

func renderPreview(source string, p core.NormalizedPreview) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(source))
	sb.WriteString("\n")

	if p.Total == 0 {
		sb.WriteString(mutedStyle.Render("No records found"))
		sb.WriteString("\n")
		return sb.String()
	}

	t := &textTable{headers: p.Fields}
	for _, row := range p.Table() {
		t.addRow(row...)
	}
	sb.WriteString(t.render())

	summary := fmt.Sprintf("%d records, %d fields", p.Total, len(p.Fields))
	if p.Truncated {
		summary = fmt.Sprintf("showing %d of %d records, %d fields", len(p.Rows), p.Total, len(p.Fields))
	}
	sb.WriteString(mutedStyle.Render(summary))
	sb.WriteString("\n")
	return sb.String()
}

func renderResult(r core.SubmissionResult) string {
	var sb strings.Builder
	status := okStyle.Render("inserted")
	switch {
	case r.Kind != "":
		status = failStyle.Render("failed (" + strings.ReplaceAll(r.Kind, "_", " ") + ")")
	case r.Failed > 0:
		status = failStyle.Render("partially inserted")
	}

	fmt.Fprintf(&sb, "%s %s\n", titleStyle.Render("Batch "+r.BatchID), status)
	fmt.Fprintf(&sb, "  table:    %s\n", r.TargetTable)
	fmt.Fprintf(&sb, "  inserted: %d\n", r.Inserted)
	fmt.Fprintf(&sb, "  failed:   %d\n", r.Failed)
	if r.SchemaHash != "" {
		fmt.Fprintf(&sb, "  schema:   %s\n", r.SchemaHash)
	}
	fmt.Fprintf(&sb, "  attempts: %d in %s\n", r.Attempts, r.Duration.Round(time.Millisecond))
	for _, e := range r.Errors {
		fmt.Fprintf(&sb, "  - %s\n", e)
	}
	return sb.String()
}

func renderReport(rep core.Report) string {
	var sb strings.Builder
	if rep.BaseURL != "" {
		sb.WriteString(titleStyle.Render(rep.BaseURL))
		sb.WriteString(mutedStyle.Render(" (origin " + rep.Origin + ")"))
		sb.WriteString("\n")
	}

	t := &textTable{headers: []string{"PROBE", "RESULT", "DETAIL"}}
	for _, p := range rep.Probes {
		mark := okStyle.Render("ok")
		if !p.OK {
			mark = failStyle.Render("fail")
		}
		t.addRow(p.Name, mark, p.Message)
	}
	sb.WriteString(t.render())
	return sb.String()
}

func renderHistory(entries []history.Entry) string {
	if len(entries) == 0 {
		return mutedStyle.Render("No submissions yet") + "\n"
	}
	t := &textTable{headers: []string{"WHEN", "SOURCE", "TABLE", "INSERTED", "FAILED", "STATUS"}}
	for _, e := range entries {
		status := "ok"
		switch {
		case e.Kind != "":
			status = e.Kind
		case e.Failed > 0:
			status = "partial"
		}
		t.addRow(
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			e.Source,
			e.TargetTable,
			fmt.Sprint(e.Inserted),
			fmt.Sprint(e.Failed),
			status,
		)
	}
	return t.render()
}
