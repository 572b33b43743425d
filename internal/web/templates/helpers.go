// Package templates renders the HTML fragments returned to HTMX clients.
// Components are written in .templ files; run `templ generate` after
// editing them.
package templates

import (
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/batchpush/internal/core"
	"github.com/JonMunkholm/batchpush/internal/history"
)

func previewSummary(p core.NormalizedPreview) string {
	switch {
	case p.Total == 0:
		return "No records found"
	case p.Truncated:
		return fmt.Sprintf("Showing %d of %d records, %d fields", len(p.Rows), p.Total, len(p.Fields))
	default:
		return fmt.Sprintf("%d records, %d fields", p.Total, len(p.Fields))
	}
}

func resultClass(r core.SubmissionResult) string {
	switch {
	case r.Kind != "":
		return "result-failed"
	case r.Failed > 0:
		return "result-partial"
	default:
		return "result-ok"
	}
}

func probeClass(p core.ProbeResult) string {
	if p.OK {
		return "probe-ok"
	}
	return "probe-fail"
}

func probeDuration(p core.ProbeResult) string {
	return p.Duration.Round(time.Millisecond).String()
}

func entryStatus(e history.Entry) string {
	switch {
	case e.Succeeded():
		return "ok"
	case e.Kind != "":
		return strings.ReplaceAll(e.Kind, "_", " ")
	default:
		return "partial"
	}
}
