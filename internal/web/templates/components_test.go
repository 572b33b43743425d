package templates

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/batchpush/internal/core"
	"github.com/JonMunkholm/batchpush/internal/history"
)

func renderString(t *testing.T, fn func(*strings.Builder) error) string {
	t.Helper()
	var b strings.Builder
	require.NoError(t, fn(&b))
	return b.String()
}

func TestErrorAlert(t *testing.T) {
	out := renderString(t, func(b *strings.Builder) error {
		return ErrorAlert("Bad <thing>", "Fix it", "ERR000").Render(context.Background(), b)
	})

	assert.Contains(t, out, "Bad &lt;thing&gt;")
	assert.Contains(t, out, "Fix it")
	assert.Contains(t, out, "Code: ERR000")
}

func TestSubmissionResult(t *testing.T) {
	r := core.SubmissionResult{
		BatchID:     "b-1",
		TargetTable: "companies",
		Inserted:    1,
		Failed:      1,
		Errors:      []string{"row 2: bad domain"},
	}
	msg := core.UserMessage{Message: "Some records were rejected by the server", Code: "SUB003"}

	out := renderString(t, func(b *strings.Builder) error {
		return SubmissionResult(r, msg).Render(context.Background(), b)
	})

	assert.Contains(t, out, "result-partial")
	assert.Contains(t, out, "<li>row 2: bad domain</li>")
	assert.Contains(t, out, "Code: SUB003")
	assert.True(t, strings.HasSuffix(out, "</div></div>"))
}

func TestPreviewTable_Summary(t *testing.T) {
	var rec core.Record
	rec.Set("name", "Acme")
	p := core.StagedPreview{
		StagingID: "s-1",
		Source:    "a.csv",
		Preview:   core.NormalizedPreview{Fields: []string{"name"}, Rows: []core.Record{rec}, Total: 5, Truncated: true},
	}

	out := renderString(t, func(b *strings.Builder) error {
		return PreviewTable(p, "imports").Render(context.Background(), b)
	})

	assert.Contains(t, out, "Showing 1 of 5 records, 1 fields")
	assert.Contains(t, out, "<td>Acme</td>")
	assert.Contains(t, out, `value="s-1"`)
	assert.Contains(t, out, `placeholder="imports"`)
}

func TestHistoryTable(t *testing.T) {
	out := renderString(t, func(b *strings.Builder) error {
		return HistoryTable(nil).Render(context.Background(), b)
	})
	assert.Contains(t, out, "No submissions yet")

	out = renderString(t, func(b *strings.Builder) error {
		return HistoryTable([]history.Entry{
			{Source: "a.csv", TargetTable: "t", Inserted: 3, CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
			{Source: "b.csv", TargetTable: "t", Failed: 2, Kind: "http_status"},
		}).Render(context.Background(), b)
	})
	assert.Contains(t, out, "2026-01-02 03:04:05")
	assert.Contains(t, out, "<td>ok</td>")
	assert.Contains(t, out, "<td>http status</td>")
}

func TestDiagnosticsReport(t *testing.T) {
	rep := core.Report{
		BaseURL: "https://ingest.example.com",
		Origin:  "http://localhost:3000",
		Probes: []core.ProbeResult{
			{Name: "connectivity", OK: true, Message: "Endpoint is reachable"},
			{Name: "credentialed", Message: "Endpoint rejects <credentialed> requests"},
		},
	}

	out := renderString(t, func(b *strings.Builder) error {
		return DiagnosticsReport(rep).Render(context.Background(), b)
	})

	assert.Contains(t, out, "https://ingest.example.com from http://localhost:3000")
	assert.Contains(t, out, `<tr class="probe-ok"><th>connectivity</th>`)
	assert.Contains(t, out, `<tr class="probe-fail"><th>credentialed</th>`)
	assert.Contains(t, out, "rejects &lt;credentialed&gt; requests")
}
