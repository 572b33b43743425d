package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/batchpush/internal/core"
)

const companiesCSV = "company_name,domain\nAcme,acme.com\nGlobex,globex.com\n"

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// isolateEnv clears variables that would change command behaviour.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"INGEST_BASE_URL", "API_BASE_URL", "DATABASE_URL", "DB_URL", "INGEST_ORIGIN"} {
		t.Setenv(k, "")
	}
	t.Setenv("INGEST_BACKOFF_BASE", "1ms")
}

func TestPreviewCmd(t *testing.T) {
	isolateEnv(t)
	path := writeFile(t, "companies.csv", companiesCSV)

	out, err := runCLI(t, "preview", path)

	require.NoError(t, err)
	assert.Contains(t, out, "companies.csv")
	assert.Contains(t, out, "company_name")
	assert.Contains(t, out, "globex.com")
	assert.Contains(t, out, "2 records, 2 fields")
}

func TestPreviewCmd_JSON(t *testing.T) {
	isolateEnv(t)
	path := writeFile(t, "companies.json", `[{"b":1,"a":"x"},{"c":true}]`)

	out, err := runCLI(t, "preview", "--json", "--rows", "1", path)
	require.NoError(t, err)

	var p core.NormalizedPreview
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, []string{"b", "a", "c"}, p.Fields)
	assert.Equal(t, 2, p.Total)
	assert.True(t, p.Truncated)
}

func TestPreviewCmd_ParseError(t *testing.T) {
	isolateEnv(t)
	path := writeFile(t, "bad.json", `[{"a": 1},`)

	_, err := runCLI(t, "preview", path)

	require.Error(t, err)
	assert.Equal(t, "FILE002", core.MapError(err).Code)
}

func TestSubmitCmd(t *testing.T) {
	isolateEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/insert", r.URL.Path)
		w.Write([]byte(`{"inserted":2,"failed":0,"schema_hash":"h1"}`))
	}))
	defer srv.Close()
	path := writeFile(t, "companies.csv", companiesCSV)

	out, err := runCLI(t, "submit", "--base-url", srv.URL, "--table", "companies", path)

	require.NoError(t, err)
	assert.Contains(t, out, "inserted: 2")
	assert.Contains(t, out, "table:    companies")
	assert.Contains(t, out, "schema:   h1")
}

func TestSubmitCmd_Failure(t *testing.T) {
	isolateEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	t.Setenv("INGEST_BASE_URL", srv.URL)
	path := writeFile(t, "companies.csv", companiesCSV)

	out, err := runCLI(t, "submit", "--json", path)

	require.Error(t, err)
	assert.Equal(t, "HTTP5XX", core.MapError(err).Code)

	var result core.SubmissionResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, "imports", result.TargetTable)
}

func TestSubmitCmd_RequiresBaseURL(t *testing.T) {
	isolateEnv(t)
	path := writeFile(t, "companies.csv", companiesCSV)

	_, err := runCLI(t, "submit", path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "INGEST_BASE_URL")
}

func TestDiagnoseCmd(t *testing.T) {
	isolateEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	out, err := runCLI(t, "diagnose", "--base-url", srv.URL, "--probe", "connectivity")
	require.NoError(t, err)
	assert.Contains(t, out, "connectivity")
	assert.Contains(t, out, "ok")

	out, err = runCLI(t, "diagnose", "--base-url", srv.URL)
	assert.ErrorIs(t, err, errProbesFailed, "a wildcard origin fails the credentialed probe")
	assert.Contains(t, out, "credentialed")

	_, err = runCLI(t, "diagnose", "--base-url", srv.URL, "--probe", "bogus")
	assert.ErrorIs(t, err, core.ErrUnknownProbe)
}

func TestHistoryCmd_RequiresDatabase(t *testing.T) {
	isolateEnv(t)
	t.Setenv("INGEST_BASE_URL", "http://localhost:9")

	_, err := runCLI(t, "history")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestRenderPreview_ClipsLongCells(t *testing.T) {
	p := core.NormalizedPreview{
		Fields:    []string{"note"},
		Rows:      []core.Record{core.NewRecord(core.Field{Name: "note", Value: strings.Repeat("x", 100)})},
		Total:     3,
		Truncated: true,
	}

	out := renderPreview("notes.csv", p)

	assert.Contains(t, out, strings.Repeat("x", maxCellWidth-1)+"…")
	assert.NotContains(t, out, strings.Repeat("x", maxCellWidth+1))
	assert.Contains(t, out, "showing 1 of 3 records, 1 fields")
}

func TestRenderHistory_Empty(t *testing.T) {
	assert.Contains(t, renderHistory(nil), "No submissions yet")
}

func TestImportCmd_WithoutIngestBaseURL(t *testing.T) {
	isolateEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/spreadsheets/d/abc123/export" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(companiesCSV))
	}))
	defer srv.Close()
	t.Setenv("SHEETS_EXPORT_BASE_URL", srv.URL)

	out, err := runCLI(t, "import", "https://docs.google.com/spreadsheets/d/abc123/edit#gid=0")
	require.NoError(t, err)
	assert.Contains(t, out, "company_name")
	assert.Contains(t, out, "Globex")
}
