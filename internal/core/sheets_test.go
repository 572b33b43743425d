package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/batchpush/internal/transport"
)

// exportServer answers export requests in order from responses and records
// the request URIs it saw.
type exportServer struct {
	*httptest.Server

	mu        sync.Mutex
	requests  []string
	responses []http.HandlerFunc
}

func newExportServer(t *testing.T, responses ...http.HandlerFunc) *exportServer {
	t.Helper()
	es := &exportServer{responses: responses}
	es.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		es.mu.Lock()
		n := len(es.requests)
		es.requests = append(es.requests, r.URL.RequestURI())
		es.mu.Unlock()

		if n >= len(es.responses) {
			http.Error(w, "unexpected request", http.StatusTeapot)
			return
		}
		es.responses[n](w, r)
	}))
	t.Cleanup(es.Close)
	return es
}

func (es *exportServer) seen() []string {
	es.mu.Lock()
	defer es.mu.Unlock()
	return append([]string(nil), es.requests...)
}

func respond(status int, contentType, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

func newTestImporter(baseURL string) *SheetImporter {
	client := transport.New("",
		transport.WithHTTPClient(&http.Client{Transport: &http.Transport{DisableKeepAlives: true}}),
		transport.WithTimeout(2*time.Second),
		transport.WithBackoff(time.Millisecond),
	)
	return NewSheetImporter(client, WithExportBaseURL(baseURL))
}

func requireImportError(t *testing.T, rs RecordSet) *ImportError {
	t.Helper()
	require.Error(t, rs.Err())
	assert.Zero(t, rs.Len())
	var ie *ImportError
	require.True(t, errors.As(rs.Err(), &ie), "expected *ImportError, got %T", rs.Err())
	return ie
}

const sheetLink = "https://docs.google.com/spreadsheets/d/abc_123-XYZ/edit#gid=42"

func TestParseSheetURL(t *testing.T) {
	tests := []struct {
		url     string
		wantID  string
		wantGID string
		wantOK  bool
	}{
		{sheetLink, "abc_123-XYZ", "42", true},
		{"https://docs.google.com/spreadsheets/d/abc/edit", "abc", "0", true},
		{"https://docs.google.com/spreadsheets/d/abc/edit?usp=sharing&gid=7", "abc", "7", true},
		{"https://docs.google.com/document/d/abc/edit", "", "", false},
		{"not a url", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			id, gid, ok := ParseSheetURL(tt.url)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantGID, gid)
		})
	}
}

func TestSheetImporter_InvalidURLMakesNoRequests(t *testing.T) {
	es := newExportServer(t)

	rs := newTestImporter(es.URL).Import(context.Background(), "https://example.com/sheet/abc")

	ie := requireImportError(t, rs)
	assert.Equal(t, ImportInvalidURL, ie.Reason)
	assert.Contains(t, ie.Error(), "invalid URL")
	assert.Empty(t, es.seen(), "invalid URL must not touch the network")
}

func TestSheetImporter_FirstCandidateSucceeds(t *testing.T) {
	es := newExportServer(t, respond(http.StatusOK, "text/csv", "name,qty\nwidget,3\n"))

	rs := newTestImporter(es.URL).Import(context.Background(), sheetLink)

	require.NoError(t, rs.Err())
	require.Equal(t, 1, rs.Len())
	assert.True(t, rs.At(0).Equal(rec("name", "widget", "qty", "3")))
	assert.Equal(t, []string{"/spreadsheets/d/abc_123-XYZ/export?format=csv&gid=42"}, es.seen())
}

func TestSheetImporter_FallsThroughCandidates(t *testing.T) {
	es := newExportServer(t,
		respond(http.StatusForbidden, "", "no"),
		respond(http.StatusOK, "text/html; charset=utf-8", "<html>sign in</html>"),
		respond(http.StatusOK, "text/csv", "a\n1\n2\n"),
	)

	rs := newTestImporter(es.URL).Import(context.Background(), sheetLink)

	require.NoError(t, rs.Err())
	assert.Equal(t, 2, rs.Len())
	assert.Equal(t, []string{
		"/spreadsheets/d/abc_123-XYZ/export?format=csv&gid=42",
		"/spreadsheets/d/abc_123-XYZ/gviz/tq?tqx=out:csv&gid=42",
		"/spreadsheets/d/abc_123-XYZ/export?format=csv",
	}, es.seen())
}

func TestSheetImporter_Exhausted(t *testing.T) {
	tests := []struct {
		name       string
		responses  []http.HandlerFunc
		wantReason ImportReason
	}{
		{
			name: "access denied",
			responses: []http.HandlerFunc{
				respond(http.StatusForbidden, "", ""),
				respond(http.StatusForbidden, "", ""),
				respond(http.StatusForbidden, "", ""),
			},
			wantReason: ImportAccessDenied,
		},
		{
			name: "not found last",
			responses: []http.HandlerFunc{
				respond(http.StatusForbidden, "", ""),
				respond(http.StatusInternalServerError, "", ""),
				respond(http.StatusNotFound, "", ""),
			},
			wantReason: ImportNotFound,
		},
		{
			name: "empty bodies",
			responses: []http.HandlerFunc{
				respond(http.StatusOK, "text/csv", ""),
				respond(http.StatusOK, "text/csv", "  \n"),
				respond(http.StatusOK, "text/csv", ""),
			},
			wantReason: ImportEmpty,
		},
		{
			name: "sign-in page",
			responses: []http.HandlerFunc{
				respond(http.StatusOK, "", "<!DOCTYPE html><html></html>"),
				respond(http.StatusOK, "", "<!DOCTYPE html><html></html>"),
				respond(http.StatusOK, "", "<!DOCTYPE html><html></html>"),
			},
			wantReason: ImportAccessDenied,
		},
		{
			name: "server errors",
			responses: []http.HandlerFunc{
				respond(http.StatusBadGateway, "", ""),
				respond(http.StatusBadGateway, "", ""),
				respond(http.StatusServiceUnavailable, "", ""),
			},
			wantReason: ImportFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			es := newExportServer(t, tt.responses...)

			rs := newTestImporter(es.URL).Import(context.Background(), sheetLink)

			ie := requireImportError(t, rs)
			assert.Equal(t, tt.wantReason, ie.Reason)
			assert.Len(t, ie.Candidates, 3)
			assert.Len(t, es.seen(), 3, "each candidate is tried exactly once")
			assert.Contains(t, ie.Error(), "Anyone with the link")
		})
	}
}

func TestSheetImporter_NetworkFailureNotRetried(t *testing.T) {
	es := newExportServer(t)
	base := es.URL
	es.Close()

	client := transport.New("",
		transport.WithHTTPClient(&http.Client{Transport: &http.Transport{DisableKeepAlives: true}}),
		transport.WithMaxAttempts(5),
		transport.WithBackoff(time.Hour),
	)
	rs := NewSheetImporter(client, WithExportBaseURL(base)).Import(context.Background(), sheetLink)

	ie := requireImportError(t, rs)
	assert.Equal(t, ImportFailed, ie.Reason)
	assert.Len(t, ie.Candidates, 3)
	assert.Equal(t, transport.KindNetwork, transport.KindOf(ie))
}

func TestSheetImporter_MalformedCSV(t *testing.T) {
	es := newExportServer(t, respond(http.StatusOK, "text/csv", "a,b\n\"1,2\n"))

	rs := newTestImporter(es.URL).Import(context.Background(), sheetLink)

	var pe *ParseError
	require.ErrorAs(t, rs.Err(), &pe)
	assert.Equal(t, FormatCSV, pe.Format)
	assert.Zero(t, rs.Len())
}
