package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/JonMunkholm/batchpush/internal/logging"
	"github.com/JonMunkholm/batchpush/internal/transport"
)

// DefaultSheetsBaseURL is the host serving spreadsheet exports.
const DefaultSheetsBaseURL = "https://docs.google.com"

var (
	spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)
	sheetTabPattern      = regexp.MustCompile(`[#&?]gid=(\d+)`)
)

// SheetImporter resolves a shared spreadsheet link into records by trying
// an ordered list of CSV export URLs.
type SheetImporter struct {
	client  *transport.Client
	baseURL string
	logger  *slog.Logger
}

// SheetOption configures a SheetImporter.
type SheetOption func(*SheetImporter)

// WithExportBaseURL replaces the export host, mainly for tests.
func WithExportBaseURL(u string) SheetOption {
	return func(s *SheetImporter) {
		if u != "" {
			s.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithSheetLogger sets the logger used for candidate failures.
func WithSheetLogger(l *slog.Logger) SheetOption {
	return func(s *SheetImporter) {
		s.logger = l
	}
}

// NewSheetImporter creates an importer that fetches exports through client.
// Every candidate is requested exactly once, whatever the client's retry
// setting.
func NewSheetImporter(client *transport.Client, opts ...SheetOption) *SheetImporter {
	s := &SheetImporter{client: client, baseURL: DefaultSheetsBaseURL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseSheetURL extracts the spreadsheet ID and tab ID from a share link.
// The tab defaults to "0", the first tab.
func ParseSheetURL(raw string) (id, gid string, ok bool) {
	m := spreadsheetIDPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", "", false
	}
	gid = "0"
	if g := sheetTabPattern.FindStringSubmatch(raw); g != nil {
		gid = g[1]
	}
	return m[1], gid, true
}

// ExportCandidates lists the export URLs tried for a spreadsheet, in order.
func (s *SheetImporter) ExportCandidates(id, gid string) []string {
	base := s.baseURL + "/spreadsheets/d/" + url.PathEscape(id)
	return []string{
		base + "/export?format=csv&gid=" + gid,
		base + "/gviz/tq?tqx=out:csv&gid=" + gid,
		base + "/export?format=csv",
	}
}

// Import fetches the spreadsheet behind rawURL and parses it as CSV.
// Failures are returned inside the RecordSet as *ImportError, or as
// *ParseError when an export was fetched but is not valid CSV.
func (s *SheetImporter) Import(ctx context.Context, rawURL string) RecordSet {
	id, gid, ok := ParseSheetURL(rawURL)
	if !ok {
		return FailedRecordSet(&ImportError{Reason: ImportInvalidURL, URL: rawURL})
	}

	log := s.log(ctx).With("spreadsheet_id", id, "gid", gid)

	var (
		failures []CandidateFailure
		lastErr  error
	)
	for i, candidate := range s.ExportCandidates(id, gid) {
		body, failure, err := s.fetch(ctx, candidate)
		if failure == nil {
			log.Info("spreadsheet export fetched", "candidate", i+1, "bytes", len(body))
			return ParseFormat(FormatCSV, body)
		}

		failures = append(failures, *failure)
		lastErr = err
		log.Warn("spreadsheet export candidate failed",
			"candidate", i+1,
			"reason", failure.Reason,
			"detail", failure.Detail,
		)

		if ctx.Err() != nil {
			break
		}
	}

	last := failures[len(failures)-1]
	return FailedRecordSet(&ImportError{
		Reason:     last.Reason,
		URL:        rawURL,
		Candidates: failures,
		Err:        lastErr,
	})
}

// fetch requests one candidate. It returns the body on success, or the
// failure and its underlying error.
func (s *SheetImporter) fetch(ctx context.Context, candidate string) ([]byte, *CandidateFailure, error) {
	resp, err := s.client.Do(ctx, transport.Request{
		Method:      http.MethodGet,
		Path:        candidate,
		MaxAttempts: 1,
		SameOrigin:  true,
		Header:      http.Header{"Accept": {"text/csv, text/plain;q=0.9, */*;q=0.1"}},
	})
	if err != nil {
		reason, detail := classifyExportError(err)
		return nil, &CandidateFailure{URL: candidate, Reason: reason, Detail: detail}, err
	}

	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil, &CandidateFailure{URL: candidate, Reason: ImportEmpty, Detail: "export returned no content"},
			errors.New("empty export")
	}
	if isHTML(resp) {
		// A private sheet answers with a sign-in page instead of CSV.
		return nil, &CandidateFailure{URL: candidate, Reason: ImportAccessDenied, Detail: "export returned an HTML page instead of CSV"},
			errors.New("html export")
	}
	return resp.Body, nil, nil
}

func classifyExportError(err error) (ImportReason, string) {
	var te *transport.Error
	if !errors.As(err, &te) {
		return ImportFailed, err.Error()
	}
	if te.Kind != transport.KindHTTPStatus {
		return ImportFailed, te.Message
	}

	detail := fmt.Sprintf("HTTP %d", te.StatusCode)
	switch te.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ImportAccessDenied, detail
	case http.StatusNotFound:
		return ImportNotFound, detail
	default:
		return ImportFailed, detail
	}
}

func isHTML(resp *transport.Response) bool {
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") {
		return true
	}
	head := bytes.TrimSpace(resp.Body)
	if len(head) > 64 {
		head = head[:64]
	}
	head = bytes.ToLower(head)
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

func (s *SheetImporter) log(ctx context.Context) *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return logging.FromContext(ctx)
}
