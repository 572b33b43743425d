package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for file extensions with no parser.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrEmptyInput is returned for payloads with no content or no header row.
	ErrEmptyInput = errors.New("empty file")
)

// ParseError reports malformed or unsupported input. It is carried inside a
// RecordSet, never returned alongside records.
type ParseError struct {
	Format   Format
	Filename string
	Line     int // 1-based source line when known
	Err      error
}

func (e *ParseError) Error() string {
	if e.Format == "" {
		return e.Err.Error()
	}
	var b strings.Builder
	b.WriteString("invalid ")
	b.WriteString(string(e.Format))
	if e.Filename != "" {
		b.WriteString(" file ")
		b.WriteString(e.Filename)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", e.Line)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

// ImportReason classifies a spreadsheet import failure.
type ImportReason string

const (
	ImportInvalidURL   ImportReason = "invalid_url"
	ImportAccessDenied ImportReason = "access_denied"
	ImportNotFound     ImportReason = "not_found"
	ImportEmpty        ImportReason = "empty"
	ImportFailed       ImportReason = "network"
)

// CandidateFailure records why one export URL was rejected.
type CandidateFailure struct {
	URL    string       `json:"url"`
	Reason ImportReason `json:"reason"`
	Detail string       `json:"detail"`
}

// ImportError reports a spreadsheet URL that could not be resolved to CSV.
// Reason is the last observed failure; Candidates lists every attempt.
type ImportError struct {
	Reason     ImportReason
	URL        string
	Candidates []CandidateFailure
	Err        error
}

func (e *ImportError) Error() string {
	msg := importReasonText(e.Reason)
	if len(e.Candidates) == 0 {
		return msg
	}
	last := e.Candidates[len(e.Candidates)-1]
	detail := msg
	if last.Detail != "" {
		detail = msg + " (" + last.Detail + ")"
	}
	return fmt.Sprintf("could not import spreadsheet after %d export attempts: %s. %s",
		len(e.Candidates), detail, sharingGuidance)
}

func (e *ImportError) Unwrap() error { return e.Err }

const sharingGuidance = "Make sure the sheet is shared as \"Anyone with the link\" with Viewer access"

func importReasonText(r ImportReason) string {
	switch r {
	case ImportInvalidURL:
		return "invalid URL: expected a spreadsheet link containing /spreadsheets/d/<id>"
	case ImportAccessDenied:
		return "access denied to spreadsheet"
	case ImportNotFound:
		return "spreadsheet not found"
	case ImportEmpty:
		return "spreadsheet export is empty"
	default:
		return "spreadsheet export request failed"
	}
}

// SubmissionErrorKind classifies a failed or partial submission.
type SubmissionErrorKind string

const (
	SubmitNoData    SubmissionErrorKind = "no_data"
	SubmitNoTable   SubmissionErrorKind = "no_table"
	SubmitPartial   SubmissionErrorKind = "partial_failure"
	SubmitTransport SubmissionErrorKind = "transport"
)

// SubmissionError is returned by Coordinator.Submit. For SubmitTransport,
// Err is the *transport.Error.
type SubmissionError struct {
	Kind    SubmissionErrorKind
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return string(e.Kind) + ": " + e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Errors returned by Service for staged submissions.
var (
	ErrStagingNotFound    = errors.New("upload not found or expired")
	ErrSubmissionInFlight = errors.New("submission already in progress for this upload")
	ErrUnknownProbe       = errors.New("unknown diagnostic probe")
)
