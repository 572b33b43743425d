// Error codes reference
//
// Every failure shown to a user carries a code they can quote to support.
// Typed pipeline errors are mapped first; anything else falls back to
// case-insensitive message patterns, then to ERR000.
//
// # File Errors (FILE001-FILE005)
//
//	FILE001 - File too large           Patterns: "file too large"
//	FILE002 - File could not be parsed *ParseError
//	FILE003 - Unsupported format       ErrUnsupportedFormat
//	FILE004 - No file                  Patterns: "no file provided"
//	FILE005 - Empty file               ErrEmptyInput
//
// # Spreadsheet Import Errors (IMP001-IMP005)
//
//	IMP001 - Invalid spreadsheet link  ImportInvalidURL
//	IMP002 - Access denied             ImportAccessDenied (sharing instructions)
//	IMP003 - Spreadsheet not found     ImportNotFound
//	IMP004 - Export was empty          ImportEmpty
//	IMP005 - Export request failed     ImportFailed
//
// # Transport Errors
//
//	NET001  - Endpoint unreachable     transport.KindNetwork, "connection refused"
//	CORS001 - Origin rejected          transport.KindCors
//	TIME001 - Request timed out        transport.KindTimeout, "timeout"
//	HTTP4XX - Request rejected         transport.KindHTTPStatus, 400-499
//	HTTP5XX - Endpoint failed          transport.KindHTTPStatus, 500-599
//	RESP001 - Unreadable response      transport.KindMalformed
//
// # Submission Errors (SUB001-SUB003, UPL002-UPL004)
//
//	SUB001 - No data                   SubmitNoData
//	SUB002 - No target table           SubmitNoTable
//	SUB003 - Partially inserted        SubmitPartial
//	UPL002 - System busy               ErrTooManySubmissions
//	UPL003 - Upload expired            ErrStagingNotFound
//	UPL004 - Submission in progress    ErrSubmissionInFlight
//
// # Other
//
//	DIAG001 - Unknown probe            ErrUnknownProbe
//	RATE001 - Rate limited             Patterns: "rate limit"
//	ERR000  - Unknown error; Detail carries the raw message
//
// # For Support Staff
//
// When a user reports ERR000, the raw message is in Detail and the full
// technical error is in the application logs.

package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/batchpush/internal/transport"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`          // What happened (user-friendly)
	Action  string `json:"action"`           // What to do about it
	Code    string `json:"code"`             // Error code for support reference
	Detail  string `json:"detail,omitempty"` // Technical detail safe to show
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user
// messages for errors that carry no type. The first match wins.
var errorPatterns = []errorPattern{
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Select a CSV, JSON or Excel file to upload",
			Code:    "FILE004",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
	{
		pattern: "connection refused",
		msg:     transportMessages[transport.KindNetwork],
	},
	{
		pattern: "context deadline exceeded",
		msg:     transportMessages[transport.KindTimeout],
	},
	{
		pattern: "timeout",
		msg:     transportMessages[transport.KindTimeout],
	},
}

var importMessages = map[ImportReason]UserMessage{
	ImportInvalidURL: {
		Message: "This is not a spreadsheet link",
		Action:  "Paste the full link, which contains /spreadsheets/d/<id>",
		Code:    "IMP001",
	},
	ImportAccessDenied: {
		Message: "Access to the spreadsheet was denied",
		Action:  sharingGuidance + ", then try again",
		Code:    "IMP002",
	},
	ImportNotFound: {
		Message: "The spreadsheet was not found",
		Action:  "Check that the link is complete and the sheet has not been deleted",
		Code:    "IMP003",
	},
	ImportEmpty: {
		Message: "The spreadsheet export was empty",
		Action:  "Check that the first tab has a header row and data",
		Code:    "IMP004",
	},
	ImportFailed: {
		Message: "The spreadsheet could not be downloaded",
		Action:  sharingGuidance + ", or try again later",
		Code:    "IMP005",
	},
}

var transportMessages = map[transport.Kind]UserMessage{
	transport.KindNetwork: {
		Message: "Unable to reach the ingestion endpoint",
		Action:  "Check the endpoint URL and your network connection, then run diagnostics",
		Code:    "NET001",
	},
	transport.KindCors: {
		Message: "The ingestion endpoint rejected this origin",
		Action:  "Configure the endpoint to send Access-Control-Allow-Origin for this origin, and Access-Control-Allow-Credentials when credentials are used",
		Code:    "CORS001",
	},
	transport.KindTimeout: {
		Message: "The request timed out",
		Action:  "Try a smaller batch or check that the endpoint is responding",
		Code:    "TIME001",
	},
	transport.KindMalformed: {
		Message: "The endpoint sent a response that could not be read",
		Action:  "Check that the base URL points at the ingestion service",
		Code:    "RESP001",
	},
}

var submissionMessages = map[SubmissionErrorKind]UserMessage{
	SubmitNoData: {
		Message: "There is no data to submit",
		Action:  "Upload a file with at least one data row",
		Code:    "SUB001",
	},
	SubmitNoTable: {
		Message: "No target table was given",
		Action:  "Enter a target table or configure a default",
		Code:    "SUB002",
	},
	SubmitPartial: {
		Message: "Some records were rejected by the server",
		Action:  "Review the listed errors, fix those rows and submit them again",
		Code:    "SUB003",
	},
}

var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrTooManySubmissions, UserMessage{
		Message: "System is busy processing other submissions",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	}},
	{ErrStagingNotFound, UserMessage{
		Message: "Upload session not found",
		Action:  "The upload may have expired. Please upload the file again",
		Code:    "UPL003",
	}},
	{ErrSubmissionInFlight, UserMessage{
		Message: "This upload is already being submitted",
		Action:  "Wait for the current submission to finish",
		Code:    "UPL004",
	}},
	{ErrUnknownProbe, UserMessage{
		Message: "Unknown diagnostic probe",
		Action:  "Use connectivity, cross_origin or credentialed",
		Code:    "DIAG001",
	}},
	{ErrUnsupportedFormat, UserMessage{
		Message: "This file type is not supported",
		Action:  "Upload a .csv, .json, .xlsx or .xls file",
		Code:    "FILE003",
	}},
	{ErrEmptyInput, UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Upload a file with a header row and data rows",
		Code:    "FILE005",
	}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Typed errors are matched with errors.As/Is, then known message patterns
// (case-insensitive), and finally ERR000 with the raw message in Detail.
//
// Example:
//
//	msg := MapError(&transport.Error{Kind: transport.KindCors})
//	// msg.Code == "CORS001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if msg, ok := mapTyped(err); ok {
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	msg := defaultMessage
	msg.Detail = err.Error()
	return msg
}

func mapTyped(err error) (UserMessage, bool) {
	var se *SubmissionError
	if errors.As(err, &se) {
		if se.Kind == SubmitTransport && se.Err != nil {
			return mapTyped(se.Err)
		}
		if msg, ok := submissionMessages[se.Kind]; ok {
			msg.Detail = se.Message
			return msg, true
		}
	}

	var ie *ImportError
	if errors.As(err, &ie) {
		msg, ok := importMessages[ie.Reason]
		if !ok {
			msg = importMessages[ImportFailed]
		}
		if n := len(ie.Candidates); n > 0 {
			msg.Detail = fmt.Sprintf("%d export attempts failed; last: %s", n, ie.Candidates[n-1].Detail)
		}
		return msg, true
	}

	var te *transport.Error
	if errors.As(err, &te) {
		return transportMessage(te), true
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.msg, true
		}
	}

	var pe *ParseError
	if errors.As(err, &pe) {
		return UserMessage{
			Message: "The file could not be read",
			Action:  "Check that the file is valid " + formatLabel(pe.Format) + " and try again",
			Code:    "FILE002",
			Detail:  pe.Error(),
		}, true
	}

	return UserMessage{}, false
}

func transportMessage(te *transport.Error) UserMessage {
	if te.Kind == transport.KindHTTPStatus {
		msg := UserMessage{
			Message: fmt.Sprintf("The ingestion endpoint rejected the request (HTTP %d)", te.StatusCode),
			Action:  "Check the target table and the record fields expected by the endpoint",
			Code:    "HTTP4XX",
			Detail:  te.Body,
		}
		if te.StatusCode >= 500 {
			msg.Message = fmt.Sprintf("The ingestion endpoint failed (HTTP %d)", te.StatusCode)
			msg.Action = "Try again later or contact the operators of the ingestion service"
			msg.Code = "HTTP5XX"
		}
		return msg
	}

	msg, ok := transportMessages[te.Kind]
	if !ok {
		msg = transportMessages[transport.KindNetwork]
	}
	msg.Detail = te.Message
	return msg
}

func formatLabel(f Format) string {
	switch f {
	case FormatCSV:
		return "CSV"
	case FormatJSON:
		return "JSON"
	case FormatWorkbook:
		return "Excel (.xlsx or .xls)"
	default:
		return "CSV, JSON or Excel"
	}
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
//
// Example output: "The request timed out (Code: TIME001). Try a smaller batch or check that the endpoint is responding"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
