// Package core implements the ingestion and submission pipeline.
//
// It is independent of any UI or transport layer and is used by the web
// server, the CLI and tests without modification.
//
// # Pipeline
//
//  1. [Parse] detects the format from the file extension and converts CSV,
//     JSON or .xlsx bytes into a [RecordSet]. [SheetImporter] does the same
//     for a shared spreadsheet link, trying several CSV export URLs.
//  2. [Normalize] computes the union of field names and a bounded preview.
//  3. [Coordinator.Submit] posts the records to {base}/insert through a
//     transport.Client and aggregates the counts reported by the server.
//
// [Diagnostics] probes the ingestion endpoint when a submission fails:
// plain connectivity, cross-origin acceptance and credentialed cross-origin
// acceptance.
//
// # Records
//
// A [Record] is an ordered mapping from field name to string, float64, bool
// or nil. Key order survives parsing and JSON encoding so previews and
// payloads list fields in source order. Parse and import failures are
// carried inside the RecordSet; a failed set never has records.
//
// # Service
//
// [Service] stages parsed uploads under an ID for a limited time, refuses a
// second submission of a set that is already being submitted, bounds the
// number of concurrent submissions with a [SubmitLimiter], and records each
// outcome in the submission history.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each category has a code for support reference:
//
//   - FILE001-FILE005: file errors (size, parse, format, empty)
//   - IMP001-IMP005: spreadsheet import errors
//   - NET001, CORS001, TIME001, HTTP4XX, HTTP5XX, RESP001: transport errors
//   - SUB001-SUB003, UPL002-UPL004: submission errors
package core
