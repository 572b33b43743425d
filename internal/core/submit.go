package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/JonMunkholm/batchpush/internal/logging"
	"github.com/JonMunkholm/batchpush/internal/transport"
)

// DefaultInsertPath is the insert endpoint relative to the base URL.
const DefaultInsertPath = "/insert"

// SubmissionRequest is one batch to insert into TargetTable.
type SubmissionRequest struct {
	Records     RecordSet
	TargetTable string
}

// SubmissionResult summarizes one submission attempt. Kind is empty on
// success and names the failure class otherwise.
type SubmissionResult struct {
	BatchID     string        `json:"batch_id"`
	TargetTable string        `json:"target_table"`
	Inserted    int           `json:"inserted"`
	Failed      int           `json:"failed"`
	Errors      []string      `json:"errors"`
	SchemaHash  string        `json:"schema_hash,omitempty"`
	Kind        string        `json:"kind,omitempty"`
	Attempts    int           `json:"attempts"`
	Duration    time.Duration `json:"duration_ns"`
}

// OK reports whether every record was inserted.
func (r SubmissionResult) OK() bool {
	return r.Kind == "" && r.Failed == 0
}

// insertPayload is the body sent to the insert endpoint.
type insertPayload struct {
	Records     []Record `json:"records"`
	TargetTable string   `json:"target_table"`
}

// Coordinator turns a RecordSet into a single insert call.
type Coordinator struct {
	client       *transport.Client
	insertPath   string
	defaultTable string
	logger       *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithDefaultTable sets the table used when a request names none.
func WithDefaultTable(table string) CoordinatorOption {
	return func(c *Coordinator) {
		c.defaultTable = strings.TrimSpace(table)
	}
}

// WithInsertPath overrides DefaultInsertPath.
func WithInsertPath(path string) CoordinatorOption {
	return func(c *Coordinator) {
		if path != "" {
			c.insertPath = path
		}
	}
}

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// NewCoordinator creates a Coordinator posting through client.
func NewCoordinator(client *transport.Client, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{client: client, insertPath: DefaultInsertPath}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultTable returns the configured fallback table.
func (c *Coordinator) DefaultTable() string { return c.defaultTable }

// Submit posts the records in one call and summarizes the server's answer.
//
// Nothing is retried here; the transport retries network failures only.
// A failed submission must be resubmitted explicitly by the caller.
//
// Errors are *SubmissionError. With SubmitPartial and SubmitTransport the
// returned result is still meaningful and should be shown to the user.
func (c *Coordinator) Submit(ctx context.Context, req SubmissionRequest) (SubmissionResult, error) {
	if err := req.Records.Err(); err != nil {
		return SubmissionResult{}, &SubmissionError{Kind: SubmitNoData, Message: "no data to submit", Err: err}
	}
	n := req.Records.Len()
	if n == 0 {
		return SubmissionResult{}, &SubmissionError{Kind: SubmitNoData, Message: "no data to submit"}
	}

	table := strings.TrimSpace(req.TargetTable)
	if table == "" {
		table = c.defaultTable
	}
	if table == "" {
		return SubmissionResult{}, &SubmissionError{Kind: SubmitNoTable, Message: "no target table given and no default configured"}
	}

	batchID := uuid.NewString()
	log := c.log(ctx).With("batch_id", batchID, "table", table, "records", n)
	start := time.Now()

	resp, err := c.client.PostJSON(ctx, c.insertPath, insertPayload{
		Records:     req.Records.records,
		TargetTable: table,
	})
	if err == nil {
		var counts SubmissionResult
		counts, err = decodeInsertResponse(resp, n)
		if err == nil {
			result := counts
			result.BatchID = batchID
			result.TargetTable = table
			result.Attempts = resp.Attempts
			result.Duration = time.Since(start)

			if result.Failed > 0 {
				log.Warn("batch partially inserted", "inserted", result.Inserted, "failed", result.Failed)
				return result, &SubmissionError{
					Kind:    SubmitPartial,
					Message: partialMessage(result),
				}
			}
			log.Info("batch inserted", "inserted", result.Inserted, "duration", result.Duration)
			return result, nil
		}
	}

	var te *transport.Error
	if !errors.As(err, &te) {
		te = &transport.Error{Kind: transport.KindNetwork, Message: err.Error(), Err: err}
	}

	msg := MapError(te)
	result := SubmissionResult{
		BatchID:     batchID,
		TargetTable: table,
		Inserted:    0,
		Failed:      n,
		Errors:      []string{msg.Message},
		Kind:        string(te.Kind),
		Attempts:    te.Attempts,
		Duration:    time.Since(start),
	}
	log.Error("batch submission failed",
		"kind", te.Kind,
		"status", te.StatusCode,
		"attempts", te.Attempts,
		"error", te.Error(),
	)
	return result, &SubmissionError{Kind: SubmitTransport, Message: msg.Message, Err: te}
}

// decodeInsertResponse reads {inserted, failed, schema_hash, errors}.
// Missing counts mean the whole batch was inserted.
func decodeInsertResponse(resp *transport.Response, n int) (SubmissionResult, error) {
	body := strings.TrimSpace(string(resp.Body))
	if body == "" {
		return SubmissionResult{Inserted: n, Errors: []string{}}, nil
	}
	if !gjson.Valid(body) {
		return SubmissionResult{}, transport.Malformed(resp, "insert response is not valid JSON")
	}
	doc := gjson.Parse(body)
	if !doc.IsObject() {
		return SubmissionResult{}, transport.Malformed(resp, "insert response is not a JSON object")
	}

	inserted, failed := doc.Get("inserted"), doc.Get("failed")
	for _, f := range []gjson.Result{inserted, failed} {
		if !f.Exists() {
			continue
		}
		if f.Type != gjson.Number {
			return SubmissionResult{}, transport.Malformed(resp, "insert response counts must be numbers")
		}
		if f.Num < 0 || f.Num != math.Trunc(f.Num) {
			return SubmissionResult{}, transport.Malformed(resp, "insert response counts must be non-negative integers, got "+f.Raw)
		}
	}

	result := SubmissionResult{
		SchemaHash: doc.Get("schema_hash").String(),
		Errors:     []string{},
	}
	switch {
	case !inserted.Exists() && !failed.Exists():
		result.Inserted = n
	case !inserted.Exists():
		result.Failed = int(failed.Int())
		result.Inserted = max(n-result.Failed, 0)
	default:
		result.Inserted = int(inserted.Int())
		result.Failed = int(failed.Int())
	}

	for _, e := range doc.Get("errors").Array() {
		if e.IsObject() || e.IsArray() {
			result.Errors = append(result.Errors, e.Raw)
			continue
		}
		result.Errors = append(result.Errors, e.String())
	}
	return result, nil
}

func partialMessage(r SubmissionResult) string {
	msg := fmt.Sprintf("%d of %d records were rejected by the server", r.Failed, r.Inserted+r.Failed)
	switch len(r.Errors) {
	case 0:
		return msg
	case 1:
		return msg + ": " + r.Errors[0]
	default:
		return fmt.Sprintf("%s: %s (and %d more)", msg, r.Errors[0], len(r.Errors)-1)
	}
}

func (c *Coordinator) log(ctx context.Context) *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return logging.FromContext(ctx)
}
