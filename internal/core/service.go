package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/batchpush/internal/config"
	"github.com/JonMunkholm/batchpush/internal/history"
	"github.com/JonMunkholm/batchpush/internal/logging"
	"github.com/JonMunkholm/batchpush/internal/transport"
)

// SubmitTimeout bounds one submission including transport retries.
var SubmitTimeout = 5 * time.Minute

// ServiceOptions wires a Service. Ingest is required; the rest default.
type ServiceOptions struct {
	Ingest *transport.Client // ingestion endpoint
	Sheets *transport.Client // spreadsheet exports; defaults to a plain client
	History history.Store    // defaults to an in-memory store

	InsertPath    string
	DefaultTable  string
	HealthPaths   []string
	SheetsBaseURL string

	PreviewRows   int
	MaxFileSize   int64
	StagingTTL    time.Duration
	MaxConcurrent int
	MaxWait       time.Duration

	Logger *slog.Logger
}

// Service is the entry point used by the web server and the CLI. It stages
// parsed uploads, submits them one at a time per staged set, bounds
// concurrent submissions and records every outcome.
type Service struct {
	importer    *SheetImporter
	coordinator *Coordinator
	diagnostics *Diagnostics
	staging     *stagingStore
	limiter     *SubmitLimiter
	history     history.Store

	previewRows int
	maxFileSize int64
	logger      *slog.Logger
}

// NewService creates a Service.
func NewService(opts ServiceOptions) *Service {
	if opts.Sheets == nil {
		opts.Sheets = transport.New(DefaultSheetsBaseURL, transport.WithMaxAttempts(1))
	}
	if opts.History == nil {
		opts.History = history.NewMemoryStore(0)
	}
	if opts.PreviewRows <= 0 {
		opts.PreviewRows = DefaultPreviewRows
	}

	coordOpts := []CoordinatorOption{WithDefaultTable(opts.DefaultTable), WithInsertPath(opts.InsertPath)}
	sheetOpts := []SheetOption{WithExportBaseURL(opts.SheetsBaseURL)}
	diagOpts := []DiagnosticsOption{WithHealthPaths(opts.HealthPaths...)}
	if opts.Logger != nil {
		coordOpts = append(coordOpts, WithCoordinatorLogger(opts.Logger))
		sheetOpts = append(sheetOpts, WithSheetLogger(opts.Logger))
		diagOpts = append(diagOpts, WithDiagnosticsLogger(opts.Logger))
	}

	return &Service{
		importer:    NewSheetImporter(opts.Sheets, sheetOpts...),
		coordinator: NewCoordinator(opts.Ingest, coordOpts...),
		diagnostics: NewDiagnostics(opts.Ingest, diagOpts...),
		staging:     newStagingStore(opts.StagingTTL),
		limiter:     NewSubmitLimiter(opts.MaxConcurrent, opts.MaxWait),
		history:     opts.History,
		previewRows: opts.PreviewRows,
		maxFileSize: opts.MaxFileSize,
		logger:      opts.Logger,
	}
}

// NewServiceFromConfig builds the transport clients from cfg.
func NewServiceFromConfig(cfg *config.Config, store history.Store) *Service {
	ep := cfg.Endpoint
	ingest := transport.New(ep.BaseURL,
		transport.WithTimeout(ep.Timeout),
		transport.WithMaxAttempts(ep.MaxAttempts),
		transport.WithBackoff(ep.BackoffBase),
		transport.WithOrigin(ep.Origin),
		transport.WithCredentials(ep.WithCredentials),
	)
	sheets := transport.New(cfg.Sheets.ExportBaseURL,
		transport.WithTimeout(cfg.Sheets.Timeout),
		transport.WithMaxAttempts(1),
	)

	return NewService(ServiceOptions{
		Ingest:        ingest,
		Sheets:        sheets,
		History:       store,
		InsertPath:    ep.InsertPath,
		DefaultTable:  ep.DefaultTable,
		HealthPaths:   ep.HealthPaths,
		SheetsBaseURL: cfg.Sheets.ExportBaseURL,
		PreviewRows:   cfg.Upload.PreviewRows,
		MaxFileSize:   cfg.Upload.MaxFileSize,
		StagingTTL:    cfg.Upload.StagingTTL,
		MaxConcurrent: cfg.Upload.MaxConcurrent,
		MaxWait:       cfg.Upload.MaxWaitTime,
	})
}

// StagedPreview is returned after a file or spreadsheet is staged.
type StagedPreview struct {
	StagingID string            `json:"staging_id"`
	Source    string            `json:"source"`
	Format    Format            `json:"format"`
	ExpiresAt time.Time         `json:"expires_at"`
	Preview   NormalizedPreview `json:"preview"`
}

func (s *Service) stagedPreview(st Staged) StagedPreview {
	return StagedPreview{
		StagingID: st.ID,
		Source:    st.Source,
		Format:    st.Format,
		ExpiresAt: st.ExpiresAt,
		Preview:   Normalize(st.Records, s.previewRows),
	}
}

// Preview parses an uploaded file and stages it for submission.
func (s *Service) Preview(ctx context.Context, in RawInput) (StagedPreview, error) {
	if s.maxFileSize > 0 && int64(len(in.Data)) > s.maxFileSize {
		return StagedPreview{}, fmt.Errorf("file too large: %d bytes exceeds limit of %d", len(in.Data), s.maxFileSize)
	}

	format, _ := DetectFormat(in.Filename)
	rs := Parse(in)
	if err := rs.Err(); err != nil {
		s.log(ctx).Info("upload rejected", "filename", in.Filename, "error", err)
		return StagedPreview{}, err
	}

	st := s.staging.put(in.Filename, format, rs)
	s.log(ctx).Info("upload staged",
		"staging_id", st.ID,
		"filename", in.Filename,
		"format", format,
		"records", rs.Len(),
	)
	return s.stagedPreview(st), nil
}

// Import fetches a shared spreadsheet and stages it for submission.
func (s *Service) Import(ctx context.Context, url string) (StagedPreview, error) {
	rs := s.importer.Import(ctx, url)
	if err := rs.Err(); err != nil {
		return StagedPreview{}, err
	}

	st := s.staging.put(url, FormatCSV, rs)
	s.log(ctx).Info("spreadsheet staged", "staging_id", st.ID, "records", rs.Len())
	return s.stagedPreview(st), nil
}

// Staged returns the preview of a staged set.
func (s *Service) Staged(id string) (StagedPreview, error) {
	st, ok := s.staging.get(id)
	if !ok {
		return StagedPreview{}, ErrStagingNotFound
	}
	return s.stagedPreview(st), nil
}

// Submit posts a staged set to the ingestion endpoint. A second Submit of
// the same set while one is running fails with ErrSubmissionInFlight. The
// set is released only after every record was inserted, so a failed or
// partial submission can be retried by the user.
func (s *Service) Submit(ctx context.Context, stagingID, table string) (SubmissionResult, error) {
	st, finish, err := s.staging.begin(stagingID)
	if err != nil {
		return SubmissionResult{}, err
	}

	result, err := s.submit(ctx, st.Source, st.Records, table)
	finish(err == nil)
	return result, err
}

func (s *Service) submit(ctx context.Context, source string, rs RecordSet, table string) (SubmissionResult, error) {
	release, err := s.limiter.Acquire(ctx)
	if err != nil {
		return SubmissionResult{}, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, SubmitTimeout)
	defer cancel()

	result, err := s.coordinator.Submit(ctx, SubmissionRequest{Records: rs, TargetTable: table})

	var se *SubmissionError
	if err != nil && errors.As(err, &se) && (se.Kind == SubmitNoData || se.Kind == SubmitNoTable) {
		// Rejected locally; nothing was sent.
		return result, err
	}
	s.recordHistory(ctx, source, rs.Len(), result, err)
	return result, err
}

func (s *Service) recordHistory(ctx context.Context, source string, n int, result SubmissionResult, err error) {
	meta := RequestMetaFromContext(ctx)
	entry := history.Entry{
		BatchID:     result.BatchID,
		Source:      source,
		TargetTable: result.TargetTable,
		Records:     n,
		Inserted:    result.Inserted,
		Failed:      result.Failed,
		Kind:        result.Kind,
		SchemaHash:  result.SchemaHash,
		Attempts:    result.Attempts,
		DurationMS:  result.Duration.Milliseconds(),
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
	}

	// The submission already happened; use a fresh context so a cancelled
	// request still leaves a trace.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if herr := s.history.Record(recCtx, entry); herr != nil {
		s.log(ctx).Error("failed to record submission history", "batch_id", result.BatchID, "error", herr)
	}
}

// Diagnose runs every probe against the ingestion endpoint.
func (s *Service) Diagnose(ctx context.Context) Report {
	return s.diagnostics.RunAll(ctx)
}

// Probe runs one probe by name.
func (s *Service) Probe(ctx context.Context, name string) (ProbeResult, error) {
	return s.diagnostics.Probe(ctx, name)
}

// History returns recent submissions, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]history.Entry, error) {
	return s.history.Recent(ctx, limit)
}

// DefaultTable is the table used when a submission names none.
func (s *Service) DefaultTable() string {
	return s.coordinator.DefaultTable()
}

// MaxFileSize is the upload limit in bytes; zero means unlimited.
func (s *Service) MaxFileSize() int64 {
	return s.maxFileSize
}

// SubmitLimiterStatus reports limiter occupancy.
func (s *Service) SubmitLimiterStatus() SubmitLimiterStatus {
	return s.limiter.Status()
}

// WaitForSubmissions blocks until no submission is running or ctx is done.
func (s *Service) WaitForSubmissions(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// Close drops staged sets. The history store is owned by the caller.
func (s *Service) Close() {
	s.staging.close()
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return logging.FromContext(ctx)
}
