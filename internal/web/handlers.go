package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/batchpush/internal/core"
	"github.com/JonMunkholm/batchpush/internal/history"
	"github.com/JonMunkholm/batchpush/internal/logging"
	"github.com/JonMunkholm/batchpush/internal/web/templates"
)

// maxJSONBody caps request bodies for the JSON endpoints.
const maxJSONBody = 1 << 20

// SubmitRequest is the body of POST /api/submit.
type SubmitRequest struct {
	StagingID   string `json:"staging_id"`
	TargetTable string `json:"target_table"`
}

// ImportRequest is the body of POST /api/import.
type ImportRequest struct {
	URL string `json:"url"`
}

// SubmitResponse carries the result even when the submission failed, so the
// client can show what happened.
type SubmitResponse struct {
	Result core.SubmissionResult `json:"result"`
	Error  *ErrorResponse        `json:"error,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string                   `json:"status"`
	Submissions core.SubmitLimiterStatus `json:"submissions"`
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// decodeBody fills v from a JSON body, or from form values named by the
// JSON tags when the request is a form post (HTMX).
func decodeBody(r *http.Request, v any, formFields func(get func(string) string)) error {
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v); err != nil {
			return fmt.Errorf("invalid request body: %w", err)
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("invalid form: %w", err)
	}
	formFields(r.PostForm.Get)
	return nil
}

// handleHealth reports liveness of this server, not of the ingestion endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{Status: "ok", Submissions: s.service.SubmitLimiterStatus()})
}

// handlePreview parses an uploaded file, stages it and returns a preview.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	maxSize := s.service.MaxFileSize()
	if maxSize > 0 {
		// Leave room for the multipart envelope so oversized files are
		// reported by the service with the actual size.
		r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.respondError(w, r, fmt.Errorf("file too large: limit is %d bytes", maxSize), http.StatusRequestEntityTooLarge)
			return
		}
		s.respondError(w, r, fmt.Errorf("no file provided: %w", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, fmt.Errorf("no file provided: %w", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("read upload: %w", err), http.StatusBadRequest)
		return
	}

	preview, err := s.service.Preview(r.Context(), core.RawInput{Filename: header.Filename, Data: data})
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	s.renderPreview(w, r, preview)
}

// handleImport fetches a shared spreadsheet, stages it and returns a preview.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	err := decodeBody(r, &req, func(get func(string) string) {
		req.URL = get("url")
	})
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	preview, err := s.service.Import(r.Context(), strings.TrimSpace(req.URL))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	s.renderPreview(w, r, preview)
}

// handleStaged returns the preview of a staged set.
func (s *Server) handleStaged(w http.ResponseWriter, r *http.Request) {
	preview, err := s.service.Staged(chi.URLParam(r, "stagingID"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	s.renderPreview(w, r, preview)
}

func (s *Server) renderPreview(w http.ResponseWriter, r *http.Request, p core.StagedPreview) {
	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		templates.PreviewTable(p, s.service.DefaultTable()).Render(r.Context(), w)
		return
	}
	writeJSON(w, p)
}

// handleSubmit submits a staged set to the ingestion endpoint.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	err := decodeBody(r, &req, func(get func(string) string) {
		req.StagingID = get("staging_id")
		req.TargetTable = get("target_table")
	})
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	if req.StagingID == "" {
		s.respondError(w, r, fmt.Errorf("missing staging_id: %w", core.ErrStagingNotFound), http.StatusBadRequest)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	result, err := s.service.Submit(ctx, req.StagingID, req.TargetTable)

	var se *core.SubmissionError
	if err != nil && !(errors.As(err, &se) && (se.Kind == core.SubmitPartial || se.Kind == core.SubmitTransport)) {
		// Nothing reached the endpoint; there is no result to show.
		s.respondError(w, r, err, 0)
		return
	}

	status := http.StatusOK
	var msg core.UserMessage
	resp := SubmitResponse{Result: result}
	if err != nil {
		status = statusFor(err)
		msg = core.MapError(err)
		er := newErrorResponse(msg)
		resp.Error = &er
		s.logSubmitFailure(r, err, status, msg)
	}

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if status != http.StatusOK {
			w.Header().Set("HX-Reswap", "innerHTML")
		}
		w.WriteHeader(status)
		templates.SubmissionResult(result, msg).Render(r.Context(), w)
		return
	}
	writeJSONStatus(w, status, resp)
}

func (s *Server) logSubmitFailure(r *http.Request, err error, status int, msg core.UserMessage) {
	log := logging.WithFields(r.Context(),
		"path", r.URL.Path,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)
	if status >= 500 {
		log.Error("submission failed")
	} else {
		log.Warn("submission incomplete")
	}
}

// handleDiagnostics runs every probe.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	report := s.service.Diagnose(r.Context())
	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		templates.DiagnosticsReport(report).Render(r.Context(), w)
		return
	}
	writeJSON(w, report)
}

// handleProbe runs a single probe.
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Probe(r.Context(), chi.URLParam(r, "probe"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, result)
}

// handleHistory lists recent submissions.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := min(parseIntParam(r, "limit", 50), 500)

	entries, err := s.service.History(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		templates.HistoryTable(entries).Render(r.Context(), w)
		return
	}
	writeJSON(w, entries)
}
