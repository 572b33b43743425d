package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged with its technical detail and request ID, mapped
// through core.MapError, and rendered as an HTMX fragment, JSON or plain
// text depending on the request.

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/batchpush/internal/core"
	"github.com/JonMunkholm/batchpush/internal/logging"
	"github.com/JonMunkholm/batchpush/internal/transport"
	"github.com/JonMunkholm/batchpush/internal/web/templates"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Detail  string `json:"detail,omitempty"`
}

func newErrorResponse(msg core.UserMessage) ErrorResponse {
	return ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
		Detail:  msg.Detail,
	}
}

// respondError logs the technical error and returns the mapped user message.
// A zero statusCode is derived from the error with statusFor.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if statusCode == 0 {
		statusCode = statusFor(err)
	}
	userMsg := core.MapError(err)

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	}
	if statusCode >= 500 {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request error", attrs...)
	}

	switch {
	case isHTMX(r):
		s.renderErrorPartial(w, r, userMsg, statusCode)
	case wantsJSON(r):
		respondErrorJSON(w, userMsg, statusCode)
	default:
		respondErrorHTML(w, userMsg, statusCode)
	}
}

// statusFor picks the HTTP status for a pipeline error.
func statusFor(err error) int {
	var ie *core.ImportError
	if errors.As(err, &ie) {
		switch ie.Reason {
		case core.ImportInvalidURL:
			return http.StatusBadRequest
		case core.ImportAccessDenied:
			return http.StatusForbidden
		case core.ImportNotFound:
			return http.StatusNotFound
		case core.ImportEmpty:
			return http.StatusUnprocessableEntity
		default:
			return http.StatusBadGateway
		}
	}

	var se *core.SubmissionError
	if errors.As(err, &se) {
		switch se.Kind {
		case core.SubmitNoData, core.SubmitNoTable:
			return http.StatusBadRequest
		case core.SubmitPartial:
			return http.StatusOK
		}
	}

	var te *transport.Error
	if errors.As(err, &te) {
		if te.Kind == transport.KindTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}

	switch {
	case errors.Is(err, core.ErrStagingNotFound), errors.Is(err, core.ErrUnknownProbe):
		return http.StatusNotFound
	case errors.Is(err, core.ErrSubmissionInFlight):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManySubmissions):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	}

	var pe *core.ParseError
	if errors.As(err, &pe) {
		return http.StatusUnprocessableEntity
	}
	if strings.Contains(strings.ToLower(err.Error()), "file too large") {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(newErrorResponse(msg))
}

// respondErrorHTML writes a plain HTML error response.
func respondErrorHTML(w http.ResponseWriter, msg core.UserMessage, statusCode int) {
	http.Error(w, msg.Message+" ("+msg.Code+")", statusCode)
}

// renderErrorPartial renders an HTMX-compatible error fragment.
func (s *Server) renderErrorPartial(w http.ResponseWriter, r *http.Request, msg core.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	// HTMX does not swap 4xx/5xx responses unless told to.
	w.Header().Set("HX-Reswap", "innerHTML")
	w.WriteHeader(statusCode)

	templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w)
}

// isHTMX checks if the request is an HTMX request.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsJSON checks if the client prefers JSON response.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	// API routes default to JSON
	return strings.HasPrefix(r.URL.Path, "/api/")
}
