package api

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"lims-backup/internal/backup"
	"lims-backup/internal/errors"
	"lims-backup/internal/logging"
)

// errorResponse is the body of every failed request. Statement failures add
// the line and a preview of the failing statement.
type errorResponse struct {
	Success              bool   `json:"success"`
	Message              string `json:"message"`
	ErrorType            string `json:"error_type,omitempty"`
	ErrorLine            int    `json:"error_line,omitempty"`
	LastStatementPreview string `json:"last_statement_preview,omitempty"`
	Inconsistent         bool   `json:"inconsistent,omitempty"`
	RequestID            string `json:"request_id,omitempty"`
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithField("error", err).Warn("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{
		Message:   err.Error(),
		ErrorType: string(errors.GetErrorType(err)),
		RequestID: logging.GetRequestIDFromContext(r.Context()),
	}

	var stmtErr *errors.StatementError
	if stderrors.As(err, &stmtErr) {
		resp.ErrorLine = stmtErr.Line
		resp.LastStatementPreview = stmtErr.Preview
	}
	resp.Inconsistent = errors.IsInconsistent(err)

	entry := s.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
		"status": status,
		"path":   r.URL.Path,
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	s.sendJSON(w, status, resp)
}

func statusFor(err error) int {
	if backup.IsLockError(err) {
		return http.StatusLocked
	}

	var httpErr *httpError
	if stderrors.As(err, &httpErr) {
		return httpErr.status
	}

	switch errors.GetErrorType(err) {
	case errors.ErrorTypeValidation, errors.ErrorTypeFormat:
		return http.StatusBadRequest
	case errors.ErrorTypeStatement:
		return http.StatusUnprocessableEntity
	case errors.ErrorTypeConnection:
		return http.StatusServiceUnavailable
	case errors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// httpError carries an explicit status for transport-level rejections.
type httpError struct {
	status int
	err    *errors.AppError
}

func (e *httpError) Error() string { return e.err.Error() }
func (e *httpError) Unwrap() error { return e.err }

func newHTTPError(status int, err *errors.AppError) error {
	return &httpError{status: status, err: err}
}

func errNotFound(r *http.Request) error {
	return newHTTPError(http.StatusNotFound,
		errors.NewValidationError(fmt.Sprintf("%s %s not found", r.Method, r.URL.Path), nil))
}

func errMethodNotAllowed(r *http.Request) error {
	return newHTTPError(http.StatusMethodNotAllowed,
		errors.NewValidationError(fmt.Sprintf("method %s not allowed for %s", r.Method, r.URL.Path), nil))
}
