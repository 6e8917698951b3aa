package api

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"lims-backup/internal/backup"
	"lims-backup/internal/errors"
	"lims-backup/internal/snapshot"

	"github.com/gorilla/mux"
)

// UploadField is the multipart field holding an uploaded SQL script.
const UploadField = "file"

// multipartOverhead allows for boundaries and headers around the file part.
const multipartOverhead = 1 << 20

type createRequest struct {
	ScheduleType  string `json:"schedule_type"`
	BackupType    string `json:"backup_type"`
	RetentionDays int    `json:"retention_days"`
	CreatedBy     string `json:"created_by"`
}

type restoreRequest struct {
	BackupData json.RawMessage `json:"backup_data"`
}

type importResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Executed int    `json:"executed"`
	Skipped  int    `json:"skipped"`
}

func (s *Server) httpHealthHandler(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"database": s.engine.DatabaseName(),
	})
}

// httpExportHandler spools the dump to a temporary file so a failure midway
// is reported as a JSON error instead of a truncated download.
func (s *Server) httpExportHandler(w http.ResponseWriter, r *http.Request) {
	tmp, err := os.CreateTemp("", "lims-export-*.sql")
	if err != nil {
		s.writeError(w, r, errors.NewIOError("failed to create export buffer", err))
		return
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := s.engine.ExportSQL(r.Context(), tmp); err != nil {
		s.writeError(w, r, err)
		return
	}

	size, err := tmp.Seek(0, io.SeekCurrent)
	if err == nil {
		_, err = tmp.Seek(0, io.SeekStart)
	}
	if err != nil {
		s.writeError(w, r, errors.NewIOError("failed to rewind export buffer", err))
		return
	}

	w.Header().Set("Content-Type", "application/sql; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.engine.ExportFileName(s.now())))
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, tmp); err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Warn("Export download interrupted")
	}
}

func (s *Server) httpImportHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			s.writeError(w, r, s.errTooLarge())
			return
		}
		s.writeError(w, r, errors.NewValidationError("upload failed", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(UploadField)
	if err != nil {
		s.writeError(w, r, errors.NewValidationError(fmt.Sprintf("no file uploaded in field %q", UploadField), err))
		return
	}
	defer file.Close()

	if header.Size > s.maxUploadSize {
		s.writeError(w, r, s.errTooLarge())
		return
	}

	result, err := s.engine.ImportSQL(r.Context(), file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, importResponse{
		Success:  true,
		Message:  fmt.Sprintf("Imported %d statements from %s", result.Executed, header.Filename),
		Executed: result.Executed,
		Skipped:  result.Skipped,
	})
}

func (s *Server) errTooLarge() error {
	return newHTTPError(http.StatusRequestEntityTooLarge,
		errors.NewValidationError(fmt.Sprintf("upload exceeds the %d byte limit", s.maxUploadSize), nil))
}

func (s *Server) httpCreateHandler(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	backupType, err := snapshot.ParseType(req.BackupType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	schedule, err := backup.ParseSchedule(req.ScheduleType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.RetentionDays < 0 {
		s.writeError(w, r, errors.NewValidationError("retention_days must not be negative", nil))
		return
	}

	result, err := s.engine.CreateSnapshot(r.Context(), backup.CreateRequest{
		Type:          backupType,
		Schedule:      schedule,
		RetentionDays: req.RetentionDays,
		CreatedBy:     req.CreatedBy,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		*backup.CreateResult
	}{true, "Backup created", result})
}

func (s *Server) httpRestoreHandler(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(bytes.TrimSpace(req.BackupData)) == 0 || bytes.Equal(bytes.TrimSpace(req.BackupData), []byte("null")) {
		s.writeError(w, r, errors.NewFormatError("backup_data is required", nil))
		return
	}

	manifest, err := snapshot.DecodeBytes(req.BackupData)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendRestoreResult(w, r, func() (*snapshot.RestoreResult, error) {
		return s.engine.Restore(r.Context(), manifest)
	})
}

func (s *Server) httpRestoreArtifactHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	s.sendRestoreResult(w, r, func() (*snapshot.RestoreResult, error) {
		return s.engine.RestoreArtifact(r.Context(), name)
	})
}

func (s *Server) sendRestoreResult(w http.ResponseWriter, r *http.Request, restore func() (*snapshot.RestoreResult, error)) {
	result, err := restore()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		*snapshot.RestoreResult
	}{true, fmt.Sprintf("Restored %d tables and %d files", result.Tables, result.Files), result})
}

func (s *Server) httpVerifyHandler(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.VerifyArtifact(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*backup.VerifyResult
	}{true, result})
}

func (s *Server) httpListHandler(w http.ResponseWriter, r *http.Request) {
	artifacts, err := s.engine.ListArtifacts()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, struct {
		Success bool                  `json:"success"`
		Backups []backup.ArtifactFile `json:"backups"`
	}{true, artifacts})
}

func (s *Server) httpLogHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.ReadLog()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, struct {
		Success bool              `json:"success"`
		Entries []backup.LogEntry `json:"entries"`
	}{true, entries})
}

func (s *Server) httpCleanupHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	retentionDays := 0
	if v := q.Get("retention_days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 0 {
			s.writeError(w, r, errors.NewValidationError(fmt.Sprintf("invalid retention_days %q", v), err))
			return
		}
		retentionDays = days
	}
	dryRun := false
	if v := q.Get("dry_run"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, r, errors.NewValidationError(fmt.Sprintf("invalid dry_run %q", v), err))
			return
		}
		dryRun = b
	}

	result, err := s.engine.Cleanup(r.Context(), retentionDays, dryRun)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*backup.RetentionResult
	}{true, result})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return errors.NewFormatError("request body is empty", nil)
		}
		return errors.NewFormatError("invalid JSON request body", err)
	}
	return nil
}
