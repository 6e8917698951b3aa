package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"lims-backup/internal/backup"
	"lims-backup/internal/config"
	"lims-backup/internal/dump"
	"lims-backup/internal/logging"
	"lims-backup/internal/snapshot"

	"github.com/gorilla/mux"
)

// Engine is the set of backup operations exposed over HTTP. *backup.Manager
// implements it.
type Engine interface {
	DatabaseName() string
	ExportFileName(t time.Time) string
	ExportSQL(ctx context.Context, w io.Writer) (*dump.ExportResult, error)
	ImportSQL(ctx context.Context, r io.Reader) (*dump.ImportResult, error)
	CreateSnapshot(ctx context.Context, req backup.CreateRequest) (*backup.CreateResult, error)
	Restore(ctx context.Context, m *snapshot.Manifest) (*snapshot.RestoreResult, error)
	RestoreArtifact(ctx context.Context, name string) (*snapshot.RestoreResult, error)
	VerifyArtifact(ctx context.Context, name string) (*backup.VerifyResult, error)
	ListArtifacts() ([]backup.ArtifactFile, error)
	ReadLog() ([]backup.LogEntry, error)
	Cleanup(ctx context.Context, retentionDays int, dryRun bool) (*backup.RetentionResult, error)
}

// Server serves the backup API.
type Server struct {
	engine        Engine
	config        config.APIConfig
	maxUploadSize int64
	logger        *logging.Logger
	now           func() time.Time
	router        *mux.Router
	routes        []string
}

// NewServer builds the router. maxUploadSize bounds SQL import uploads.
func NewServer(engine Engine, cfg config.APIConfig, maxUploadSize int64, logger *logging.Logger) *Server {
	cfg.SetDefaults()
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if maxUploadSize <= 0 {
		maxUploadSize = backup.DefaultMaxUploadSize
	}

	s := &Server{
		engine:        engine,
		config:        cfg,
		maxUploadSize: maxUploadSize,
		logger:        logger,
		now:           time.Now,
	}
	s.registerHTTPHandlers()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Routes lists the registered path templates.
func (s *Server) Routes() []string {
	return s.routes
}

func (s *Server) registerHTTPHandlers() {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware, s.loggingMiddleware)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, errNotFound(r))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, errMethodNotAllowed(r))
	})

	r.HandleFunc("/health", s.httpHealthHandler).Methods(http.MethodGet, http.MethodHead)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/export", s.httpExportHandler).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/import", s.httpImportHandler).Methods(http.MethodPost)
	api.HandleFunc("/snapshots", s.httpListHandler).Methods(http.MethodGet)
	api.HandleFunc("/snapshots", s.httpCreateHandler).Methods(http.MethodPost)
	api.HandleFunc("/snapshots/log", s.httpLogHandler).Methods(http.MethodGet)
	api.HandleFunc("/snapshots/restore", s.httpRestoreHandler).Methods(http.MethodPost)
	api.HandleFunc("/snapshots/cleanup", s.httpCleanupHandler).Methods(http.MethodPost)
	api.HandleFunc("/snapshots/{name}/restore", s.httpRestoreArtifactHandler).Methods(http.MethodPost)
	api.HandleFunc("/snapshots/{name}/verify", s.httpVerifyHandler).Methods(http.MethodGet)

	var routes []string
	_ = r.Walk(func(route *mux.Route, router *mux.Router, ancestors []*mux.Route) error {
		if t, err := route.GetPathTemplate(); err == nil {
			routes = append(routes, t)
		}
		return nil
	})

	s.router = r
	s.routes = routes
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("listen", s.config.Listen).Info("API server started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
		defer cancel()
		s.logger.Info("API server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
