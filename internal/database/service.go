package database

import (
	"context"
	"database/sql"
	"time"

	"lims-backup/internal/errors"
	"lims-backup/internal/logging"
)

// Service opens and checks connections to the target store
type Service struct {
	connectionTimeout time.Duration
	logger            *logging.Logger
	retryHandler      *errors.RetryHandler
}

// NewService creates a new database service with default settings
func NewService() *Service {
	return NewServiceWithLogger(logging.NewDefaultLogger())
}

// NewServiceWithLogger creates a new database service with a custom logger
func NewServiceWithLogger(logger *logging.Logger) *Service {
	return &Service{
		connectionTimeout: 30 * time.Second,
		logger:            logger,
		retryHandler:      errors.NewDefaultRetryHandler(),
	}
}

// NewServiceWithOptions creates a database service with custom timeout and retry policy
func NewServiceWithOptions(logger *logging.Logger, timeout time.Duration, retry errors.RetryConfig) *Service {
	return &Service{
		connectionTimeout: timeout,
		logger:            logger,
		retryHandler:      errors.NewRetryHandler(retry),
	}
}

// Connect establishes a connection to the MySQL database with retry logic
func (s *Service) Connect(ctx context.Context, config DatabaseConfig) (*sql.DB, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.NewValidationError("invalid database configuration", err)
	}

	startTime := time.Now()
	s.logger.WithFields(map[string]interface{}{
		"host":     config.Host,
		"database": config.Database,
		"port":     config.Port,
	}).Debug("Attempting database connection")

	ctx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()

	var db *sql.DB
	err := s.retryHandler.Retry(ctx, func() error {
		var openErr error
		db, openErr = sql.Open("mysql", config.DSN())
		if openErr != nil {
			return errors.NewConnectionError("failed to open database connection", openErr)
		}

		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)

		if pingErr := s.TestConnection(ctx, db); pingErr != nil {
			db.Close()
			return pingErr
		}
		return nil
	})

	s.logger.LogDatabaseConnection(config.Host, config.Database, err == nil, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// TestConnection verifies that the database connection is working
func (s *Service) TestConnection(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.NewValidationError("database connection is nil", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return errors.WrapError(err, "failed to ping database")
	}
	return nil
}

// Close gracefully closes the database connection
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to close database connection")
		return errors.WrapError(err, "failed to close database connection")
	}
	return nil
}

// GetVersion retrieves the MySQL server version
func (s *Service) GetVersion(ctx context.Context, db *sql.DB) (string, error) {
	if db == nil {
		return "", errors.NewValidationError("database connection is nil", nil)
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return "", errors.WrapError(err, "failed to get database version")
	}
	return version, nil
}
