package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"lims-backup/internal/logging"
)

// RetentionManager deletes artifacts older than the retention period.
type RetentionManager struct {
	dir    string
	remote RemoteStore
	logger *logging.Logger
	now    func() time.Time
}

// RetentionResult describes one cleanup run.
type RetentionResult struct {
	Cutoff  time.Time `json:"cutoff"`
	Deleted []string  `json:"deleted"`
	Kept    int       `json:"kept"`
	DryRun  bool      `json:"dry_run"`
	Errors  []string  `json:"errors,omitempty"`
}

// NewRetentionManager creates a retention manager for dir. remote may be nil.
func NewRetentionManager(dir string, remote RemoteStore, logger *logging.Logger) *RetentionManager {
	return &RetentionManager{
		dir:    dir,
		remote: remote,
		logger: logger,
		now:    time.Now,
	}
}

// Cleanup deletes every artifact whose modification time is strictly before
// now minus retentionDays. Only names matching the artifact pattern are
// considered, so the backup log and lock file are never touched. Remote copies
// are removed best-effort.
func (rm *RetentionManager) Cleanup(ctx context.Context, retentionDays int, dryRun bool) (*RetentionResult, error) {
	if retentionDays <= 0 {
		return nil, NewStorageError(fmt.Sprintf("retention_days must be positive, got %d", retentionDays), nil)
	}

	cutoff := rm.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	result := &RetentionResult{Cutoff: cutoff, DryRun: dryRun, Deleted: []string{}}

	candidates, err := rm.candidates(cutoff)
	if err != nil {
		rm.logger.LogRetention(rm.dir, retentionDays, nil, err)
		return nil, err
	}

	for _, c := range candidates {
		if !c.expired {
			result.Kept++
			continue
		}
		if dryRun {
			result.Deleted = append(result.Deleted, c.name)
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := os.Remove(filepath.Join(rm.dir, c.name)); err != nil && !os.IsNotExist(err) {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", c.name, err))
			continue
		}
		result.Deleted = append(result.Deleted, c.name)
		rm.logger.WithFields(map[string]interface{}{
			"file":     c.name,
			"modified": c.modified.Format(time.RFC3339),
		}).Info("Deleted expired backup")

		if rm.remote != nil {
			if err := rm.remote.Delete(ctx, c.name); err != nil {
				rm.logger.WithField("file", c.name).WithError(err).Warn("Failed to delete remote copy")
			}
		}
	}

	rm.logger.LogRetention(rm.dir, retentionDays, result.Deleted, nil)
	return result, nil
}

type retentionCandidate struct {
	name     string
	modified time.Time
	expired  bool
}

func (rm *RetentionManager) candidates(cutoff time.Time) ([]retentionCandidate, error) {
	entries, err := os.ReadDir(rm.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, NewStorageError("failed to read backup directory", err)
	}

	var out []retentionCandidate
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !IsArtifactName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		out = append(out, retentionCandidate{
			name:     entry.Name(),
			modified: info.ModTime(),
			expired:  info.ModTime().Before(cutoff),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].modified.Before(out[j].modified)
	})
	return out, nil
}
