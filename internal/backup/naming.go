package backup

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"lims-backup/internal/errors"
	"lims-backup/internal/snapshot"
)

// ScheduleType records what triggered a snapshot.
type ScheduleType string

const (
	ScheduleDaily   ScheduleType = "daily"
	ScheduleWeekly  ScheduleType = "weekly"
	ScheduleMonthly ScheduleType = "monthly"
	ScheduleManual  ScheduleType = "manual"
)

// ParseSchedule validates a schedule name. An empty name means manual.
func ParseSchedule(s string) (ScheduleType, error) {
	switch t := ScheduleType(strings.ToLower(strings.TrimSpace(s))); t {
	case ScheduleDaily, ScheduleWeekly, ScheduleMonthly, ScheduleManual:
		return t, nil
	case "":
		return ScheduleManual, nil
	default:
		return "", errors.NewValidationError(fmt.Sprintf("unknown schedule type %q", s), nil)
	}
}

const artifactTimeLayout = "2006-01-02_15-04-05"

var artifactPattern = regexp.MustCompile(`^backup_(full|settings|database)_(daily|weekly|monthly|manual)_(\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2})\.json(\.gz|\.zst|\.lz4)?$`)

// ArtifactName returns the file name for a snapshot taken at t.
func ArtifactName(t snapshot.Type, schedule ScheduleType, at time.Time, compression CompressionType) string {
	return fmt.Sprintf("backup_%s_%s_%s.json%s", t, schedule, at.Format(artifactTimeLayout), compression.Extension())
}

// ArtifactInfo is what can be recovered from an artifact's file name.
type ArtifactInfo struct {
	Type        snapshot.Type
	Schedule    ScheduleType
	CreatedAt   time.Time
	Compression CompressionType
}

// IsArtifactName reports whether name follows the artifact naming pattern.
func IsArtifactName(name string) bool {
	return artifactPattern.MatchString(name)
}

// ParseArtifactName decodes an artifact file name. Timestamps are read in loc.
func ParseArtifactName(name string, loc *time.Location) (*ArtifactInfo, error) {
	m := artifactPattern.FindStringSubmatch(name)
	if m == nil {
		return nil, errors.NewValidationError(fmt.Sprintf("%q is not a backup artifact name", name), nil)
	}

	createdAt, err := time.ParseInLocation(artifactTimeLayout, m[3], loc)
	if err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("invalid timestamp in %q", name), err)
	}
	return &ArtifactInfo{
		Type:        snapshot.Type(m[1]),
		Schedule:    ScheduleType(m[2]),
		CreatedAt:   createdAt,
		Compression: CompressionFromExtension(m[4]),
	}, nil
}
