package backup

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"lims-backup/internal/errors"
	"lims-backup/internal/logging"
	"lims-backup/internal/snapshot"

	"github.com/robfig/cron/v3"
)

// Default cron specs, in the scheduler's local time.
const (
	DefaultDailySpec   = "0 2 * * *"
	DefaultWeeklySpec  = "0 3 * * 0"
	DefaultMonthlySpec = "0 4 1 * *"
)

// ScheduleConfig maps each schedule to a five-field cron spec. An empty spec
// disables that schedule.
type ScheduleConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Type          snapshot.Type `mapstructure:"type" yaml:"type"`
	Daily         string        `mapstructure:"daily" yaml:"daily"`
	Weekly        string        `mapstructure:"weekly" yaml:"weekly"`
	Monthly       string        `mapstructure:"monthly" yaml:"monthly"`
	RetentionDays int           `mapstructure:"retention_days" yaml:"retention_days"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SetDefaults fills unset fields.
func (sc *ScheduleConfig) SetDefaults() {
	if sc.Type == "" {
		sc.Type = snapshot.TypeFull
	}
	if sc.Daily == "" && sc.Weekly == "" && sc.Monthly == "" {
		sc.Daily = DefaultDailySpec
		sc.Weekly = DefaultWeeklySpec
		sc.Monthly = DefaultMonthlySpec
	}
	if sc.Timeout == 0 {
		sc.Timeout = time.Hour
	}
}

// Validate checks the snapshot type and every cron spec.
func (sc *ScheduleConfig) Validate() error {
	var errs []error
	if _, err := snapshot.ParseType(string(sc.Type)); err != nil {
		errs = append(errs, err)
	}
	for schedule, spec := range sc.specs() {
		if _, err := parseCronSchedule(spec); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s schedule %q: %w", schedule, spec, err))
		}
	}
	if sc.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("schedule retention_days must not be negative"))
	}
	return stderrors.Join(errs...)
}

func (sc *ScheduleConfig) specs() map[ScheduleType]string {
	specs := map[ScheduleType]string{}
	if sc.Daily != "" {
		specs[ScheduleDaily] = sc.Daily
	}
	if sc.Weekly != "" {
		specs[ScheduleWeekly] = sc.Weekly
	}
	if sc.Monthly != "" {
		specs[ScheduleMonthly] = sc.Monthly
	}
	return specs
}

func parseCronSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(strings.TrimSpace(expr))
}

// SnapshotCreator is the part of Manager the scheduler drives.
type SnapshotCreator interface {
	CreateSnapshot(ctx context.Context, req CreateRequest) (*CreateResult, error)
}

// ScheduledJob describes one registered schedule.
type ScheduledJob struct {
	Schedule ScheduleType `json:"schedule"`
	Spec     string       `json:"spec"`
	Next     time.Time    `json:"next"`
}

// Scheduler runs snapshot jobs on cron schedules.
type Scheduler struct {
	creator SnapshotCreator
	config  ScheduleConfig
	logger  *logging.Logger

	cron *cron.Cron
	mu   sync.Mutex
	jobs map[ScheduleType]cron.EntryID
	ctx  context.Context
}

// NewScheduler registers a job per configured schedule. Jobs run only after Start.
func NewScheduler(creator SnapshotCreator, config ScheduleConfig, logger *logging.Logger) (*Scheduler, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.NewValidationError("invalid schedule configuration", err)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	s := &Scheduler{
		creator: creator,
		config:  config,
		logger:  logger,
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		jobs: map[ScheduleType]cron.EntryID{},
		ctx:  context.Background(),
	}

	for schedule, spec := range config.specs() {
		schedule := schedule
		id, err := s.cron.AddFunc(spec, func() { s.run(schedule) })
		if err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("failed to register %s schedule", schedule), err)
		}
		s.jobs[schedule] = id
	}
	return s, nil
}

// Start runs the cron loop until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	for _, job := range s.Jobs() {
		s.logger.WithFields(map[string]interface{}{
			"schedule": job.Schedule,
			"spec":     job.Spec,
			"next":     job.Next.Format(time.RFC3339),
		}).Info("Backup schedule registered")
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Jobs returns the registered schedules ordered by their next run.
func (s *Scheduler) Jobs() []ScheduledJob {
	specs := s.config.specs()
	var jobs []ScheduledJob
	for _, entry := range s.cron.Entries() {
		for schedule, id := range s.jobs {
			if id != entry.ID {
				continue
			}
			next := entry.Next
			if next.IsZero() {
				next = entry.Schedule.Next(time.Now())
			}
			jobs = append(jobs, ScheduledJob{Schedule: schedule, Spec: specs[schedule], Next: next})
		}
	}
	return jobs
}

// RunNow executes the job for schedule immediately.
func (s *Scheduler) RunNow(ctx context.Context, schedule ScheduleType) (*CreateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	return s.creator.CreateSnapshot(ctx, CreateRequest{
		Type:          s.config.Type,
		Schedule:      schedule,
		RetentionDays: s.config.RetentionDays,
		CreatedBy:     "scheduler",
	})
}

func (s *Scheduler) run(schedule ScheduleType) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	entry := s.logger.WithField("schedule", schedule)
	result, err := s.RunNow(ctx, schedule)
	if err != nil {
		entry.WithError(err).Error("Scheduled backup failed")
		return
	}
	entry.WithFields(map[string]interface{}{
		"file": result.File,
		"size": result.Size,
	}).Info("Scheduled backup completed")
}
