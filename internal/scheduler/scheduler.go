// Package scheduler runs the recurring backup tasks and the retention
// sweep. The task registry is process-scoped state owned by one Scheduler
// instance; it is rebuilt from configuration on every start.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/isdelr/folio-vault-be/internal/apperrors"
	"github.com/isdelr/folio-vault-be/internal/models"
	"github.com/isdelr/folio-vault-be/internal/services"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// retentionInterval is how often the retention sweep runs.
const retentionInterval = 7 * 24 * time.Hour

// task is one scheduled backup job. The cron schedule and the timer
// goroutine are replaced wholesale on update; a running timer is never
// mutated in place.
type task struct {
	id       string
	spec     string
	schedule cron.Schedule
	typ      models.BackupType
	enabled  bool
	lastRun  *time.Time
	nextRun  *time.Time
	busy     bool // Previous firing still in flight; next firing no-ops.
	stop     chan struct{}
}

// TaskSummary is the admin-surface view of a scheduled task.
type TaskSummary struct {
	ID       string            `json:"id"`
	Schedule string            `json:"schedule"`
	Type     models.BackupType `json:"type"`
	Enabled  bool              `json:"enabled"`
	Running  bool              `json:"running"`
	LastRun  *time.Time        `json:"lastRun,omitempty"`
	NextRun  *time.Time        `json:"nextRun,omitempty"`
}

// TaskUpdate carries the mutable fields of a task; nil fields are unchanged.
type TaskUpdate struct {
	Schedule *string
	Type     *models.BackupType
	Enabled  *bool
}

// Scheduler owns the in-memory task registry, the per-task timers and the
// weekly retention sweep.
type Scheduler struct {
	backupSvc     services.BackupServiceProvider
	eventSvc      services.EventServiceProvider
	retentionDays int

	mu      sync.Mutex
	tasks   map[string]*task
	removed map[string]bool // Tombstones: a removed task id cannot come back.

	done chan bool
}

// NewScheduler creates a new Scheduler. retentionDays is the hard upper age
// bound the sweep enforces on automatic backups.
func NewScheduler(backupSvc services.BackupServiceProvider, eventSvc services.EventServiceProvider, retentionDays int) *Scheduler {
	return &Scheduler{
		backupSvc:     backupSvc,
		eventSvc:      eventSvc,
		retentionDays: retentionDays,
		tasks:         make(map[string]*task),
		removed:       make(map[string]bool),
		done:          make(chan bool),
	}
}

// Run starts the retention sweep loop. Task timers run independently and
// are started by CreateTask.
func (s *Scheduler) Run() {
	log.Info().Msg("Starting backup scheduler...")
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	// Run one sweep immediately on start
	s.runRetentionSweep()

	for {
		select {
		case <-s.done:
			log.Info().Msg("Stopping backup scheduler.")
			return
		case <-ticker.C:
			s.runRetentionSweep()
		}
	}
}

// Stop halts the retention loop and every active task timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for _, t := range s.tasks {
		s.deactivateLocked(t)
	}
	s.mu.Unlock()
	s.done <- true
}

// CreateTask registers a scheduled backup task and, if enabled, starts its
// timer. The cron expression is validated up front.
func (s *Scheduler) CreateTask(id, cronExpr string, backupType models.BackupType, enabled bool) error {
	if id == "" {
		return apperrors.Validation("task id is required")
	}
	if backupType != models.BackupTypeFull && backupType != models.BackupTypeIncremental {
		return apperrors.Validation("scheduled tasks support full or incremental backups, got %q", backupType)
	}
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return apperrors.InvalidSchedule("invalid cron expression %q: %v", cronExpr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed[id] {
		return apperrors.Validation("task id %q was removed and cannot be reused", id)
	}
	if _, exists := s.tasks[id]; exists {
		return apperrors.Validation("task id %q already exists", id)
	}

	t := &task{id: id, spec: cronExpr, schedule: schedule, typ: backupType, enabled: enabled}
	s.tasks[id] = t
	if enabled {
		s.activateLocked(t)
	}
	log.Info().Str("task_id", id).Str("cron", cronExpr).Str("type", string(backupType)).Bool("enabled", enabled).Msg("Scheduled task created")
	return nil
}

// ToggleTask enables or disables a task.
func (s *Scheduler) ToggleTask(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return apperrors.NotFound("task %q not found", id)
	}
	if t.enabled == enabled {
		return nil
	}
	if enabled {
		t.enabled = true
		s.activateLocked(t)
	} else {
		s.deactivateLocked(t)
		t.enabled = false
		t.nextRun = nil
	}
	return nil
}

// UpdateTask replaces a task's schedule, type or enabled flag. The running
// timer is always stopped before the mutation and restarted after.
func (s *Scheduler) UpdateTask(id string, update TaskUpdate) error {
	var schedule cron.Schedule
	if update.Schedule != nil {
		var err error
		schedule, err = cron.ParseStandard(*update.Schedule)
		if err != nil {
			return apperrors.InvalidSchedule("invalid cron expression %q: %v", *update.Schedule, err)
		}
	}
	if update.Type != nil && *update.Type != models.BackupTypeFull && *update.Type != models.BackupTypeIncremental {
		return apperrors.Validation("scheduled tasks support full or incremental backups, got %q", *update.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return apperrors.NotFound("task %q not found", id)
	}

	s.deactivateLocked(t)
	if update.Schedule != nil {
		t.spec = *update.Schedule
		t.schedule = schedule
	}
	if update.Type != nil {
		t.typ = *update.Type
	}
	if update.Enabled != nil {
		t.enabled = *update.Enabled
	}
	if t.enabled {
		s.activateLocked(t)
	} else {
		t.nextRun = nil
	}
	return nil
}

// RemoveTask stops and permanently removes a task. Removal is terminal; the
// id is tombstoned and a new task must use a fresh id.
func (s *Scheduler) RemoveTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return apperrors.NotFound("task %q not found", id)
	}
	s.deactivateLocked(t)
	delete(s.tasks, id)
	s.removed[id] = true
	log.Info().Str("task_id", id).Msg("Scheduled task removed")
	return nil
}

// ExecuteNow triggers a one-off backup of the given type, bypassing every
// schedule. The resulting backup is tagged as manual.
func (s *Scheduler) ExecuteNow(backupType models.BackupType, createdBy string) (models.Backup, error) {
	return s.runBackup(backupType, createdBy, false)
}

// GetStatus returns a summary for every registered task.
func (s *Scheduler) GetStatus() []TaskSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	summaries := make([]TaskSummary, 0, len(s.tasks))
	for _, t := range s.tasks {
		summaries = append(summaries, TaskSummary{
			ID:       t.id,
			Schedule: t.spec,
			Type:     t.typ,
			Enabled:  t.enabled,
			Running:  t.busy,
			LastRun:  t.lastRun,
			NextRun:  t.nextRun,
		})
	}
	return summaries
}

// activateLocked starts a fresh timer goroutine for a task. Caller holds mu.
func (s *Scheduler) activateLocked(t *task) {
	next := t.schedule.Next(time.Now())
	t.nextRun = &next
	stop := make(chan struct{})
	t.stop = stop

	go func() {
		for {
			s.mu.Lock()
			if t.nextRun == nil {
				s.mu.Unlock()
				return
			}
			wait := time.Until(*t.nextRun)
			s.mu.Unlock()

			timer := time.NewTimer(wait)
			select {
			case <-stop:
				timer.Stop()
				return
			case <-timer.C:
			}

			s.fire(t)
		}
	}()
}

// fire handles one timer firing: it launches the task's backup run unless
// the previous run is still in flight, and schedules the next firing.
// lastRun only moves when a run actually starts; a skipped firing is not a
// run.
func (s *Scheduler) fire(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.busy {
		log.Warn().Str("task_id", t.id).Msg("Scheduler: previous run still in flight, skipping firing")
	} else {
		t.busy = true
		now := time.Now()
		t.lastRun = &now
		go s.executeTask(t)
	}
	next := t.schedule.Next(time.Now())
	t.nextRun = &next
}

// deactivateLocked stops a task's timer goroutine. Caller holds mu.
func (s *Scheduler) deactivateLocked(t *task) {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

// executeTask runs one scheduled firing and clears the busy flag when done.
func (s *Scheduler) executeTask(t *task) {
	defer func() {
		s.mu.Lock()
		t.busy = false
		s.mu.Unlock()
	}()

	log.Info().Str("task_id", t.id).Str("type", string(t.typ)).Msg("Scheduler: executing backup task")
	if _, err := s.runBackup(t.typ, "scheduler:"+t.id, true); err != nil {
		log.Error().Err(err).Str("task_id", t.id).Msg("Scheduler: backup task failed")
		s.eventSvc.CreateEvent("schedule.execute.fail", "error",
			fmt.Sprintf("Scheduled backup task '%s' failed: %v", t.id, err), nil)
		return
	}
	s.eventSvc.CreateEvent("schedule.execute.success", "info",
		fmt.Sprintf("Scheduled backup task '%s' executed successfully.", t.id), nil)
}

// runBackup resolves the baseline timestamp for the backup type and invokes
// the backup engine. Baseline policy lives here, not in the engine: an
// incremental run is scoped to the latest completed backup of any type, a
// differential run to the latest completed full backup.
func (s *Scheduler) runBackup(backupType models.BackupType, createdBy string, isAutomatic bool) (models.Backup, error) {
	ctx := context.Background()

	params := services.CreateBackupParams{
		Type:        backupType,
		CreatedBy:   createdBy,
		IsAutomatic: isAutomatic,
		Retention:   models.BackupRetention{KeepDays: s.retentionDays, AutoCleanup: isAutomatic},
	}

	if backupType != models.BackupTypeFull {
		baselineType := models.BackupType("")
		if backupType == models.BackupTypeDifferential {
			baselineType = models.BackupTypeFull
		}
		baseline, err := s.backupSvc.LatestCompletedBackup(ctx, baselineType)
		if err != nil {
			return models.Backup{}, err
		}
		if baseline == nil {
			// No baseline exists yet; the first scoped run degrades to full.
			log.Info().Str("type", string(backupType)).Msg("Scheduler: no baseline backup found, running full backup instead")
			params.Type = models.BackupTypeFull
		} else {
			since := baseline.CreatedAt
			params.Since = &since
		}
	}

	return s.backupSvc.CreateBackup(ctx, params)
}

// runRetentionSweep applies the per-backup retention policy plus the hard
// age window to automatic backups.
func (s *Scheduler) runRetentionSweep() {
	hardWindow := time.Duration(s.retentionDays) * 24 * time.Hour
	deleted, err := s.backupSvc.RunRetention(context.Background(), hardWindow)
	if err != nil {
		log.Error().Err(err).Msg("Retention sweep failed")
		return
	}
	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("Retention sweep removed expired backups")
		s.eventSvc.CreateEvent("backup.cleanup", "info",
			fmt.Sprintf("Retention sweep removed %d expired backups.", deleted), nil)
	}
}
