package scheduler

import (
	"github.com/robfig/cron/v3"

	"github.com/trellis-pm/trellis/backend/internal/logger"
	"github.com/trellis-pm/trellis/backend/internal/services"
)

// Scheduler runs the periodic maintenance jobs: the nightly audit retention
// cleanup and the hourly assignment expiry sweep.
type Scheduler struct {
	cron          *cron.Cron
	audit         *services.AuditService
	roles         *services.RoleService
	retentionDays int
}

// New builds a scheduler around the maintenance jobs.
func New(audit *services.AuditService, roles *services.RoleService, retentionDays int) *Scheduler {
	return &Scheduler{
		cron:          cron.New(),
		audit:         audit,
		roles:         roles,
		retentionDays: retentionDays,
	}
}

// Start registers the jobs and begins the schedule.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("0 3 * * *", s.runRetention); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@hourly", s.runExpirySweep); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule, waiting for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) runRetention() {
	deleted, err := s.audit.CleanupOldLogs(s.retentionDays)
	if err != nil {
		logger.WithComponent("scheduler").WithError(err).Error("audit retention cleanup failed")
		return
	}
	logger.WithComponent("scheduler").WithField("deleted", deleted).Info("audit retention cleanup finished")
}

func (s *Scheduler) runExpirySweep() {
	swept, err := s.roles.DeactivateExpired()
	if err != nil {
		logger.WithComponent("scheduler").WithError(err).Error("assignment expiry sweep failed")
		return
	}
	if swept > 0 {
		logger.WithComponent("scheduler").WithField("swept", swept).Info("deactivated lapsed assignments")
	}
}
