package backup

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/log"
)

// Runner is what the scheduler drives. Backups go through the application
// layer so they take the same per-memory write lock as ingestions.
type Runner interface {
	ListMemories(ctx context.Context) ([]domain.Memory, error)
	CreateBackup(ctx context.Context, memoryID string) (*Manifest, error)
}

// Scheduler runs periodic backups of every memory on a cron expression.
type Scheduler struct {
	runner Runner
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler wires the cron job. An empty schedule disables it.
func NewScheduler(runner Runner, schedule string) (*Scheduler, error) {
	s := &Scheduler{runner: runner, logger: log.WithModule("backup")}
	if schedule == "" {
		return s, nil
	}

	s.cron = cron.New()
	_, err := s.cron.AddFunc(schedule, s.runAll)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Start launches the cron loop. No-op when no schedule was configured.
func (s *Scheduler) Start() {
	if s.cron != nil {
		s.cron.Start()
	}
}

// Stop halts the cron loop, waiting for a running backup to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Scheduler) runAll() {
	ctx := context.Background()
	memories, err := s.runner.ListMemories(ctx)
	if err != nil {
		s.logger.Error("scheduled backup could not list memories", "error", err)
		return
	}
	for _, memory := range memories {
		if _, err := s.runner.CreateBackup(ctx, memory.ID); err != nil {
			s.logger.Error("scheduled backup failed", "memory_id", memory.ID, "error", err)
		}
	}
}
