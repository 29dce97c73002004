package journal

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs background jobs on cron expressions. Jobs receive the
// scheduler's base context, canceled by Stop.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a Scheduler. Expressions use the standard five fields
// or descriptors such as "@every 5m".
func NewScheduler(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(),
		logger:  logger.Named("scheduler"),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Add registers job under name. An empty spec disables the job.
func (s *Scheduler) Add(name, spec string, job func(context.Context)) error {
	if spec == "" {
		s.logger.Info("Job disabled", zap.String("job", name))
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		l := s.logger.With(zap.String("job", name))
		l.Debug("Job started")
		job(s.baseCtx)
		l.Debug("Job finished")
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	s.logger.Info("Job scheduled", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}
