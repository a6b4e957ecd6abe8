package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule runs the feed every weekday evening after both exchanges
// publish.
const DefaultSchedule = "30 18 * * 1-5"

// Job is the work a Scheduler triggers.
type Job func(ctx context.Context) error

// Scheduler triggers a Job on a cron schedule. Overlapping triggers are
// skipped while a run is still in progress.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewScheduler parses spec (standard five fields) in loc and registers job.
// ctx is handed to every run.
func NewScheduler(ctx context.Context, spec string, loc *time.Location, job Job, logger *zap.Logger) (*Scheduler, error) {
	if job == nil {
		return nil, fmt.Errorf("scheduler job is required")
	}
	if spec == "" {
		spec = DefaultSchedule
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	_, err := c.AddFunc(spec, func() {
		start := time.Now()
		logger.Info("scheduled run starting", zap.String("schedule", spec))
		if err := job(ctx); err != nil {
			logger.Error("scheduled run failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
			return
		}
		logger.Info("scheduled run finished", zap.Duration("elapsed", time.Since(start)))
	})
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c, logger: logger}, nil
}

// Start begins triggering in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.logger.Info("feed scheduled", zap.Time("next_run", e.Next))
	}
}

// Stop halts triggering and returns a context that is done once any running
// job has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
