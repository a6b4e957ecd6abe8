package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RescanJob performs one rescan and returns its summary.
type RescanJob func(ctx context.Context) (any, error)

// RescanStatus describes the current or most recent rescan.
type RescanStatus struct {
	Running    bool       `json:"running"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// RescanTrigger runs at most one rescan at a time in the background.
type RescanTrigger struct {
	base   context.Context
	job    RescanJob
	logger *zap.Logger

	mu     sync.Mutex
	status RescanStatus
	wg     sync.WaitGroup
}

// NewRescanTrigger binds job to base, which bounds every background run.
func NewRescanTrigger(base context.Context, job RescanJob, logger *zap.Logger) *RescanTrigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RescanTrigger{base: base, job: job, logger: logger}
}

// Start launches a rescan unless one is running. It reports whether a new
// run started.
func (t *RescanTrigger) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Running {
		return false
	}
	now := time.Now()
	t.status = RescanStatus{Running: true, StartedAt: &now}
	t.wg.Add(1)
	go t.run()
	return true
}

func (t *RescanTrigger) run() {
	defer t.wg.Done()
	var (
		result any
		err    error
	)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("rescan panic: %v", rec)
			}
		}()
		result, err = t.job(t.base)
	}()

	finished := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Running = false
	t.status.FinishedAt = &finished
	t.status.Result = result
	t.status.Error = ""
	if err != nil {
		t.status.Error = err.Error()
		t.logger.Error("rescan failed", zap.Error(err))
		return
	}
	t.logger.Info("rescan finished", zap.Any("result", result))
}

// Status returns a snapshot of the current or last run.
func (t *RescanTrigger) Status() RescanStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Wait blocks until any in-flight rescan returns.
func (t *RescanTrigger) Wait() {
	t.wg.Wait()
}
