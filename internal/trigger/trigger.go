package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"mailfred-go/internal/config"
	"mailfred-go/internal/service"
)

const stopTimeout = 30 * time.Second

// Runner performs one processing run over all due schedules.
type Runner interface {
	RunDueProcessing(ctx context.Context, now time.Time) (*service.RunSummary, error)
}

// Trigger fires due-schedule processing periodically
type Trigger struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	config    *config.SchedulerConfig
	runner    Runner
	now       func() time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	runMu     sync.Mutex
	isRunning bool
	last      *service.RunSummary
	mu        sync.RWMutex
}

// New creates a trigger that is not yet started
func New(cfg *config.SchedulerConfig, runner Runner) *Trigger {
	return &Trigger{
		config: cfg,
		runner: runner,
		now:    time.Now,
	}
}

// Start schedules processing every IntervalMinutes minutes
func (t *Trigger) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.isRunning {
		return fmt.Errorf("trigger is already running")
	}
	if t.config.IntervalMinutes <= 0 {
		return fmt.Errorf("invalid interval: %d minutes", t.config.IntervalMinutes)
	}

	logger := cron.VerbosePrintfLogger(logrus.StandardLogger())
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	spec := fmt.Sprintf("0 */%d * * * *", t.config.IntervalMinutes)
	entryID, err := c.AddFunc(spec, t.tick)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.cron = c
	t.entryID = entryID
	c.Start()
	t.isRunning = true

	logrus.Infof("Processing trigger started with interval: %d minutes", t.config.IntervalMinutes)
	return nil
}

// Stop cancels an in-flight run and waits for it to return. The lock is
// released before waiting since the run stores its summary under it.
func (t *Trigger) Stop() error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	cancel, c := t.cancel, t.cron
	t.mu.Unlock()

	cancel()
	done := c.Stop()

	select {
	case <-done.Done():
		logrus.Info("Processing trigger stopped gracefully")
	case <-time.After(stopTimeout):
		logrus.Warn("Processing trigger stop timeout, forcing shutdown")
	}
	return nil
}

// IsRunning returns whether the trigger is started
func (t *Trigger) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.isRunning
}

func (t *Trigger) tick() {
	t.mu.RLock()
	if !t.isRunning {
		t.mu.RUnlock()
		return
	}
	ctx := t.ctx
	t.mu.RUnlock()

	if _, err := t.run(ctx); err != nil {
		logrus.WithError(err).Error("Scheduled processing run failed")
	}
}

// RunOnce performs a processing run outside the cron schedule. Runs never
// overlap: a manual run waits for a scheduled one and vice versa.
func (t *Trigger) RunOnce(ctx context.Context) (*service.RunSummary, error) {
	logrus.Info("Running due processing once")
	return t.run(ctx)
}

func (t *Trigger) run(ctx context.Context) (*service.RunSummary, error) {
	t.wg.Add(1)
	defer t.wg.Done()

	t.runMu.Lock()
	defer t.runMu.Unlock()

	summary, err := t.runner.RunDueProcessing(ctx, t.now())
	if err != nil {
		return summary, err
	}

	t.mu.Lock()
	t.last = summary
	t.mu.Unlock()
	return summary, nil
}

// GetNextRun returns the time of the next scheduled run
func (t *Trigger) GetNextRun() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.isRunning {
		return time.Time{}
	}
	return t.cron.Entry(t.entryID).Next
}

// GetLastRun returns the time of the last scheduled run
func (t *Trigger) GetLastRun() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.isRunning {
		return time.Time{}
	}
	return t.cron.Entry(t.entryID).Prev
}

// LastSummary returns the summary of the most recent completed run, if any.
func (t *Trigger) LastSummary() *service.RunSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// Wait blocks until in-flight runs have returned
func (t *Trigger) Wait() {
	t.wg.Wait()
}
