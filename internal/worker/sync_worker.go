// Package worker runs scheduled token reconciliation.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pegged-token/claimer/internal/logging"
	"github.com/pegged-token/claimer/internal/service"
	"github.com/robfig/cron/v3"
)

// Syncer runs one reconciliation pass
type Syncer interface {
	SyncTokens(ctx context.Context) (*service.SyncResult, error)
}

// SyncWorker runs SyncTokens on a cron schedule
type SyncWorker struct {
	syncer     Syncer
	schedule   string
	runTimeout time.Duration
	runOnStart bool
	cron       *cron.Cron

	mu         sync.RWMutex
	running    bool
	lastRun    time.Time
	lastResult *service.SyncResult
	lastErr    error
	runs       int
	failures   int
}

// SyncWorkerConfig holds configuration for a sync worker
type SyncWorkerConfig struct {
	Syncer     Syncer
	Schedule   string        // standard cron expression or descriptor such as "@every 1m"
	RunTimeout time.Duration // bound for a single pass (default: 2 minutes)
	RunOnStart bool          // run one pass immediately on Start
}

// WorkerStatus is a snapshot of the worker's progress
type WorkerStatus struct {
	Running    bool                `json:"running"`
	Schedule   string              `json:"schedule"`
	LastRun    time.Time           `json:"lastRun"`
	LastResult *service.SyncResult `json:"lastResult,omitempty"`
	LastError  string              `json:"lastError,omitempty"`
	Runs       int                 `json:"runs"`
	Failures   int                 `json:"failures"`
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(cfg *SyncWorkerConfig) (*SyncWorker, error) {
	if cfg.Syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}

	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "@every 1m"
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
	}

	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 2 * time.Minute
	}

	return &SyncWorker{
		syncer:     cfg.Syncer,
		schedule:   schedule,
		runTimeout: runTimeout,
		runOnStart: cfg.RunOnStart,
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{}),
			cron.SkipIfStillRunning(cronLogger{}),
		)),
	}, nil
}

// Start schedules reconciliation passes until Stop is called or ctx ends
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("sync worker is already running")
	}
	w.running = true
	w.mu.Unlock()

	if _, err := w.cron.AddFunc(w.schedule, func() { _, _ = w.RunOnce(ctx) }); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return fmt.Errorf("failed to schedule sync: %w", err)
	}

	logging.WithField("schedule", w.schedule).Info("Starting sync worker")
	w.cron.Start()

	if w.runOnStart {
		go func() { _, _ = w.RunOnce(ctx) }()
	}

	go func() {
		<-ctx.Done()
		_ = w.Stop(context.Background())
	}()

	return nil
}

// Stop halts the schedule and waits for an in-flight pass to finish
func (w *SyncWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("sync worker is not running")
	}
	w.running = false
	w.mu.Unlock()

	logging.Info("Stopping sync worker")
	done := w.cron.Stop()

	select {
	case <-done.Done():
		logging.Info("Sync worker stopped gracefully")
		return nil
	case <-ctx.Done():
		logging.Warn("Sync worker stop timed out")
		return ctx.Err()
	}
}

// RunOnce performs a single reconciliation pass
func (w *SyncWorker) RunOnce(ctx context.Context) (*service.SyncResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, w.runTimeout)
	defer cancel()

	start := time.Now()
	result, err := w.syncer.SyncTokens(runCtx)

	w.mu.Lock()
	w.lastRun = start
	w.runs++
	w.lastResult = result
	w.lastErr = err
	if err != nil {
		w.failures++
	}
	w.mu.Unlock()

	logger := logging.FromContext(ctx).WithField("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		logger.WithError(err).Error("Sync pass failed")
		return nil, err
	}

	logger = logger.WithField("outcome", result.Outcome)
	if result.Claim != nil {
		logger.WithFields(map[string]interface{}{
			"signature": result.Claim.Signature,
			"amount":    result.Claim.Amount,
		}).Info("Sync pass claimed tokens")
	} else {
		logger.Debug(result.Message)
	}
	return result, nil
}

// Status returns a snapshot of the worker's progress
func (w *SyncWorker) Status() WorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	status := WorkerStatus{
		Running:    w.running,
		Schedule:   w.schedule,
		LastRun:    w.lastRun,
		LastResult: w.lastResult,
		Runs:       w.runs,
		Failures:   w.failures,
	}
	if w.lastErr != nil {
		status.LastError = w.lastErr.Error()
	}
	return status
}

// cronLogger routes cron's internal logging through the application logger
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.WithFields(kvFields(keysAndValues)).Debug("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.WithFields(kvFields(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func kvFields(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
