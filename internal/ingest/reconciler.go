package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manual trigger bounds for the lookback block count.
const (
	ManualLookbackMin = 1
	ManualLookbackMax = 50000
)

var (
	ErrAlreadyArmed = errors.New("reconciler already armed")
	ErrNotArmed     = errors.New("reconciler not armed")
)

// SweepFunc re-scans the trailing lookback window across every connected
// network. The reconciler drives it; the service implements it.
type SweepFunc func(ctx context.Context, lookback uint64) error

// Status is the queryable arm state.
type Status struct {
	IsRunning bool      `json:"is_running"`
	LastRun   time.Time `json:"last_run"`
	NextRun   time.Time `json:"next_run"`
}

// Reconciler periodically re-runs backfill over a trailing block window to
// catch events missed while a live subscription was down. Two states: idle
// (no timers) and armed (one-shot delay timer plus recurring interval
// timer). Sweeps are idempotent end to end, so overlapping or repeated runs
// are safe.
type Reconciler struct {
	sweep    SweepFunc
	delay    time.Duration
	interval time.Duration
	lookback uint64
	logger   *zap.Logger

	mu      sync.Mutex
	armed   bool
	cancel  context.CancelFunc
	lastRun time.Time
	nextRun time.Time
}

// NewReconciler builds a Reconciler in the idle state.
func NewReconciler(sweep SweepFunc, delay, interval time.Duration, lookback uint64, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		sweep:    sweep,
		delay:    delay,
		interval: interval,
		lookback: lookback,
		logger:   logger,
	}
}

// Arm transitions idle -> armed: a one-shot timer fires after the
// configured delay, then a recurring timer fires every interval.
func (r *Reconciler) Arm(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.armed {
		return ErrAlreadyArmed
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.armed = true
	r.cancel = cancel
	r.nextRun = time.Now().Add(r.delay)

	go r.loop(runCtx)

	r.logger.Info("reconciler armed",
		zap.Duration("delay", r.delay),
		zap.Duration("interval", r.interval),
		zap.Uint64("lookback", r.lookback),
	)
	return nil
}

func (r *Reconciler) loop(ctx context.Context) {
	timer := time.NewTimer(r.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		r.fire(ctx)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.fire(ctx)
		}
	}
}

func (r *Reconciler) fire(ctx context.Context) {
	r.mu.Lock()
	r.lastRun = time.Now()
	r.nextRun = r.lastRun.Add(r.interval)
	lookback := r.lookback
	r.mu.Unlock()

	if err := r.sweep(ctx, lookback); err != nil {
		r.logger.Error("reconciliation sweep failed", zap.Error(err))
	}
}

// TriggerManual runs one sweep with an explicit lookback, independent of
// the timers and of any sweep already in flight. Unlike scheduled sweeps,
// failures propagate to the caller.
func (r *Reconciler) TriggerManual(ctx context.Context, blockCount uint64) error {
	if blockCount < ManualLookbackMin || blockCount > ManualLookbackMax {
		return fmt.Errorf("block count must be between %d and %d, got %d", ManualLookbackMin, ManualLookbackMax, blockCount)
	}

	r.mu.Lock()
	r.lastRun = time.Now()
	r.mu.Unlock()

	r.logger.Info("manual reconciliation triggered", zap.Uint64("lookback", blockCount))
	return r.sweep(ctx, blockCount)
}

// Stop transitions armed -> idle, cancelling both timers.
func (r *Reconciler) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.armed {
		return ErrNotArmed
	}
	r.cancel()
	r.armed = false
	r.nextRun = time.Time{}
	r.logger.Info("reconciler stopped")
	return nil
}

// Status reports the arm state. IsRunning tracks armed-ness, not whether a
// sweep is executing at this instant.
func (r *Reconciler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		IsRunning: r.armed,
		LastRun:   r.lastRun,
		NextRun:   r.nextRun,
	}
}
