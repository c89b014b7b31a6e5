// Package scheduler drives periodic scheduled-rule passes.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/talentpipe/sentinel/engine"
	"github.com/talentpipe/sentinel/internal/logger"
)

// Runner is the slice of the dispatcher the ticker needs.
type Runner interface {
	RunScheduled(ctx context.Context, now time.Time) (engine.RunSummary, error)
}

// Config contains the ticker settings.
type Config struct {
	// Interval between scheduled passes (default: 1 hour)
	Interval time.Duration

	// RunTimeout bounds one pass; zero means no time box. An interrupted
	// pass leaves in-flight executions running for the stale report.
	RunTimeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: time.Hour,
	}
}

// Ticker periodically invokes the dispatcher's scheduled pass. Overlap with a
// slow previous pass is safe: the execution store's atomic claim is the only
// serialization the engine needs.
type Ticker struct {
	runner   Runner
	interval time.Duration
	timeout  time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger

	mu         sync.Mutex
	lastTickAt time.Time
	ticks      int64
}

// New creates a ticker with a parent context.
func New(ctx context.Context, runner Runner, cfg Config, logger *slog.Logger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if logger == nil {
		logger = slog.Default()
	}

	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		runner:   runner,
		interval: cfg.Interval,
		timeout:  cfg.RunTimeout,
		ctx:      tickerCtx,
		cancel:   cancel,
		logger:   logger,
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Info("scheduler started", "interval", t.interval)
}

// Stop gracefully stops the ticker and waits for an in-flight pass
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Info("scheduler stopped")
}

// LastTick returns when the last pass started and how many passes have run
func (t *Ticker) LastTick() (time.Time, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTickAt, t.ticks
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.ticks++
			t.mu.Unlock()

			t.runOnce(tickTime)
		}
	}
}

// runOnce executes one scheduled pass with the configured time box.
func (t *Ticker) runOnce(now time.Time) {
	ctx := t.ctx
	cancel := func() {}
	if t.timeout > 0 {
		ctx, cancel = context.WithTimeout(t.ctx, t.timeout)
	}
	defer cancel()

	started := time.Now()
	summary, err := t.runner.RunScheduled(ctx, now)
	elapsed := time.Since(started)

	if t.timeout > 0 && elapsed >= t.timeout {
		logger.WarnSlowRun()
		t.logger.Warn("scheduled pass exceeded its time box",
			"elapsed", elapsed, "timeout", t.timeout)
	}

	if err != nil {
		t.logger.Error("scheduled pass aborted",
			"error", err, "elapsed", elapsed,
			"rules", summary.Rules, "fired", summary.Fired)
		return
	}

	t.logger.Info("scheduled pass complete",
		"elapsed", elapsed,
		"rules", summary.Rules,
		"matched", summary.Matched,
		"fired", summary.Fired,
		"cooldown", summary.Cooldown,
		"failed", summary.Failed)
}
