package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/talentpipe/sentinel/engine"
	"github.com/talentpipe/sentinel/internal/logger"
)

type countingRunner struct {
	mu    sync.Mutex
	runs  int
	err   error
	block time.Duration
	last  time.Time
}

func (r *countingRunner) RunScheduled(ctx context.Context, now time.Time) (engine.RunSummary, error) {
	if r.block > 0 {
		select {
		case <-time.After(r.block):
		case <-ctx.Done():
			return engine.RunSummary{}, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
	r.last = now
	return engine.RunSummary{Rules: 1}, r.err
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

func TestTickerRunsPeriodically(t *testing.T) {
	runner := &countingRunner{}
	ticker := New(context.Background(), runner, Config{Interval: 10 * time.Millisecond}, nil)

	ticker.Start()
	time.Sleep(55 * time.Millisecond)
	ticker.Stop()

	runs := runner.count()
	if runs < 2 {
		t.Errorf("runner invoked %d times in ~55ms at 10ms interval, want at least 2", runs)
	}

	lastAt, ticks := ticker.LastTick()
	if ticks < int64(runs) {
		t.Errorf("LastTick() ticks = %d, want at least %d", ticks, runs)
	}
	if lastAt.IsZero() {
		t.Error("LastTick() time is zero after passes ran")
	}
}

func TestTickerStopIsIdempotentAndFinal(t *testing.T) {
	runner := &countingRunner{}
	ticker := New(context.Background(), runner, Config{Interval: 5 * time.Millisecond}, nil)

	ticker.Start()
	time.Sleep(20 * time.Millisecond)
	ticker.Stop()

	stopped := runner.count()
	time.Sleep(20 * time.Millisecond)

	if got := runner.count(); got != stopped {
		t.Errorf("runner invoked %d times after Stop(), want no more than the %d before", got, stopped)
	}
}

func TestTickerSurvivesRunnerErrors(t *testing.T) {
	runner := &countingRunner{err: errors.New("store unavailable")}
	ticker := New(context.Background(), runner, Config{Interval: 10 * time.Millisecond}, nil)

	ticker.Start()
	time.Sleep(45 * time.Millisecond)
	ticker.Stop()

	if runner.count() < 2 {
		t.Errorf("runner invoked %d times, want the loop to continue past errors", runner.count())
	}
}

func TestTickerRunTimeoutBoundsThePass(t *testing.T) {
	runner := &countingRunner{block: time.Second}
	ticker := New(context.Background(), runner, Config{
		Interval:   10 * time.Millisecond,
		RunTimeout: 20 * time.Millisecond,
	}, nil)

	ticker.Start()
	time.Sleep(80 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		ticker.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Stop() blocked on a pass that should have been time-boxed")
	}
}

func TestTickerCountsSlowRuns(t *testing.T) {
	runner := &countingRunner{block: 100 * time.Millisecond}
	ticker := New(context.Background(), runner, Config{
		Interval:   10 * time.Millisecond,
		RunTimeout: 20 * time.Millisecond,
	}, nil)

	before := logger.SlowRuns.Load()
	ticker.Start()
	time.Sleep(60 * time.Millisecond)
	ticker.Stop()

	if got := logger.SlowRuns.Load(); got <= before {
		t.Errorf("SlowRuns = %d after time-boxed passes, want more than %d", got, before)
	}
}

func TestTickerParentContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &countingRunner{}
	ticker := New(ctx, runner, Config{Interval: 5 * time.Millisecond}, nil)

	ticker.Start()
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	stopped := runner.count()
	time.Sleep(20 * time.Millisecond)
	if got := runner.count(); got != stopped {
		t.Errorf("runner kept running after parent context cancellation")
	}

	ticker.Stop()
}
