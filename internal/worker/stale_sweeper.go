package worker

import (
	"context"
	"sync"
	"time"

	"github.com/innovasure/settlement-orchestrator/internal/observability"
	"go.uber.org/zap"
)

// StaleRecoverer parks abandoned in_progress payouts.
type StaleRecoverer interface {
	RecoverStale(ctx context.Context, limit int32) (int, error)
}

// StaleSweeper periodically moves payouts whose dispatcher died mid-attempt
// into reconciliation.
type StaleSweeper struct {
	recoverer StaleRecoverer
	interval  time.Duration
	batchSize int32
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewStaleSweeper(recoverer StaleRecoverer) *StaleSweeper {
	return &StaleSweeper{
		recoverer: recoverer,
		interval:  time.Minute,
		batchSize: 50,
		stopCh:    make(chan struct{}),
	}
}

func (w *StaleSweeper) WithInterval(interval time.Duration) *StaleSweeper {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

func (w *StaleSweeper) WithBatchSize(size int32) *StaleSweeper {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and sweeps at the configured interval.
func (w *StaleSweeper) Start(ctx context.Context) {
	zap.L().Info("stale payout sweeper starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.SweepOnce(ctx)
		}
	}
}

func (w *StaleSweeper) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the sweeper in a goroutine and returns a stop function.
func (w *StaleSweeper) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// SweepOnce runs a single pass.
func (w *StaleSweeper) SweepOnce(ctx context.Context) {
	n, err := w.recoverer.RecoverStale(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("stale_sweeper", "failed")
		zap.L().Error("stale payout sweep failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("stale_sweeper", "success")
	if n > 0 {
		zap.L().Info("stale payout sweep recovered rows", zap.Int("count", n))
	}
}
