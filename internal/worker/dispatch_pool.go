package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/innovasure/settlement-orchestrator/internal/models"
	"github.com/innovasure/settlement-orchestrator/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull   = errors.New("dispatch queue is full")
	ErrPoolStopped = errors.New("dispatch pool is stopped")
)

// Dispatcher performs a single payout attempt.
type Dispatcher interface {
	Dispatch(ctx context.Context, payoutID uuid.UUID) (*models.PayoutTransaction, error)
}

// DispatchPool runs payout attempts on a fixed number of goroutines fed by a
// bounded queue. Rows that do not fit in the queue stay pending.
type DispatchPool struct {
	dispatcher Dispatcher
	workers    int
	queue      chan uuid.UUID
	stopCh     chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
}

func NewDispatchPool(dispatcher Dispatcher, workers, queueSize int) *DispatchPool {
	return &DispatchPool{
		dispatcher: dispatcher,
		workers:    max(workers, 1),
		queue:      make(chan uuid.UUID, max(queueSize, 1)),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Submit enqueues a payout without blocking.
func (p *DispatchPool) Submit(_ context.Context, payoutID uuid.UUID) error {
	select {
	case <-p.stopCh:
		return ErrPoolStopped
	default:
	}
	select {
	case p.queue <- payoutID:
		observability.SetDispatchQueueDepth(len(p.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// Start blocks until the pool is stopped or ctx is canceled. In-flight
// attempts run to completion before it returns.
func (p *DispatchPool) Start(ctx context.Context) {
	defer close(p.done)
	zap.L().Info("dispatch pool starting", zap.Int("workers", p.workers), zap.Int("queue_size", cap(p.queue)))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-p.stopCh:
					return nil
				case id := <-p.queue:
					observability.SetDispatchQueueDepth(len(p.queue))
					p.dispatch(gctx, id)
				}
			}
		})
	}
	_ = g.Wait()
	zap.L().Info("dispatch pool stopped", zap.Int("abandoned", len(p.queue)))
}

// Stop signals the workers and waits for in-flight attempts.
func (p *DispatchPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	<-p.done
}

// Run starts the pool in a goroutine and returns a stop function.
func (p *DispatchPool) Run(ctx context.Context) func() {
	go p.Start(ctx)
	return p.Stop
}

func (p *DispatchPool) dispatch(ctx context.Context, id uuid.UUID) {
	row, err := p.dispatcher.Dispatch(ctx, id)
	switch {
	case err == nil:
		observability.IncrementWorkerRun("dispatch", "success")
		zap.L().Debug("payout attempt finished", zap.String("payout_id", id.String()), zap.String("status", row.Status))
	case errors.Is(err, domain.ErrDispatchInProgress), errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrAlreadyCompleted):
		observability.IncrementWorkerRun("dispatch", "skipped")
		zap.L().Debug("payout attempt skipped", zap.String("payout_id", id.String()), zap.Error(err))
	default:
		observability.IncrementWorkerRun("dispatch", "failed")
		zap.L().Error("payout attempt failed", zap.String("payout_id", id.String()), zap.Error(err))
	}
}
