package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/quorumlabs/slotqueue/internal/config"
	"github.com/quorumlabs/slotqueue/internal/queue"
)

// Worker periodically sweeps the queue: it evicts the top entry once it
// has overstayed the maximum top wait and, when configured, activates
// the next proposal as soon as the slot is free.
type Worker struct {
	manager      *Manager
	interval     time.Duration
	autoActivate bool
	operator     common.Address
	cancel       context.CancelFunc
	logger       log.Logger
}

// NewWorker creates the background sweeper.
func NewWorker(m *Manager, cfg *config.WorkerConfig) *Worker {
	return &Worker{
		manager:      m,
		interval:     cfg.SweepInterval,
		autoActivate: cfg.AutoActivate,
		operator:     common.HexToAddress(cfg.Operator),
		logger:       log.New("module", "sweeper"),
	}
}

// Start begins the sweep loop. Runs until the context is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Sweeper started",
		"interval", w.interval,
		"autoActivate", w.autoActivate,
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Sweeper stopped")
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// Stop halts the sweep loop.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Worker) sweep() {
	q := w.manager.Queue()

	if id, ok := q.PeekMaxID(); ok {
		err := w.manager.EvictTimedOut(id, w.operator)
		switch {
		case err == nil:
			w.logger.Warn("Evicted timed-out proposal", "id", id)
		case errors.Is(err, queue.ErrNotTimedOut),
			errors.Is(err, queue.ErrProposalNotFound),
			errors.Is(err, queue.ErrNotAtTop):
			// Nothing stuck, or the top moved under us.
		default:
			w.logger.Error("Timeout sweep failed", "id", id, "err", err)
		}
	}

	if !w.autoActivate {
		return
	}
	if q.IsSlotLive() || q.IsEmpty() {
		return
	}
	p, err := w.manager.Activate(w.operator)
	if err != nil {
		if !errors.Is(err, ErrSlotLive) && !errors.Is(err, ErrNothingQueued) {
			w.logger.Error("Auto-activation failed", "err", err)
		}
		return
	}
	w.logger.Info("Auto-activated proposal", "id", p.ID, "fee", p.Fee)
}
