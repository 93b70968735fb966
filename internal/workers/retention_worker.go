package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fieldpad/syncengine/internal/logger"
)

// RetentionWorker runs the retention sweep on a fixed cadence.
type RetentionWorker struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRetentionWorker builds an idle worker. A non-positive interval defaults
// to one hour.
func NewRetentionWorker(sweeper Sweeper, interval time.Duration, logger *logger.Logger) *RetentionWorker {
	if interval <= 0 {
		interval = time.Hour
	}

	return &RetentionWorker{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
	}
}

// Start stops any previously running instance and launches the sweep loop.
func (w *RetentionWorker) Start(ctx context.Context) {
	w.Stop()

	w.mu.Lock()
	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		t := time.NewTicker(w.interval)
		defer t.Stop()

		for {
			select {
			case <-workerCtx.Done():
				return
			case <-t.C:
				if err := w.sweeper.Sweep(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
					w.logger.Err(err).
						Str("func", "RetentionWorker").
						Msg("retention sweep failed")
				}
			}
		}
	}()
}

// Stop cancels the sweep loop and blocks until it has exited. Safe to call
// when the worker is not running.
func (w *RetentionWorker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}
