package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fieldpad/syncengine/internal/logger"
	"github.com/fieldpad/syncengine/internal/netmon"
	"github.com/fieldpad/syncengine/internal/service"
)

// SyncWorker drives sync passes from three sources: a steady ticker, kick
// requests from the engine's mutation path, and offline-to-online
// transitions. Reconnect triggers go through a debounce window so flapping
// connectivity cannot cause a sync storm.
type SyncWorker struct {
	runner    SyncRunner
	monitor   netmon.Monitor
	interval  time.Duration
	debouncer *netmon.Debouncer
	logger    *logger.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	cancelWatch func()
	wg          sync.WaitGroup
}

// NewSyncWorker builds an idle worker. A non-positive interval defaults to
// five minutes; a non-positive debounce window to three seconds.
func NewSyncWorker(runner SyncRunner, monitor netmon.Monitor, interval, debounce time.Duration, logger *logger.Logger) *SyncWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if debounce <= 0 {
		debounce = 3 * time.Second
	}

	return &SyncWorker{
		runner:    runner,
		monitor:   monitor,
		interval:  interval,
		debouncer: netmon.NewDebouncer(debounce),
		logger:    logger,
	}
}

// Start stops any previously running instance, then launches the worker
// goroutine and registers the connectivity watch. The goroutine exits when
// ctx is cancelled or Stop is called.
func (w *SyncWorker) Start(ctx context.Context) {
	w.Stop()

	w.mu.Lock()
	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.cancelWatch = w.monitor.Watch(func(online bool) {
		if !online {
			return
		}
		w.debouncer.Trigger(func() {
			w.logger.Info().
				Str("func", "SyncWorker").
				Msg("connectivity restored, triggering sync")
			w.run(workerCtx)
		})
	})
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
				w.run(workerCtx)
			case <-w.runner.Kicks():
				w.run(workerCtx)
			}
		}
	}()
}

// Stop cancels the connectivity watch and the worker goroutine, blocking
// until the goroutine has fully exited. No-op when the worker is not running.
func (w *SyncWorker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	cancelWatch := w.cancelWatch
	w.cancel = nil
	w.cancelWatch = nil
	w.mu.Unlock()

	if cancelWatch != nil {
		cancelWatch()
	}
	w.debouncer.Stop()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

func (w *SyncWorker) run(ctx context.Context) {
	err := w.runner.RunPass(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, service.ErrOffline):
		w.logger.Debug().
			Str("func", "SyncWorker.run").
			Msg("skipping sync pass while offline")
	default:
		w.logger.Err(err).
			Str("func", "SyncWorker.run").
			Msg("background sync pass failed")
	}
}
