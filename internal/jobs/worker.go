package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// maxErrorBackoff caps how far polling slows down while ProcessJobs keeps failing
const maxErrorBackoff = time.Minute

// JobProcessor handles one batch of claimed jobs per call
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker polls a JobProcessor. The first batch runs right away, then every
// pollInterval. While ProcessJobs returns errors, typically because the
// database is down, the delay grows exponentially up to a minute and snaps
// back after the next success.
type Worker struct {
	processor    JobProcessor
	pollInterval time.Duration
	logger       *zap.Logger
	errBackoff   *backoff.ExponentialBackOff
	stopOnce     sync.Once
	stopChan     chan struct{}
	doneChan     chan struct{}
}

func NewWorker(processor JobProcessor, pollInterval time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}

	errBackoff := backoff.NewExponentialBackOff()
	errBackoff.InitialInterval = pollInterval
	errBackoff.MaxInterval = maxErrorBackoff
	errBackoff.Multiplier = 2
	errBackoff.MaxElapsedTime = 0
	errBackoff.Reset()

	return &Worker{
		processor:    processor,
		pollInterval: pollInterval,
		logger:       logger,
		errBackoff:   errBackoff,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled or Stop is called
func (w *Worker) Start(ctx context.Context) {
	defer close(w.doneChan)

	w.logger.Info("worker started", zap.Duration("poll_interval", w.pollInterval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped: context cancelled")
			return
		case <-w.stopChan:
			w.logger.Info("worker stopped: stop signal received")
			return
		case <-timer.C:
			timer.Reset(w.poll(ctx))
		}
	}
}

// poll runs one batch and returns the delay before the next
func (w *Worker) poll(ctx context.Context) time.Duration {
	if err := w.processor.ProcessJobs(ctx); err != nil {
		delay := w.errBackoff.NextBackOff()
		w.logger.Error("error processing jobs", zap.Error(err), zap.Duration("retry_in", delay))
		return delay
	}
	w.errBackoff.Reset()
	return w.pollInterval
}

// Stop ends the loop and waits for the batch in flight. It must only be
// called after Start, and may be called more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.doneChan
	w.logger.Info("worker shutdown complete")
}
