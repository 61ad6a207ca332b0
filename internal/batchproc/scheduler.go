package batchproc

import (
	"context"
	"sync"
	"time"

	"github.com/address-scanner/internal/logging"
)

// Scheduler ticks at a fixed interval and invokes a Processor's
// ProcessBatch directly and synchronously on its own goroutine — never
// spawning a new one per tick — so the processor's own single-flight
// latch, not a second flag here, is what drops overlapping triggers.
// Spawning a goroutine per tick would open a time-of-check-to-time-of-use
// window between reading IsRunning and calling ProcessBatch; calling it
// straight from the ticker loop closes that window entirely.
type Scheduler struct {
	interval               time.Duration
	processor              *Processor
	enabled                bool
	maxConsecutiveFailures int

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewScheduler builds a Scheduler over processor. enabled mirrors
// batch.prefetch-enabled: when false, Start is a no-op.
// maxConsecutiveFailures is the opt-in safety valve from
// BATCH_MAX_CONSECUTIVE_FAILURES: once the processor's metrics report
// that many consecutive block failures, the scheduler skips its next
// tick rather than kicking off another doomed run. 0 disables the check.
func NewScheduler(interval time.Duration, processor *Processor, enabled bool, maxConsecutiveFailures int) *Scheduler {
	return &Scheduler{
		interval:               interval,
		processor:              processor,
		enabled:                enabled,
		maxConsecutiveFailures: maxConsecutiveFailures,
	}
}

// Start launches the ticker loop in a background goroutine. Calling
// Start twice without an intervening Stop is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.enabled {
		logging.Info("scheduler disabled by configuration, not starting")
		return
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})
	s.mu.Unlock()

	go s.run(loopCtx)
}

// Stop cancels the ticker loop and waits for the in-flight tick, if any,
// to observe the cancellation. It does not itself request the processor
// stop a batch already underway; call Processor.RequestStop for that.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopped := s.stopped
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.processor.metrics.ShouldStopDueToFailures(s.maxConsecutiveFailures) {
				logging.WithField("threshold", s.maxConsecutiveFailures).
					Warn("skipping scheduled run: consecutive failure threshold reached")
				continue
			}
			if err := s.processor.ProcessBatch(ctx); err != nil {
				logging.ErrorWithErr("scheduled batch returned an error", err)
			}
		}
	}
}
