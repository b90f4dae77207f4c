// Copyright 2024-2026 Aiku AI

package mirror

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Watchdog is a liveness observer: every pipeline event reschedules a
// single outstanding deadline timer, and if the timer ever fires
// uncancelled the restart callback is invoked exactly once. Cancel and
// reschedule happen under one mutex so a concurrent event and a firing
// timer cannot race into a double arm.
type Watchdog struct {
	log       zerolog.Logger
	threshold time.Duration
	onTimeout func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	once    sync.Once
}

// NewWatchdog arms the deadline immediately.
func NewWatchdog(threshold time.Duration, onTimeout func(), log zerolog.Logger) *Watchdog {
	w := &Watchdog{
		log:       log.With().Str("component", "watchdog").Logger(),
		threshold: threshold,
		onTimeout: onTimeout,
	}
	w.timer = time.AfterFunc(threshold, w.fire)
	return w
}

// Run consumes the subscription until it completes or ctx is canceled,
// resetting the deadline on every event.
func (w *Watchdog) Run(ctx context.Context, sub *Subscription) {
	defer w.Stop()
	for {
		evt, ok := sub.Next(ctx)
		if !ok {
			w.log.Debug().Msg("Subscription completed, watchdog disarmed")
			return
		}
		w.log.Debug().Stringer("type", evt.Type).Msg("Event observed, resetting deadline")
		w.reset()
	}
}

func (w *Watchdog) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.timer.Stop()
	w.timer.Reset(w.threshold)
}

// Stop disarms the watchdog permanently.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.timer.Stop()
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()
	w.once.Do(func() {
		WatchdogTimeouts.Inc()
		w.log.Error().Dur("threshold", w.threshold).Msg("No events within threshold, requesting restart")
		w.onTimeout()
	})
}
