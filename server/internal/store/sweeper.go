package store

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically removes dead entries from a Store so memory is
// reclaimed even when nobody is reading.
type Sweeper struct {
	store    *Store
	interval time.Duration

	// OnSweep, if set, is called after every timer-driven sweep with the
	// number of entries removed.
	OnSweep func(removed int)
}

// NewSweeper creates a Sweeper that sweeps st every interval
// (minimum 1 second).
func NewSweeper(st *Store, interval time.Duration) *Sweeper {
	if interval < time.Second {
		interval = time.Second
	}
	return &Sweeper{store: st, interval: interval}
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n := w.store.Sweep(now, w.store.MaxAge())
			if n > 0 {
				slog.Debug("store: swept stale entries", "count", n)
			}
			if w.OnSweep != nil {
				w.OnSweep(n)
			}
		}
	}
}
