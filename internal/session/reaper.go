package session

import (
	"context"
	"time"

	"fleetgate/internal/logging"
)

// Closer is the one registry operation the reaper needs.
type Closer interface {
	CloseConnection(id int64)
}

// Reaper periodically evicts sessions that never completed authentication.
// It runs independently of inbound traffic; eviction is the only recovery
// path for connections stuck in a failed handshake.
type Reaper[R Record] struct {
	table    *Table[R]
	closer   Closer
	interval time.Duration
	maxAge   time.Duration
	log      *logging.Logger
}

func NewReaper[R Record](table *Table[R], closer Closer, interval, maxAge time.Duration, log *logging.Logger) *Reaper[R] {
	return &Reaper[R]{
		table:    table,
		closer:   closer,
		interval: interval,
		maxAge:   maxAge,
		log:      log,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *Reaper[R]) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

// Sweep marks every session past the unauthenticated age threshold, then
// evicts the marked sessions and closes their connections. Returns the
// number of sessions evicted.
func (r *Reaper[R]) Sweep(now time.Time) int {
	marked := r.table.expired(now, r.maxAge)
	evicted := 0
	for _, id := range marked {
		if !r.table.deleteExpired(id, now, r.maxAge) {
			continue
		}
		r.closer.CloseConnection(id)
		evicted++
	}
	if evicted > 0 {
		r.log.Info("evicted %d unauthenticated session(s)", evicted)
	}
	return evicted
}
