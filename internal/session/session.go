// Package session holds the per-population table of live connection state and
// the sweep that evicts connections stuck unauthenticated. Both are generic
// over the population's record type so device and operator orchestrators
// share one implementation.
package session

import (
	"sync"
	"time"
)

// Record is the capability set the table and reaper need from a session.
type Record interface {
	Authenticated() bool
	ConnectedAt() time.Time
}

// State is the connection-tracking core embedded by both populations'
// session records. All access goes through the owning Table's lock.
type State struct {
	ID            int64
	AcceptedAt    time.Time
	RemoteIP      string     // empty if the socket closed mid-handshake
	Thumbprint    string     // empty if no client certificate was presented
	LastMessageAt time.Time  // zero until the first dispatched message
	Received      int64
	Sent          int64
	Auth          bool
}

func (s *State) Authenticated() bool    { return s.Auth }
func (s *State) ConnectedAt() time.Time { return s.AcceptedAt }

// Table maps connection identities to session records. The single mutex is
// the at-most-one-mutator guarantee for a population: every read or write of
// a record's fields happens under it.
type Table[R Record] struct {
	mu   sync.RWMutex
	recs map[int64]R
}

func NewTable[R Record]() *Table[R] {
	return &Table[R]{recs: make(map[int64]R)}
}

func (t *Table[R]) Put(id int64, rec R) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recs[id] = rec
}

// With runs fn on the record under the write lock. Returns false if the
// identity is unknown; callers resuming after a persistence call must
// tolerate the session having been evicted meanwhile.
func (t *Table[R]) With(id int64, fn func(R)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.recs[id]
	if !ok {
		return false
	}
	fn(rec)
	return true
}

func (t *Table[R]) Delete(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.recs[id]; !ok {
		return false
	}
	delete(t.recs, id)
	return true
}

func (t *Table[R]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.recs)
}

// expired snapshots the identities past the unauthenticated age threshold.
// The comparison is strictly greater-than: a session aged exactly maxAge is
// kept.
func (t *Table[R]) expired(now time.Time, maxAge time.Duration) []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []int64
	for id, rec := range t.recs {
		if !rec.Authenticated() && now.Sub(rec.ConnectedAt()) > maxAge {
			ids = append(ids, id)
		}
	}
	return ids
}

// deleteExpired removes the record only if it is still unauthenticated and
// past the threshold, so a session that authenticated between the mark and
// the eviction is never evicted.
func (t *Table[R]) deleteExpired(id int64, now time.Time, maxAge time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.recs[id]
	if !ok || rec.Authenticated() || now.Sub(rec.ConnectedAt()) <= maxAge {
		return false
	}
	delete(t.recs, id)
	return true
}
