// Package cache implements the position-cache consistency protocol: the
// versioned write gate, the staleness-aware read path with ledger fallback,
// batch wrappers, and maintenance operations, all over a single store.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"PosCache/internal/position"
)

// promoteThreshold bounds the size of the read snapshot's update overlay
// before it is folded into the main map.
const promoteThreshold = 128

// readOnly is an immutable snapshot published atomically for readers. The m
// map is the main data and the u map holds recent updates that have not yet
// been folded into m, so a handful of writes do not regenerate the whole
// main map. Deletions always force a full rebuild, so neither map ever
// contains tombstones.
type readOnly struct {
	m map[position.Key]position.Entry
	u map[position.Key]position.Entry
}

// Store owns every mutable piece of cache state. Writers serialize on one
// mutex and mutate through a Tx so that each public operation commits all
// of its staged changes or none of them. Readers load an atomic snapshot
// and never take the lock.
//
// Three maps with different lifecycles:
//   - entries: the cached snapshots; removed by clear operations.
//   - versions: the per-key version floor; never removed, so versions stay
//     monotonic across clears.
//   - dedup: last accepted (requestId, seq) per key; never rolled back.
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	entries  map[position.Key]position.Entry
	versions map[position.Key]uint64
	dedup    map[position.Key]position.DedupRecord

	read atomic.Pointer[readOnly]
}

func NewStore(ttl time.Duration) *Store {
	s := &Store{
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[position.Key]position.Entry),
		versions: make(map[position.Key]uint64),
		dedup:    make(map[position.Key]position.DedupRecord),
	}
	s.read.Store(&readOnly{
		m: make(map[position.Key]position.Entry),
		u: make(map[position.Key]position.Entry),
	})
	return s
}

// SetClock replaces the wall clock. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// TTL returns the entry lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Lookup returns the entry for key from the current read snapshot. It takes
// no locks and never blocks a writer.
func (s *Store) Lookup(key position.Key) (position.Entry, bool) {
	ro := s.read.Load()
	if e, ok := ro.u[key]; ok {
		return e, true
	}
	e, ok := ro.m[key]
	return e, ok
}

// Valid applies the TTL predicate to an entry at the store's current time.
// An entry aged exactly TTL is still valid.
func (s *Store) Valid(e position.Entry, ok bool) bool {
	if !ok {
		return false
	}
	return e.Valid(s.now(), s.ttl)
}

// Counts returns (total keys, keys within TTL) from the read snapshot.
func (s *Store) Counts() (total int, valid int) {
	ro := s.read.Load()
	now := s.now()

	for key, e := range ro.m {
		if _, shadowed := ro.u[key]; shadowed {
			continue
		}
		total++
		if e.Valid(now, s.ttl) {
			valid++
		}
	}
	for _, e := range ro.u {
		total++
		if e.Valid(now, s.ttl) {
			valid++
		}
	}
	return total, valid
}

// Tx stages mutations for one atomic operation. Reads observe staged
// changes first, then committed state, so a batch sees its own earlier
// items. Nothing touches the store until the Update callback returns nil.
type Tx struct {
	store *Store
	now   time.Time

	put    map[position.Key]position.Entry
	setDed map[position.Key]position.DedupRecord
	del    map[position.Key]struct{}
}

// Update runs fn under the writer lock and commits its staged mutations
// atomically when fn returns nil. Any error discards the whole stage.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{
		store:  s,
		now:    s.now(),
		put:    make(map[position.Key]position.Entry),
		setDed: make(map[position.Key]position.DedupRecord),
		del:    make(map[position.Key]struct{}),
	}

	if err := fn(tx); err != nil {
		return err
	}

	s.apply(tx)
	return nil
}

// Now returns the single timestamp shared by every commit in this Tx.
func (tx *Tx) Now() time.Time {
	return tx.now
}

// Entry returns the staged or committed entry for key.
func (tx *Tx) Entry(key position.Key) (position.Entry, bool) {
	if _, ok := tx.del[key]; ok {
		return position.Entry{}, false
	}
	if e, ok := tx.put[key]; ok {
		return e, true
	}
	e, ok := tx.store.entries[key]
	return e, ok
}

// Valid applies the TTL predicate at the Tx timestamp.
func (tx *Tx) Valid(e position.Entry, ok bool) bool {
	if !ok {
		return false
	}
	return e.Valid(tx.now, tx.store.ttl)
}

// CurrentVersion returns the version floor for key, observing staged puts.
// The floor survives clears: it only ever increases.
func (tx *Tx) CurrentVersion(key position.Key) uint64 {
	if e, ok := tx.put[key]; ok {
		return e.Version
	}
	return tx.store.versions[key]
}

// Dedup returns the last accepted ordered-write token for key.
func (tx *Tx) Dedup(key position.Key) (position.DedupRecord, bool) {
	if r, ok := tx.setDed[key]; ok {
		return r, true
	}
	r, ok := tx.store.dedup[key]
	return r, ok
}

// Put stages a committed snapshot for key at the Tx timestamp.
func (tx *Tx) Put(key position.Key, collateral, debt, version uint64) {
	delete(tx.del, key)
	tx.put[key] = position.Entry{
		Collateral: collateral,
		Debt:       debt,
		Version:    version,
		LastWrite:  tx.now,
	}
}

// SetDedup stages the ordered-write token for key.
func (tx *Tx) SetDedup(key position.Key, rec position.DedupRecord) {
	tx.setDed[key] = rec
}

// Delete stages removal of the entry for key. The version floor and dedup
// record are untouched.
func (tx *Tx) Delete(key position.Key) {
	delete(tx.put, key)
	tx.del[key] = struct{}{}
}

// AccountKeys returns every committed key under account, in no particular
// order.
func (tx *Tx) AccountKeys(account position.AccountID) []position.Key {
	var keys []position.Key
	for key := range tx.store.entries {
		if key.Account == account {
			keys = append(keys, key)
		}
	}
	return keys
}

// apply commits a successful Tx and publishes a fresh read snapshot.
// Caller holds s.mu.
func (s *Store) apply(tx *Tx) {
	if len(tx.put) == 0 && len(tx.setDed) == 0 && len(tx.del) == 0 {
		return
	}

	for key := range tx.del {
		delete(s.entries, key)
	}
	for key, e := range tx.put {
		s.entries[key] = e
		if e.Version > s.versions[key] {
			s.versions[key] = e.Version
		}
	}
	for key, rec := range tx.setDed {
		s.dedup[key] = rec
	}

	prev := s.read.Load()

	// Deletions invalidate the overlay structure; rebuild from scratch.
	if len(tx.del) > 0 || len(prev.u)+len(tx.put) > promoteThreshold {
		m := make(map[position.Key]position.Entry, len(s.entries))
		for key, e := range s.entries {
			m[key] = e
		}
		s.read.Store(&readOnly{m: m, u: make(map[position.Key]position.Entry)})
		return
	}

	if len(tx.put) == 0 {
		return
	}

	u := make(map[position.Key]position.Entry, len(prev.u)+len(tx.put))
	for key, e := range prev.u {
		u[key] = e
	}
	for key, e := range tx.put {
		u[key] = e
	}
	s.read.Store(&readOnly{m: prev.m, u: u})
}
