package store

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry is one stored stock record.
type Entry struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Value       float64   `json:"value"`
	Count       int       `json:"count"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Patch lists the fields of a partial update. Nil fields keep their prior value.
type Patch struct {
	Name  *string
	Value *float64
	Count *int
}

// Store is a thread-safe in-memory entry store keyed by entry ID.
// Entries whose LastUpdated is older than maxAge are treated as dead by reads
// and removed by Sweep.
type Store struct {
	mu          sync.RWMutex
	data        map[string]*Entry
	maxAge      time.Duration
	lastCleanup time.Time
	now         func() time.Time // injectable for deterministic tests
}

// New creates a Store whose entries expire maxAge after their last update.
func New(maxAge time.Duration) *Store {
	return &Store{
		data:   make(map[string]*Entry),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Upsert inserts e or replaces the entry stored under e.ID and returns the
// stored copy. CreatedAt of an existing live entry is kept; LastUpdated is
// always set to the current time.
func (s *Store) Upsert(e Entry) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if prev, ok := s.data[e.ID]; ok && s.alive(prev, now) {
		e.CreatedAt = prev.CreatedAt
	} else {
		e.CreatedAt = now
	}
	e.LastUpdated = now
	s.data[e.ID] = &e
	return e
}

// Get returns a copy of the live entry stored under id.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[id]
	if !ok || !s.alive(e, s.now()) {
		return Entry{}, false
	}
	return *e, true
}

// List returns copies of all live entries ordered by ID.
// Dead entries that have not yet been swept are excluded.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out := make([]Entry, 0, len(s.data))
	for _, e := range s.data {
		if s.alive(e, now) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdatePartial applies the non-nil fields of p to the live entry stored
// under id and refreshes its LastUpdated.
func (s *Store) UpdatePartial(id string, p Patch) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e, ok := s.data[id]
	if !ok || !s.alive(e, now) {
		return Entry{}, false
	}
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.Value != nil {
		e.Value = *p.Value
	}
	if p.Count != nil {
		e.Count = *p.Count
	}
	e.LastUpdated = now
	return *e, true
}

// Touch refreshes LastUpdated of the live entry stored under id and returns
// the new timestamp.
func (s *Store) Touch(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e, ok := s.data[id]
	if !ok || !s.alive(e, now) {
		return time.Time{}, false
	}
	e.LastUpdated = now
	return now, true
}

// Delete removes the entry stored under id and returns its prior value.
func (s *Store) Delete(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[id]
	if !ok {
		return Entry{}, false
	}
	delete(s.data, id)
	if !s.alive(e, s.now()) {
		return Entry{}, false
	}
	return *e, true
}

// DeleteBySessionSuffix removes every entry whose ID contains suffix and
// returns the number removed. This is a substring match on the ID, so two
// sessions sharing a suffix are wiped together. An empty suffix removes nothing.
func (s *Store) DeleteBySessionSuffix(suffix string) int {
	if suffix == "" {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id := range s.data {
		if strings.Contains(id, suffix) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// Sweep removes every entry with now - LastUpdated > maxAge, records now as
// the last cleanup time and returns the number of entries removed.
func (s *Store) Sweep(now time.Time, maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.data {
		if now.Sub(e.LastUpdated) > maxAge {
			delete(s.data, id)
			removed++
		}
	}
	s.lastCleanup = now
	return removed
}

// SweepNow runs Sweep with the current clock and the configured max age.
func (s *Store) SweepNow() int {
	return s.Sweep(s.now(), s.MaxAge())
}

// LastCleanup returns the time of the most recent Sweep, or the zero time if
// no sweep has run yet.
func (s *Store) LastCleanup() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCleanup
}

// Count returns the total number of entries currently held, including dead ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// MaxAge returns the age after which an entry is considered dead.
func (s *Store) MaxAge() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxAge
}

// SetMaxAge changes the expiry threshold. Used on config reload.
func (s *Store) SetMaxAge(d time.Duration) {
	s.mu.Lock()
	s.maxAge = d
	s.mu.Unlock()
}

// alive reports whether e is within maxAge of now. Callers hold s.mu.
func (s *Store) alive(e *Entry, now time.Time) bool {
	return now.Sub(e.LastUpdated) <= s.maxAge
}
