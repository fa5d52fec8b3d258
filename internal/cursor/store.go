// Package cursor holds live pagination state across calls. It is the only
// durable in-process state in the gateway: a bounded, TTL'd map from an
// unguessable token to a search snapshot.
package cursor

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one paused search. The UID list is the full ascending match
// list captured at search time; Offset points at the next unreturned UID.
type Entry struct {
	Token           string
	AccountID       string
	Mailbox         string
	Generation      uint32
	UIDs            []uint32
	Offset          int
	IncludeSnippet  bool
	SnippetMaxChars int
	CreatedAt       time.Time
	ExpiresAt       time.Time

	lastAccess time.Time
}

// Store is a concurrency-safe cursor map with TTL expiry and LRU eviction.
// Expired entries are removed lazily on lookup; eviction removes the entry
// with the oldest last-access time, which is refreshed only when a page is
// successfully advanced. A cursor that merely exists does not stay alive.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]*Entry

	// now is swapped out by tests.
	now func() time.Time
}

// NewStore creates a store with the given TTL and capacity.
func NewStore(ttl time.Duration, max int) *Store {
	return &Store{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Create stores a new entry and returns its token. If the store is at
// capacity the least-recently-used entry is evicted first.
func (s *Store) Create(e Entry) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e.Token = uuid.NewString()
	e.CreatedAt = now
	e.ExpiresAt = now.Add(s.ttl)
	e.lastAccess = now

	if len(s.entries) >= s.max {
		s.evictLRU()
	}
	s.entries[e.Token] = &e
	return e.Token
}

// Lookup returns a copy of the entry for token. Entries past their expiry
// are treated as absent and removed. Lookup does not refresh last access;
// only a successful Advance does.
func (s *Store) Lookup(token string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[token]
	if !ok {
		return Entry{}, false
	}
	if !s.now().Before(e.ExpiresAt) {
		delete(s.entries, token)
		return Entry{}, false
	}
	return *e, true
}

// Advance moves the entry's offset from expectedOffset to newOffset and
// refreshes its last-access time and expiry. It fails when the entry is
// gone, expired, or its offset no longer equals expectedOffset, which means
// a concurrent resume of the same token won the race. Exactly one of two
// concurrent resumes can advance.
func (s *Store) Advance(token string, expectedOffset, newOffset int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[token]
	if !ok {
		return false
	}
	now := s.now()
	if !now.Before(e.ExpiresAt) {
		delete(s.entries, token)
		return false
	}
	if e.Offset != expectedOffset {
		return false
	}
	e.Offset = newOffset
	e.lastAccess = now
	e.ExpiresAt = now.Add(s.ttl)
	return true
}

// Finish removes the entry only while its offset still equals
// expectedOffset. It is the terminal counterpart of Advance: of two
// concurrent resumes of a final page, exactly one finishes the cursor and
// the other is told it lost.
func (s *Store) Finish(token string, expectedOffset int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[token]
	if !ok {
		return false
	}
	if !s.now().Before(e.ExpiresAt) {
		delete(s.entries, token)
		return false
	}
	if e.Offset != expectedOffset {
		return false
	}
	delete(s.entries, token)
	return true
}

// Delete removes the entry for token. Missing tokens are ignored.
func (s *Store) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, token)
}

// Len returns the number of live entries, counting expired ones that have
// not been lazily collected yet.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictLRU removes the entry with the oldest last-access time. Caller
// holds the lock.
func (s *Store) evictLRU() {
	var victim string
	var oldest time.Time
	for token, e := range s.entries {
		if victim == "" || e.lastAccess.Before(oldest) {
			victim = token
			oldest = e.lastAccess
		}
	}
	if victim != "" {
		delete(s.entries, victim)
	}
}
