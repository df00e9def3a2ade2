// Package transcript holds the ordered chat log shown to the user.
//
// The [Store] is append-only: entries are never edited or removed once
// appended, and their order is the order in which Append was called. The only
// way to discard entries is [Store.Reset], which the session issues when the
// system restarts.
//
// Writers are expected to be serialised by the caller (the session actor is
// the sole writer). Readers may call [Store.Entries] and [Store.Len] from any
// goroutine.
package transcript

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced an entry.
type Role string

const (
	RoleUser   Role = "USER"
	RoleModel  Role = "MODEL"
	RoleSystem Role = "SYSTEM"
)

// Entry is a single immutable line of the transcript.
type Entry struct {
	ID        string
	Role      Role
	Text      string
	Timestamp time.Time

	// IsCommand marks entries that record an outcome of a command rather
	// than conversation, e.g. an offline failure notice.
	IsCommand bool
}

// Listener is notified after each append. It runs on the writer's goroutine
// and must not call back into the Store's write methods.
type Listener func(Entry)

// Option configures a [Store].
type Option func(*Store)

// WithClock overrides the timestamp source. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the ID source. Default: random UUIDs.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// Store is the transcript log.
type Store struct {
	mu        sync.RWMutex
	entries   []Entry
	listeners []Listener

	now   func() time.Time
	newID func() string
}

// NewStore returns an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Append adds an entry and returns it with ID and timestamp assigned.
func (s *Store) Append(role Role, text string, isCommand bool) Entry {
	e := Entry{
		ID:        s.newID(),
		Role:      role,
		Text:      text,
		Timestamp: s.now(),
		IsCommand: isCommand,
	}

	s.mu.Lock()
	s.entries = append(s.entries, e)
	listeners := s.listeners
	s.mu.Unlock()

	for _, l := range listeners {
		l(e)
	}
	return e
}

// Entries returns a copy of all entries in append order.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries)
}

// Last returns the most recent entry.
func (s *Store) Last() (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[len(s.entries)-1], true
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Reset discards all entries. Listeners are kept.
func (s *Store) Reset() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
}

// Subscribe registers l to be called after every append.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(slices.Clip(s.listeners), l)
}
