// Package session keeps one explicit context object per uploaded table.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KaramelBytes/csvlens/internal/analysis"
	"github.com/KaramelBytes/csvlens/internal/insight"
)

// ErrNotFound is returned for unknown or expired session IDs.
var ErrNotFound = errors.New("session not found")

// DefaultTTL is how long an idle session survives a Sweep.
const DefaultTTL = time.Hour

// Session is everything the UI knows about one upload. A new upload always
// creates a new Session; fields other than Roles, Summary and LastSeen are
// never mutated after creation, and those three only change inside the Store.
type Session struct {
	ID        uuid.UUID
	FileName  string
	Table     *analysis.Table
	Schema    analysis.Schema
	Roles     *insight.RoleAssignment
	Summary   string
	CreatedAt time.Time
	LastSeen  time.Time
}

// New builds a session for a freshly loaded table.
func New(fileName string, t *analysis.Table, now time.Time) *Session {
	return &Session{
		ID:        uuid.New(),
		FileName:  fileName,
		Table:     t,
		Schema:    analysis.Classify(t),
		CreatedAt: now,
		LastSeen:  now,
	}
}

// Resolution validates the stored role assignment against the table.
func (s *Session) Resolution() insight.Resolution {
	return s.Roles.Resolve(s.Schema.All())
}

// Store is an in-memory, concurrency-safe session registry.
type Store struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[uuid.UUID]*Session
	now      func() time.Time
}

// NewStore returns an empty store; ttl <= 0 uses DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{ttl: ttl, sessions: map[uuid.UUID]*Session{}, now: time.Now}
}

// Put adds s, replacing any session with the same ID.
func (st *Store) Put(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID] = s
}

// Replace stores next and drops old. It is how a re-upload supersedes the
// previous session.
func (st *Store) Replace(old uuid.UUID, next *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, old)
	st.sessions[next.ID] = next
}

// Get returns a copy of the session for id and refreshes its LastSeen. The
// copy is taken under the store lock, so callers may read it freely while
// Update changes the stored session.
func (st *Store) Get(id uuid.UUID) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.LastSeen = st.now()
	cp := *s
	return &cp, nil
}

// Lookup parses a textual ID and calls Get.
func (st *Store) Lookup(id string) (*Session, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return st.Get(u)
}

// Update runs fn on the stored session under the store lock. Copies handed
// out earlier by Get do not see the change.
func (st *Store) Update(id uuid.UUID, fn func(*Session)) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return ErrNotFound
	}
	fn(s)
	return nil
}

// Delete ends a session. Deleting an unknown ID is not an error.
func (st *Store) Delete(id uuid.UUID) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Sweep evicts sessions idle for longer than the TTL and returns how many
// were removed.
func (st *Store) Sweep(now time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for id, s := range st.sessions {
		if now.Sub(s.LastSeen) > st.ttl {
			delete(st.sessions, id)
			n++
		}
	}
	return n
}
