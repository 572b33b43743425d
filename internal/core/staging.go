package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultStagingTTL is how long a parsed upload waits for submission.
const DefaultStagingTTL = 30 * time.Minute

// Staged is a parsed record set waiting to be submitted.
type Staged struct {
	ID        string
	Source    string // filename or spreadsheet URL
	Format    Format
	Records   RecordSet
	CreatedAt time.Time
	ExpiresAt time.Time
}

type stagedEntry struct {
	Staged
	timer    *time.Timer
	inFlight bool
	expired  bool
}

// stagingStore holds staged sets until they are submitted or expire.
type stagingStore struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]*stagedEntry
}

func newStagingStore(ttl time.Duration) *stagingStore {
	if ttl <= 0 {
		ttl = DefaultStagingTTL
	}
	return &stagingStore{ttl: ttl, entries: make(map[string]*stagedEntry)}
}

func (s *stagingStore) put(source string, format Format, rs RecordSet) Staged {
	now := time.Now()
	e := &stagedEntry{Staged: Staged{
		ID:        uuid.NewString(),
		Source:    source,
		Format:    format,
		Records:   rs,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e
	e.timer = time.AfterFunc(s.ttl, func() { s.expire(e.ID) })
	return e.Staged
}

func (s *stagingStore) get(id string) (Staged, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.expired {
		return Staged{}, false
	}
	return e.Staged, true
}

// begin marks id as being submitted. The returned finish must be called once
// the submission ends; a successful submission removes the set.
func (s *stagingStore) begin(id string) (Staged, func(success bool), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.expired {
		return Staged{}, nil, ErrStagingNotFound
	}
	if e.inFlight {
		return Staged{}, nil, ErrSubmissionInFlight
	}
	e.inFlight = true

	finish := func(success bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		e.inFlight = false
		if success || e.expired {
			s.removeLocked(e)
		}
	}
	return e.Staged, finish, nil
}

// expire drops the entry, or flags it for removal once its submission ends.
func (s *stagingStore) expire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return
	}
	if e.inFlight {
		e.expired = true
		return
	}
	delete(s.entries, id)
}

func (s *stagingStore) removeLocked(e *stagedEntry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	if cur, ok := s.entries[e.ID]; ok && cur == e {
		delete(s.entries, e.ID)
	}
}

func (s *stagingStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// close stops every expiry timer and forgets all staged sets.
func (s *stagingStore) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, id)
	}
}
