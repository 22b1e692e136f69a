// Package session keeps audit sessions in memory for later lookup: report
// export and external read-only queries. The engine is the sole writer;
// readers get defensive copies. Sessions do not survive a process restart.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/auditmesh/consensus/internal/audit"
)

// Store is the in-memory session registry.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*audit.Session
}

// NewStore creates an empty registry.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*audit.Session)}
}

// Create registers a new in-progress session for a project and returns it.
// The returned pointer is owned by the engine; external readers go through
// Get/All/ByProject.
func (s *Store) Create(projectID string, metadata map[string]string) *audit.Session {
	sess := &audit.Session{
		ID:        audit.NewSessionID(),
		ProjectID: projectID,
		Status:    audit.SessionInProgress,
		Findings:  []audit.Finding{},
		StartedAt: time.Now(),
		Metadata:  metadata,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	return sess
}

// Update applies fn to the stored session under the write lock.
func (s *Store) Update(id string, fn func(*audit.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return &audit.NotFoundError{Kind: "session", ID: id}
	}
	fn(sess)
	return nil
}

// Get returns a copy of one session.
func (s *Store) Get(id string) (*audit.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, &audit.NotFoundError{Kind: "session", ID: id}
	}
	return sess.Clone(), nil
}

// All returns copies of every session, newest first.
func (s *Store) All() []*audit.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*audit.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// ByProject returns copies of the sessions belonging to one project,
// newest first.
func (s *Store) ByProject(projectID string) []*audit.Session {
	all := s.All()
	out := all[:0]
	for _, sess := range all {
		if sess.ProjectID == projectID {
			out = append(out, sess)
		}
	}
	return out
}

// Len returns the number of registered sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
