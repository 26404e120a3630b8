package storage

import (
	"context"
	"sync"
	"time"

	"github.com/ruteri/tee-key-broker/interfaces"
)

// MemorySessionStore keeps session rows in process memory. It implements the
// same conditional-write semantics a durable row store would, so the session
// engine behaves identically against both.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[interfaces.SessionID]*interfaces.Session
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[interfaces.SessionID]*interfaces.Session)}
}

// Create persists a new session row.
func (s *MemorySessionStore) Create(ctx context.Context, session *interfaces.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return interfaces.ErrSessionExists
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

// Load retrieves a copy of the session row.
func (s *MemorySessionStore) Load(ctx context.Context, id interfaces.SessionID) (*interfaces.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return session.Clone(), nil
}

// SaveIfState overwrites the row if it is still in the expected state.
func (s *MemorySessionStore) SaveIfState(ctx context.Context, session *interfaces.Session, expect interfaces.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[session.ID]
	if !ok {
		return interfaces.ErrSessionNotFound
	}
	if stored.State != expect {
		return interfaces.ErrStaleSession
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

// CompareAndSwapState transitions the row between states atomically.
func (s *MemorySessionStore) CompareAndSwapState(ctx context.Context, id interfaces.SessionID, from, to interfaces.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[id]
	if !ok {
		return interfaces.ErrSessionNotFound
	}
	if stored.State != from {
		return interfaces.ErrStaleSession
	}
	stored.State = to
	return nil
}

// PruneExpired drops terminal sessions whose deadline passed before the
// cutoff. Retention of terminal sessions is an operator decision; nothing in
// the engine calls this automatically.
func (s *MemorySessionStore) PruneExpired(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, session := range s.sessions {
		if session.State.Terminal() && session.ExpiresAt.Before(cutoff) {
			delete(s.sessions, id)
			pruned++
		}
	}
	return pruned
}

// MemoryPolicyStore keeps policy records in process memory.
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[interfaces.SecretID]*interfaces.Policy
}

// NewMemoryPolicyStore creates an empty in-memory policy store.
func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[interfaces.SecretID]*interfaces.Policy)}
}

// PolicyFor returns the policy record for a secret id.
func (s *MemoryPolicyStore) PolicyFor(ctx context.Context, id interfaces.SecretID) (*interfaces.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policy, ok := s.policies[id]
	if !ok {
		return nil, interfaces.ErrPolicyNotFound
	}
	dup := *policy
	return &dup, nil
}

// SetPolicy installs or replaces a policy record.
func (s *MemoryPolicyStore) SetPolicy(policy *interfaces.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dup := *policy
	s.policies[policy.SecretID] = &dup
}
