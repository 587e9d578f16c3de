package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var ErrSessionRequired = errors.New("session id is required")

// Turn is one question and its final answer.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Store holds the ordered turn history of each session. Appends must keep
// invocation order; callers serialize writers per session with a Locker.
type Store interface {
	Turns(ctx context.Context, sessionID string) ([]Turn, error)
	Append(ctx context.Context, sessionID string, turn Turn) error
	Reset(ctx context.Context, sessionID string) error
}

type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Turn
	maxTurns int
}

// NewInMemoryStore keeps at most maxTurns recent turns per session; zero
// keeps everything.
func NewInMemoryStore(maxTurns int) *InMemoryStore {
	return &InMemoryStore{sessions: map[string][]Turn{}, maxTurns: maxTurns}
}

func (s *InMemoryStore) Turns(_ context.Context, sessionID string) ([]Turn, error) {
	if err := validateSession(sessionID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.sessions[sessionID]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *InMemoryStore) Append(_ context.Context, sessionID string, turn Turn) error {
	if err := validateSession(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := append(s.sessions[sessionID], turn)
	if s.maxTurns > 0 && len(turns) > s.maxTurns {
		turns = append([]Turn(nil), turns[len(turns)-s.maxTurns:]...)
	}
	s.sessions[sessionID] = turns
	return nil
}

func (s *InMemoryStore) Reset(_ context.Context, sessionID string) error {
	if err := validateSession(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func validateSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionRequired
	}
	return nil
}
