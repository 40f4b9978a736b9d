package session

import (
	"sync"
	"time"

	"packshot-studio/internal/metrics"
	"packshot-studio/internal/pipeline"
)

// Key identifies one user's flow inside one chat.
type Key struct {
	ChatID int64
	UserID int64
}

type Session struct {
	Key      Key
	Username string
	Flow     *pipeline.Orchestrator

	// MessageID is the wizard message edited in place; 0 when none was sent.
	MessageID    int
	LastActivity time.Time
}

type Options struct {
	// NewFlow builds the orchestrator for a fresh session.
	NewFlow func(key Key) *pipeline.Orchestrator
	IdleTTL time.Duration
	Now     func() time.Time
}

type Store struct {
	mu       sync.Mutex
	sessions map[Key]*Session
	newFlow  func(Key) *pipeline.Orchestrator
	idleTTL  time.Duration
	now      func() time.Time
}

func NewStore(opts Options) *Store {
	idle := opts.IdleTTL
	if idle <= 0 {
		idle = 2 * time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newFlow := opts.NewFlow
	if newFlow == nil {
		newFlow = func(Key) *pipeline.Orchestrator { return pipeline.New(pipeline.Options{}) }
	}

	return &Store{
		sessions: make(map[Key]*Session),
		newFlow:  newFlow,
		idleTTL:  idle,
		now:      now,
	}
}

// Get returns the session for key, creating it on first use, and marks it
// active.
func (s *Store) Get(key Key, username string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(key, username)
	sess.LastActivity = s.now()
	return sess
}

func (s *Store) Lookup(key Key) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if ok {
		sess.LastActivity = s.now()
	}
	return sess, ok
}

func (s *Store) MessageID(key Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[key]; ok {
		return sess.MessageID
	}
	return 0
}

func (s *Store) SetMessageID(key Key, messageID int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[key]; ok {
		sess.MessageID = messageID
	}
}

func (s *Store) Delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, key)
	metrics.SetActiveSessions(len(s.sessions))
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions idle for longer than the TTL and returns their keys.
func (s *Store) Sweep() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idleTTL)
	var evicted []Key
	for key, sess := range s.sessions {
		if sess.LastActivity.Before(cutoff) {
			sess.Flow.Reset()
			delete(s.sessions, key)
			evicted = append(evicted, key)
		}
	}
	metrics.SetActiveSessions(len(s.sessions))
	return evicted
}

func (s *Store) getOrCreateLocked(key Key, username string) *Session {
	if sess, ok := s.sessions[key]; ok {
		if sess.Username == "" && username != "" {
			sess.Username = username
		}
		return sess
	}

	sess := &Session{
		Key:          key,
		Username:     username,
		Flow:         s.newFlow(key),
		LastActivity: s.now(),
	}
	s.sessions[key] = sess
	metrics.SetActiveSessions(len(s.sessions))
	return sess
}
