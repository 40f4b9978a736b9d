package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packshot-studio/internal/pipeline"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestGetCreatesOncePerKey(t *testing.T) {
	created := 0
	s := NewStore(Options{NewFlow: func(k Key) *pipeline.Orchestrator {
		created++
		return pipeline.New(pipeline.Options{})
	}})

	a := s.Get(Key{ChatID: 1, UserID: 2}, "")
	b := s.Get(Key{ChatID: 1, UserID: 2}, "alice")
	c := s.Get(Key{ChatID: 1, UserID: 3}, "")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "alice", a.Username)
	assert.Equal(t, 2, created)
	assert.Equal(t, 2, s.Len())
}

func TestMessageID(t *testing.T) {
	s := NewStore(Options{})
	key := Key{ChatID: 10, UserID: 20}

	s.SetMessageID(key, 5)
	assert.Equal(t, 0, s.MessageID(key), "unknown sessions are not created implicitly")

	s.Get(key, "")
	s.SetMessageID(key, 5)
	assert.Equal(t, 5, s.MessageID(key))
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	s := NewStore(Options{IdleTTL: time.Hour, Now: clk.Now})

	stale := Key{ChatID: 1, UserID: 1}
	fresh := Key{ChatID: 1, UserID: 2}
	s.Get(stale, "")
	clk.Advance(50 * time.Minute)
	s.Get(fresh, "")
	clk.Advance(20 * time.Minute)

	evicted := s.Sweep()
	require.Len(t, evicted, 1)
	assert.Equal(t, stale, evicted[0])

	_, ok := s.Lookup(stale)
	assert.False(t, ok)
	_, ok = s.Lookup(fresh)
	assert.True(t, ok)
}

func TestDelete(t *testing.T) {
	s := NewStore(Options{})
	key := Key{ChatID: 1, UserID: 1}
	s.Get(key, "")
	s.Delete(key)
	assert.Equal(t, 0, s.Len())
}
