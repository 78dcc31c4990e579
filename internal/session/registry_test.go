// ABOUTME: Tests for the session registry
// ABOUTME: Covers replacement, stale unregister, snapshots, and concurrent registration

package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndSend(t *testing.T) {
	r := NewRegistry(nil)

	sess := NewSession(1, 4)
	replaced := r.Register(sess)
	require.Nil(t, replaced, "first registration should not replace anything")

	require.NoError(t, r.Send(1, "hello"))

	select {
	case evt := <-sess.Events():
		assert.Equal(t, "hello", evt)
	default:
		t.Fatal("expected a queued event")
	}
}

func TestRegistry_SecondRegistrationReplacesFirst(t *testing.T) {
	r := NewRegistry(nil)

	first := NewSession(1, 4)
	second := NewSession(1, 4)

	require.Nil(t, r.Register(first))
	replaced := r.Register(second)

	require.NotNil(t, replaced, "second registration should report a replacement")
	assert.Equal(t, first.ID, replaced.ID)

	// The superseded session is closed and can no longer accept events
	assert.True(t, first.Closed())
	assert.ErrorIs(t, first.Send("late"), ErrSessionClosed)

	// The user still has exactly one live session, the new one
	assert.Equal(t, 1, r.Len())
	got, ok := r.Get(1)
	require.True(t, ok)
	assert.Equal(t, second.ID, got.ID)
}

func TestRegistry_StaleUnregisterLeavesCurrentSession(t *testing.T) {
	r := NewRegistry(nil)

	first := NewSession(1, 4)
	second := NewSession(1, 4)
	r.Register(first)
	r.Register(second)

	// A late disconnect from the replaced connection must not evict the
	// session that superseded it
	assert.False(t, r.Unregister(1, first.ID))
	assert.True(t, r.IsOnline(1))

	assert.True(t, r.Unregister(1, second.ID))
	assert.False(t, r.IsOnline(1))
}

func TestRegistry_UnregisterUnknownUser(t *testing.T) {
	r := NewRegistry(nil)
	assert.False(t, r.Unregister(42, "nope"))
}

func TestRegistry_SendToOfflineUser(t *testing.T) {
	r := NewRegistry(nil)
	assert.ErrorIs(t, r.Send(42, "hello"), ErrNotConnected)
}

func TestRegistry_Evict(t *testing.T) {
	r := NewRegistry(nil)

	sess := NewSession(1, 4)
	r.Register(sess)

	assert.True(t, r.Evict(1, sess.ID))
	assert.False(t, r.IsOnline(1))
	assert.True(t, sess.Closed())

	// A second evict for the same handle is a no-op
	assert.False(t, r.Evict(1, sess.ID))
}

func TestRegistry_SnapshotSorted(t *testing.T) {
	r := NewRegistry(nil)

	for _, id := range []int64{3, 1, 2} {
		r.Register(NewSession(id, 4))
	}

	assert.Equal(t, []int64{1, 2, 3}, r.Snapshot())
}

func TestRegistry_ConcurrentRegistrationsKeepOneSession(t *testing.T) {
	r := NewRegistry(nil)

	const goroutines = 16
	sessions := make([]*Session, goroutines)
	var wg sync.WaitGroup
	for i := range goroutines {
		sessions[i] = NewSession(1, 4)
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			r.Register(s)
		}(sessions[i])
	}
	wg.Wait()

	// Exactly one session survives; every other one is closed
	require.Equal(t, 1, r.Len())
	winner, ok := r.Get(1)
	require.True(t, ok)

	closed := 0
	for _, s := range sessions {
		if s.ID == winner.ID {
			assert.False(t, s.Closed(), "the winning session must stay open")
			continue
		}
		if s.Closed() {
			closed++
		}
	}
	assert.Equal(t, goroutines-1, closed, "all superseded sessions must be closed")
}

func TestSession_SendAfterClose(t *testing.T) {
	sess := NewSession(1, 4)
	sess.Close()

	assert.ErrorIs(t, sess.Send("hello"), ErrSessionClosed)

	// Close is idempotent
	sess.Close()
}

func TestSession_BufferFull(t *testing.T) {
	sess := NewSession(1, 1)

	require.NoError(t, sess.Send("one"))
	assert.ErrorIs(t, sess.Send("two"), ErrSessionBufferFull)
}

func TestSession_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := range 10 {
		s := NewSession(int64(i), 1)
		require.False(t, seen[s.ID], "duplicate session ID %s", s.ID)
		seen[s.ID] = true
	}
}
