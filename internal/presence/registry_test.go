package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry(ttl time.Duration) *Registry {
	return NewRegistry(zap.NewNop().Sugar(), ttl)
}

func TestJoinLeave(t *testing.T) {
	r := newTestRegistry(time.Minute)

	r.Join("s1", "alice", "d1")
	r.Join("s2", "bob", "d2")

	sessions := r.ListSessions()
	require.Len(t, sessions, 2)

	t.Run("JoinIsIdempotent", func(t *testing.T) {
		r.Join("s1", "alice2", "d1")
		sessions := r.ListSessions()
		assert.Len(t, sessions, 2)

		var found bool
		for _, s := range sessions {
			if s.ID == "s1" {
				found = true
				assert.Equal(t, "alice2", s.Username)
			}
		}
		assert.True(t, found)
	})

	t.Run("Leave", func(t *testing.T) {
		r.Leave("s1")
		assert.Len(t, r.ListSessions(), 1)

		// Leaving twice is harmless.
		r.Leave("s1")
		assert.Len(t, r.ListSessions(), 1)
	})
}

func TestSubscribe(t *testing.T) {
	r := newTestRegistry(time.Minute)
	r.Join("s1", "alice", "d1")

	ch, cancel := r.Subscribe()
	defer cancel()

	// Seeded with the current set.
	snap := <-ch
	require.Len(t, snap, 1)
	assert.Equal(t, "alice", snap[0].Username)

	r.Join("s2", "bob", "d2")
	snap = <-ch
	require.Len(t, snap, 2)

	r.Leave("s2")
	snap = <-ch
	require.Len(t, snap, 1)
}

func TestSubscribeCancel(t *testing.T) {
	r := newTestRegistry(time.Minute)
	ch, cancel := r.Subscribe()
	<-ch

	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Cancelling twice must not panic.
	cancel()

	// Changes after cancel do not reach the closed channel.
	r.Join("s1", "alice", "d1")
}

func TestRemoveDevice(t *testing.T) {
	r := newTestRegistry(time.Minute)
	r.Join("s1", "alice", "d1")
	r.Join("s2", "alice-tab2", "d1")
	r.Join("s3", "bob", "d2")

	removed := r.RemoveDevice("d1")
	assert.ElementsMatch(t, []string{"s1", "s2"}, removed)

	sessions := r.ListSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "bob", sessions[0].Username)

	assert.Empty(t, r.RemoveDevice("d1"))
}

func TestDevicesForUsername(t *testing.T) {
	r := newTestRegistry(time.Minute)
	r.Join("s1", "alice", "d1")
	r.Join("s2", "alice", "d2")
	r.Join("s3", "bob", "d3")

	assert.Equal(t, []string{"d1", "d2"}, r.DevicesForUsername("alice"))
	assert.Empty(t, r.DevicesForUsername("nobody"))
}

func TestReapStaleSessions(t *testing.T) {
	r := newTestRegistry(30 * time.Second)

	base := time.Now()
	r.now = func() time.Time { return base }
	r.Join("s1", "alice", "d1")
	r.Join("s2", "bob", "d2")

	// s2 keeps heartbeating, s1 goes silent.
	r.now = func() time.Time { return base.Add(25 * time.Second) }
	r.Heartbeat("s2")

	r.now = func() time.Time { return base.Add(40 * time.Second) }
	r.reap()

	sessions := r.ListSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "s2", sessions[0].ID)
}

func TestRename(t *testing.T) {
	r := newTestRegistry(time.Minute)
	r.Join("s1", "alice", "d1")

	ch, cancel := r.Subscribe()
	defer cancel()
	<-ch

	r.Rename("s1", "alicia")
	snap := <-ch
	require.Len(t, snap, 1)
	assert.Equal(t, "alicia", snap[0].Username)

	// Renaming an unknown session is a no-op.
	r.Rename("ghost", "x")
}
