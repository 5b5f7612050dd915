package service_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"portalchat/internal/domain"
	"portalchat/internal/service"
	"portalchat/internal/store/sqlite"
)

// MockBanChecker fakes the moderation subsystem's ban lookup.
type MockBanChecker struct {
	mock.Mock
}

func (m *MockBanChecker) IsBanned(ctx context.Context, deviceID string) (bool, error) {
	args := m.Called(ctx, deviceID)
	return args.Bool(0), args.Error(1)
}

type chatFixture struct {
	db   *sql.DB
	chat *service.ChatService
	bans *MockBanChecker
}

func newChatFixture(t *testing.T, historyLimit int) *chatFixture {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })

	bans := new(MockBanChecker)
	chat := service.NewChatService(
		zap.NewNop().Sugar(),
		sqlite.NewMessageRepo(db),
		sqlite.NewReactionRepo(db),
		bans,
		historyLimit,
		2000,
	)
	return &chatFixture{db: db, chat: chat, bans: bans}
}

func session(id, username, deviceID string) *domain.Session {
	return &domain.Session{ID: id, Username: username, DeviceID: deviceID}
}

func TestPost(t *testing.T) {
	f := newChatFixture(t, 100)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		f.bans.On("IsBanned", mock.Anything, "d1").Return(false, nil)

		m, err := f.chat.Post(ctx, session("s1", "alice", "d1"), "hello", "")
		require.NoError(t, err)
		assert.Equal(t, "alice", m.Username)
		assert.Equal(t, "hello", m.Text)
		assert.NotEmpty(t, m.ID)
		assert.False(t, m.CreatedAt.IsZero())
	})

	t.Run("EmptyText", func(t *testing.T) {
		_, err := f.chat.Post(ctx, session("s1", "alice", "d1"), "   \n\t ", "")
		assert.ErrorIs(t, err, domain.ErrEmptyText)
	})

	t.Run("Banned", func(t *testing.T) {
		f.bans.On("IsBanned", mock.Anything, "d-banned").Return(true, nil)

		_, err := f.chat.Post(ctx, session("s2", "mallory", "d-banned"), "hi", "")
		assert.ErrorIs(t, err, domain.ErrBanned)
	})

	t.Run("ReplyToUnknownMessage", func(t *testing.T) {
		_, err := f.chat.Post(ctx, session("s1", "alice", "d1"), "re", "no-such-id")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestDeliveryOrder(t *testing.T) {
	f := newChatFixture(t, 100)
	ctx := context.Background()
	f.bans.On("IsBanned", mock.Anything, mock.Anything).Return(false, nil)

	history, ch, cancel := f.chat.SubscribeTail(0)
	defer cancel()
	require.Empty(t, history)

	// Distinct sessions posting concurrently.
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sess := session("s", "user", "d"+string(rune('1'+n)))
			for j := 0; j < 10; j++ {
				_, err := f.chat.Post(ctx, sess, "msg", "")
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	var lastSeq int64
	for i := 0; i < 30; i++ {
		ev := <-ch
		require.Equal(t, service.EventMessage, ev.Type)
		m := ev.Message

		_, dup := seen[m.ID]
		assert.False(t, dup, "duplicate delivery of %s", m.ID)
		seen[m.ID] = struct{}{}

		assert.Greater(t, m.Seq, lastSeq, "delivery order must be monotonic")
		lastSeq = m.Seq
	}
}

func TestSubscribeTailSnapshot(t *testing.T) {
	f := newChatFixture(t, 100)
	ctx := context.Background()
	f.bans.On("IsBanned", mock.Anything, mock.Anything).Return(false, nil)

	for i := 0; i < 5; i++ {
		_, err := f.chat.Post(ctx, session("s1", "alice", "d1"), "early", "")
		require.NoError(t, err)
	}

	history, ch, cancel := f.chat.SubscribeTail(3)
	defer cancel()

	require.Len(t, history, 3)
	for i := 1; i < len(history); i++ {
		assert.Greater(t, history[i].Seq, history[i-1].Seq)
	}

	// A message posted after subscribing arrives exactly once, after
	// the snapshot.
	m, err := f.chat.Post(ctx, session("s1", "alice", "d1"), "late", "")
	require.NoError(t, err)
	ev := <-ch
	assert.Equal(t, m.ID, ev.Message.ID)
	assert.Greater(t, ev.Message.Seq, history[len(history)-1].Seq)
}

func TestReplySnapshotSurvivesClear(t *testing.T) {
	f := newChatFixture(t, 100)
	ctx := context.Background()
	f.bans.On("IsBanned", mock.Anything, mock.Anything).Return(false, nil)

	orig, err := f.chat.Post(ctx, session("s1", "alice", "d1"), "hello", "")
	require.NoError(t, err)

	reply, err := f.chat.Post(ctx, session("s2", "bob", "d2"), "hi back", orig.ID)
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, "hello", reply.ReplyTo.Text)
	assert.Equal(t, "alice", reply.ReplyTo.Username)

	require.NoError(t, f.chat.ClearAll(ctx))

	// The stored reply excerpt is a snapshot; clearing the original
	// never alters it.
	assert.Equal(t, "hello", reply.ReplyTo.Text)
	assert.Equal(t, "alice", reply.ReplyTo.Username)
}

func TestClearAll(t *testing.T) {
	f := newChatFixture(t, 100)
	ctx := context.Background()
	f.bans.On("IsBanned", mock.Anything, mock.Anything).Return(false, nil)

	_, ch, cancel := f.chat.SubscribeTail(0)
	defer cancel()

	for i := 0; i < 3; i++ {
		_, err := f.chat.Post(ctx, session("s1", "alice", "d1"), "msg", "")
		require.NoError(t, err)
	}
	require.NoError(t, f.chat.ClearAll(ctx))

	// The subscriber sees the three messages then exactly one cleared
	// event; the log is empty afterwards.
	for i := 0; i < 3; i++ {
		ev := <-ch
		assert.Equal(t, service.EventMessage, ev.Type)
	}
	ev := <-ch
	assert.Equal(t, service.EventCleared, ev.Type)
	assert.Empty(t, f.chat.History(0))
}

func TestClearAllIsAtomic(t *testing.T) {
	f := newChatFixture(t, 100)
	ctx := context.Background()
	f.bans.On("IsBanned", mock.Anything, mock.Anything).Return(false, nil)

	_, ch, cancel := f.chat.SubscribeTail(0)
	defer cancel()

	// Three sessions posting while the admin clears the log.
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sess := session("s", "user", "d"+string(rune('1'+n)))
			_, err := f.chat.Post(ctx, sess, "in flight", "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, f.chat.ClearAll(ctx))
	}()
	wg.Wait()
	cancel()

	// Replay the subscriber's view: after the cleared event only
	// messages appended after the clear may appear, in order. The
	// clear itself is never partial.
	var afterClear []*domain.ChatMessage
	cleared := false
	for ev := range ch {
		switch ev.Type {
		case service.EventCleared:
			cleared = true
			afterClear = nil
		case service.EventMessage:
			if cleared {
				afterClear = append(afterClear, ev.Message)
			}
		}
	}
	require.True(t, cleared)

	history := f.chat.History(0)
	require.Len(t, history, len(afterClear))
	for i := range history {
		assert.Equal(t, afterClear[i].ID, history[i].ID)
	}
}

func TestHistoryLimitBoundsWindow(t *testing.T) {
	f := newChatFixture(t, 5)
	ctx := context.Background()
	f.bans.On("IsBanned", mock.Anything, mock.Anything).Return(false, nil)

	for i := 0; i < 12; i++ {
		_, err := f.chat.Post(ctx, session("s1", "alice", "d1"), "msg", "")
		require.NoError(t, err)
	}

	history := f.chat.History(0)
	assert.Len(t, history, 5)

	// The persisted window is pruned to the same bound.
	restored := service.NewChatService(
		zap.NewNop().Sugar(),
		sqlite.NewMessageRepo(f.db),
		sqlite.NewReactionRepo(f.db),
		f.bans,
		5,
		2000,
	)
	require.NoError(t, restored.Restore(ctx))
	assert.Len(t, restored.History(0), 5)
}

// Compile-time check: the real moderation service satisfies the ban
// dependency of the chat service.
var _ service.BanChecker = (*service.ModerationService)(nil)
