package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"portalchat/internal/domain"
	"portalchat/internal/presence"
	"portalchat/internal/service"
	"portalchat/internal/store/sqlite"
)

type moderationFixture struct {
	chat       *service.ChatService
	moderation *service.ModerationService
	presence   *presence.Registry
}

func newModerationFixture(t *testing.T) *moderationFixture {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })

	logger := zap.NewNop().Sugar()
	msgRepo := sqlite.NewMessageRepo(db)
	reg := presence.NewRegistry(logger, time.Minute)

	moderation := service.NewModerationService(
		logger,
		sqlite.NewBanRepo(db),
		sqlite.NewReportRepo(db),
		sqlite.NewDeviceNameRepo(db),
		msgRepo,
		reg,
	)
	chat := service.NewChatService(logger, msgRepo, sqlite.NewReactionRepo(db), moderation, 100, 2000)

	return &moderationFixture{chat: chat, moderation: moderation, presence: reg}
}

func TestBanLifecycle(t *testing.T) {
	f := newModerationFixture(t)
	ctx := context.Background()

	f.presence.Join("s1", "mallory", "d1")
	f.presence.Join("s2", "mallory-phone", "d1")
	f.presence.Join("s3", "alice", "d2")

	banCh, cancelBans := f.moderation.SubscribeBans()
	defer cancelBans()

	t.Run("BanRequiresAdmin", func(t *testing.T) {
		err := f.moderation.Ban(ctx, "d1", "spam", "")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("BanPropagates", func(t *testing.T) {
		require.NoError(t, f.moderation.Ban(ctx, "d1", "spam", "mod1"))

		banned, err := f.moderation.IsBanned(ctx, "d1")
		require.NoError(t, err)
		assert.True(t, banned)

		// Every presence entry of the device is force-removed.
		sessions := f.presence.ListSessions()
		require.Len(t, sessions, 1)
		assert.Equal(t, "alice", sessions[0].Username)

		// Subscribers are told about the flip.
		ev := <-banCh
		assert.Equal(t, "d1", ev.DeviceID)
		assert.True(t, ev.Banned)
		assert.Equal(t, "spam", ev.Reason)
	})

	t.Run("PostWhileBanned", func(t *testing.T) {
		_, err := f.chat.Post(ctx, session("s1", "mallory", "d1"), "still here", "")
		assert.ErrorIs(t, err, domain.ErrBanned)
	})

	t.Run("ListBans", func(t *testing.T) {
		bans, err := f.moderation.ListBans(ctx)
		require.NoError(t, err)
		require.Len(t, bans, 1)
		assert.Equal(t, "mod1", bans[0].BannedBy)
	})

	t.Run("Unban", func(t *testing.T) {
		require.NoError(t, f.moderation.Unban(ctx, "d1"))

		banned, err := f.moderation.IsBanned(ctx, "d1")
		require.NoError(t, err)
		assert.False(t, banned)

		ev := <-banCh
		assert.False(t, ev.Banned)

		_, err = f.chat.Post(ctx, session("s1", "mallory", "d1"), "back", "")
		assert.NoError(t, err)
	})

	t.Run("UnbanUnknown", func(t *testing.T) {
		assert.ErrorIs(t, f.moderation.Unban(ctx, "ghost"), domain.ErrNotFound)
	})
}

func TestFileReport(t *testing.T) {
	f := newModerationFixture(t)
	ctx := context.Background()

	msg, err := f.chat.Post(ctx, session("s1", "alice", "d1"), "rude thing", "")
	require.NoError(t, err)

	t.Run("Success", func(t *testing.T) {
		rep, err := f.moderation.FileReport(ctx, msg.ID, "d2", "offensive")
		require.NoError(t, err)
		assert.Equal(t, domain.ReportPending, rep.Status)
		assert.Equal(t, "rude thing", rep.MessageText)
		assert.Equal(t, "alice", rep.ReportedUsername)
		assert.Equal(t, "d1", rep.ReportedDeviceID)
	})

	t.Run("Duplicate", func(t *testing.T) {
		start := time.Now()
		_, err := f.moderation.FileReport(ctx, msg.ID, "d2", "again")
		assert.ErrorIs(t, err, domain.ErrDuplicateReport)
		// An expected outcome, not a transient fault: no retry backoff.
		assert.Less(t, time.Since(start), 100*time.Millisecond)

		// Exactly one report exists for the pair.
		reports, err := f.moderation.ListReports(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, reports, 1)
	})

	t.Run("SelfReport", func(t *testing.T) {
		_, err := f.moderation.FileReport(ctx, msg.ID, "d1", "self")
		assert.ErrorIs(t, err, domain.ErrSelfAction)
	})

	t.Run("UnknownMessage", func(t *testing.T) {
		_, err := f.moderation.FileReport(ctx, "ghost", "d2", "meh")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestReportWorkflow(t *testing.T) {
	f := newModerationFixture(t)
	ctx := context.Background()

	msg, err := f.chat.Post(ctx, session("s1", "alice", "d1"), "bad", "")
	require.NoError(t, err)
	rep, err := f.moderation.FileReport(ctx, msg.ID, "d2", "report me")
	require.NoError(t, err)

	steps := []struct {
		name string
		to   domain.ReportStatus
		ok   bool
	}{
		{"PendingToResolvedRejected", domain.ReportResolved, false},
		{"PendingToReviewed", domain.ReportReviewed, true},
		{"ReviewedToDismissedRejected", domain.ReportDismissed, false},
		{"ReviewedToResolved", domain.ReportResolved, true},
		{"ResolvedReopens", domain.ReportPending, true},
		{"PendingToDismissed", domain.ReportDismissed, true},
		{"DismissedReopens", domain.ReportPending, true},
	}
	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			updated, err := f.moderation.SetReportStatus(ctx, rep.ID, step.to)
			if step.ok {
				require.NoError(t, err)
				assert.Equal(t, step.to, updated.Status)
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalidTransition)
			}
		})
	}

	t.Run("UnknownReport", func(t *testing.T) {
		_, err := f.moderation.SetReportStatus(ctx, "ghost", domain.ReportReviewed)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("BogusStatus", func(t *testing.T) {
		_, err := f.moderation.SetReportStatus(ctx, rep.ID, domain.ReportStatus("weird"))
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestSearchUsername(t *testing.T) {
	f := newModerationFixture(t)
	ctx := context.Background()

	// Source 1: entry registry.
	f.moderation.RecordDeviceName(ctx, "alice", "d-registry")
	// Source 2: recent message authorship.
	_, err := f.chat.Post(ctx, session("s9", "alice", "d-messages"), "hi", "")
	require.NoError(t, err)
	// Source 3: live presence.
	f.presence.Join("s1", "alice", "d-presence")
	// A device correlated by several sources at once.
	f.moderation.RecordDeviceName(ctx, "alice", "d-presence")

	matches, err := f.moderation.SearchUsername(ctx, "alice")
	require.NoError(t, err)

	bySources := make(map[string][]string)
	for _, m := range matches {
		bySources[m.DeviceID] = m.Sources
	}
	require.Len(t, bySources, 3)
	assert.Equal(t, []string{"registry"}, bySources["d-registry"])
	assert.Equal(t, []string{"messages"}, bySources["d-messages"])
	assert.ElementsMatch(t, []string{"registry", "presence"}, bySources["d-presence"])

	t.Run("NoMatches", func(t *testing.T) {
		matches, err := f.moderation.SearchUsername(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("EmptyName", func(t *testing.T) {
		_, err := f.moderation.SearchUsername(ctx, "")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}
