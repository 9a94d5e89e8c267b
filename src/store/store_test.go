package store

import (
	"context"
	"testing"
	"time"

	"github.com/daovote/govdash/src/sources"
	"github.com/daovote/govdash/src/types"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&types.Proposal{},
		&types.Delegate{},
		&types.PushSubscription{},
		&types.NotificationPreference{},
		&types.Notification{},
	))
	return New(db)
}

type stubAdapter struct {
	source string
	raws   []sources.RawProposal
	err    error
}

func (s *stubAdapter) Source() string { return s.source }

func (s *stubAdapter) Fetch(ctx context.Context) ([]sources.RawProposal, error) {
	return s.raws, s.err
}

func seedProposal(t *testing.T, s *Store, p types.Proposal) types.Proposal {
	require.NoError(t, s.db.Create(&p).Error)
	return p
}

func TestSyncProposalsIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	end := now.Add(72 * time.Hour)

	adapters := []sources.Adapter{
		&stubAdapter{source: types.SourceTally, raws: []sources.RawProposal{
			{ExternalID: "12", Title: "First", StartsAt: &now, EndsAt: &end, CreatedAt: now},
		}},
	}

	n, err := s.SyncProposals(ctx, adapters)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Same external id again with updated fields: row count stays at one.
	adapters[0] = &stubAdapter{source: types.SourceTally, raws: []sources.RawProposal{
		{ExternalID: "12", Title: "First (edited)", ForVotes: 42, StartsAt: &now, EndsAt: &end, CreatedAt: now},
	}}
	_, err = s.SyncProposals(ctx, adapters)
	require.NoError(t, err)

	var rows []types.Proposal
	require.NoError(t, s.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "First (edited)", rows[0].Title)
	assert.Equal(t, 42.0, rows[0].ForVotes)
}

func TestSyncProposalsAbortsOnAdapterError(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SyncProposals(context.Background(), []sources.Adapter{
		&stubAdapter{source: types.SourceTally, err: context.DeadlineExceeded},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tally fetch")
}

func TestDetectorWindows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := seedProposal(t, s, types.Proposal{
		ExternalID: "new", Source: types.SourceTally, Title: "new",
		Status: types.StatusActive, CreatedAt: now.Add(-time.Hour),
	})
	seedProposal(t, s, types.Proposal{
		ExternalID: "old", Source: types.SourceTally, Title: "old",
		Status: types.StatusActive, CreatedAt: now.Add(-7 * time.Hour),
	})

	in24h := now.Add(24 * time.Hour)
	in30h := now.Add(30 * time.Hour)
	ending := seedProposal(t, s, types.Proposal{
		ExternalID: "ending", Source: types.SourceSnapshot, Title: "ending",
		Status: types.StatusActive, CreatedAt: now.Add(-48 * time.Hour), VotingEndsAt: &in24h,
	})
	seedProposal(t, s, types.Proposal{
		ExternalID: "later", Source: types.SourceSnapshot, Title: "later",
		Status: types.StatusActive, CreatedAt: now.Add(-48 * time.Hour), VotingEndsAt: &in30h,
	})
	seedProposal(t, s, types.Proposal{
		ExternalID: "forum-ending", Source: types.SourceDiscourse, Title: "forum",
		Status: types.StatusDiscussion, CreatedAt: now.Add(-48 * time.Hour), VotingEndsAt: &in24h,
	})

	recent, err := s.RecentProposals(ctx, now)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, fresh.ID, recent[0].ID)

	soon, err := s.EndingSoonProposals(ctx, now)
	require.NoError(t, err)
	require.Len(t, soon, 1)
	assert.Equal(t, ending.ID, soon[0].ID)
}

func TestNotificationLogDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p1 := seedProposal(t, s, types.Proposal{ExternalID: "1", Source: types.SourceTally, Title: "a"})
	p2 := seedProposal(t, s, types.Proposal{ExternalID: "2", Source: types.SourceTally, Title: "b"})

	require.NoError(t, s.MarkNotified(ctx, p1.ID, []string{"d1", "d2"}, types.NotifyNewProposal))

	left, err := s.FilterUnnotified(ctx, []types.Proposal{p1, p2}, types.NotifyNewProposal)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, p2.ID, left[0].ID)

	// The same proposal under a different type is still pending.
	left, err = s.FilterUnnotified(ctx, []types.Proposal{p1, p2}, types.NotifyEndingSoon)
	require.NoError(t, err)
	assert.Len(t, left, 2)

	// Re-marking existing rows is a no-op, not an error.
	require.NoError(t, s.MarkNotified(ctx, p1.ID, []string{"d1", "d3"}, types.NotifyNewProposal))
	var count int64
	require.NoError(t, s.db.Model(&types.Notification{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestUpsertDelegateByWalletAndEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wallet := "0xAbCd"
	email := "alice@example.org"
	name := "Alice"

	d1, err := s.UpsertDelegate(ctx, &wallet, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, d1.ID)

	// Same wallet again updates in place.
	d2, err := s.UpsertDelegate(ctx, &wallet, &email, &name)
	require.NoError(t, err)
	assert.Equal(t, d1.ID, d2.ID)

	got, err := s.GetDelegate(ctx, d1.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Email)
	assert.Equal(t, email, *got.Email)
	require.NotNil(t, got.DisplayName)
	assert.Equal(t, name, *got.DisplayName)

	// Email-only identity creates a distinct delegate.
	other := "bob@example.org"
	d3, err := s.UpsertDelegate(ctx, nil, &other, nil)
	require.NoError(t, err)
	assert.NotEqual(t, d1.ID, d3.ID)
}

func TestUpdateDelegateKeepsUnspecifiedFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wallet := "0xAbCd"
	email := "alice@example.org"
	name := "Alice"

	d, err := s.UpsertDelegate(ctx, &wallet, &email, &name)
	require.NoError(t, err)

	newName := "Alice L."
	got, err := s.UpdateDelegate(ctx, d.ID, &newName, nil, nil)
	require.NoError(t, err)

	require.NotNil(t, got.DisplayName)
	assert.Equal(t, newName, *got.DisplayName)
	require.NotNil(t, got.Email, "email survives a display-name-only update")
	assert.Equal(t, email, *got.Email)
	require.NotNil(t, got.WalletAddress, "wallet survives a display-name-only update")
	assert.Equal(t, wallet, *got.WalletAddress)

	// Updating only the email leaves the fresh display name alone.
	newEmail := "alice.l@example.org"
	got, err = s.UpdateDelegate(ctx, d.ID, nil, &newEmail, nil)
	require.NoError(t, err)
	require.NotNil(t, got.DisplayName)
	assert.Equal(t, newName, *got.DisplayName)
	require.NotNil(t, got.Email)
	assert.Equal(t, newEmail, *got.Email)
}

func TestSubscriptionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wallet := "0x01"
	d, err := s.UpsertDelegate(ctx, &wallet, nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.UpsertSubscription(ctx, d.ID, "https://push/ep1", "k1", "a1"))
	require.NoError(t, s.UpsertSubscription(ctx, d.ID, "https://push/ep2", "k2", "a2"))
	// Re-registering an endpoint refreshes keys instead of duplicating.
	require.NoError(t, s.UpsertSubscription(ctx, d.ID, "https://push/ep1", "k1b", "a1b"))

	subs, err := s.AllSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	withSubs, err := s.DelegatesWithSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, withSubs, 1)
	assert.Len(t, withSubs[0].Subscriptions, 2)

	require.NoError(t, s.PruneSubscriptions(ctx, []string{"https://push/ep1"}))
	require.NoError(t, s.DeleteSubscriptionByEndpoint(ctx, "https://push/ep2"))
	subs, err = s.AllSubscriptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestWelcomeWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	wallet := "0x02"
	d, err := s.UpsertDelegate(ctx, &wallet, nil, nil)
	require.NoError(t, err)

	mk := func(endpoint string, age time.Duration, sent bool) types.PushSubscription {
		sub := types.PushSubscription{
			DelegateID: d.ID, Endpoint: endpoint, P256dh: "k", Auth: "a",
			TestNotificationSent: sent, CreatedAt: now.Add(-age),
		}
		require.NoError(t, s.db.Create(&sub).Error)
		return sub
	}
	tooNew := mk("ep-new", time.Minute, false)
	due := mk("ep-due", 150*time.Second, false)
	mk("ep-old", 10*time.Minute, false)
	mk("ep-done", 150*time.Second, true)

	pending, err := s.WelcomePending(ctx, now)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, due.ID, pending[0].ID)

	require.NoError(t, s.MarkWelcomeSent(ctx, due.ID))
	pending, err = s.WelcomePending(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_ = tooNew
}

func TestPreferencesDefaultAndUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pref, err := s.GetPreference(ctx, "ghost")
	require.NoError(t, err)
	assert.True(t, pref.NotifyTally)
	assert.True(t, pref.NotifySnapshot)
	assert.True(t, pref.NotifyDiscourse)
	assert.False(t, pref.NotifyActiveOnly)

	saved, err := s.UpsertPreference(ctx, types.NotificationPreference{
		DelegateID: "d1", NotifyTally: true, NotifyActiveOnly: true,
	})
	require.NoError(t, err)
	assert.False(t, saved.NotifySnapshot)
	assert.True(t, saved.NotifyActiveOnly)

	saved, err = s.UpsertPreference(ctx, types.NotificationPreference{
		DelegateID: "d1", NotifyTally: true, NotifySnapshot: true,
	})
	require.NoError(t, err)
	assert.True(t, saved.NotifySnapshot)
	assert.False(t, saved.NotifyActiveOnly)

	var count int64
	require.NoError(t, s.db.Model(&types.NotificationPreference{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
