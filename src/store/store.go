// Package store wraps every persisted collection behind simple CRUD calls:
// proposal upserts, the detector queries, the notification log and the
// delegate/subscription lifecycle.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/daovote/govdash/src/aggregator"
	"github.com/daovote/govdash/src/sources"
	"github.com/daovote/govdash/src/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// proposalUpdateColumns are refreshed on re-sync; identity columns are not.
var proposalUpdateColumns = []string{
	"title", "description", "author", "status", "for_votes", "against_votes",
	"quorum", "voting_starts_at", "voting_ends_at", "url", "updated_at",
}

// SyncProposals fetches every feed and upserts the results keyed on
// (external_id, source). Re-running it never duplicates rows. A tally failure
// aborts the sync; the other adapters degrade internally.
func (s *Store) SyncProposals(ctx context.Context, adapters []sources.Adapter) (int, error) {
	now := time.Now()
	var rows []types.Proposal
	for _, adapter := range adapters {
		raws, err := adapter.Fetch(ctx)
		if err != nil {
			return 0, fmt.Errorf("%s fetch: %w", adapter.Source(), err)
		}
		for _, raw := range raws {
			rows = append(rows, aggregator.Normalize(adapter.Source(), raw, now))
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}, {Name: "source"}},
		DoUpdates: clause.AssignmentColumns(proposalUpdateColumns),
	}).Create(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("upsert proposals: %w", err)
	}
	return len(rows), nil
}

func (s *Store) GetProposal(ctx context.Context, id uint64) (*types.Proposal, error) {
	var p types.Proposal
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// RecentProposals returns proposals created within the last six hours,
// newest first.
func (s *Store) RecentProposals(ctx context.Context, now time.Time) ([]types.Proposal, error) {
	var out []types.Proposal
	err := s.db.WithContext(ctx).
		Where("created_at >= ?", now.Add(-6*time.Hour)).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// EndingSoonProposals returns active proposals whose voting deadline falls
// 23 to 25 hours from now. Only tally and snapshot have real deadlines.
func (s *Store) EndingSoonProposals(ctx context.Context, now time.Time) ([]types.Proposal, error) {
	var out []types.Proposal
	err := s.db.WithContext(ctx).
		Where("voting_ends_at >= ? AND voting_ends_at <= ?",
			now.Add(23*time.Hour), now.Add(25*time.Hour)).
		Where("source IN ?", []string{types.SourceTally, types.SourceSnapshot}).
		Where("status = ?", types.StatusActive).
		Find(&out).Error
	return out, err
}

// FilterUnnotified drops proposals that already have a notification log entry
// for the given type. One batch query, not one per proposal.
func (s *Store) FilterUnnotified(ctx context.Context, proposals []types.Proposal, notificationType string) ([]types.Proposal, error) {
	if len(proposals) == 0 {
		return nil, nil
	}
	ids := make([]uint64, len(proposals))
	for i, p := range proposals {
		ids[i] = p.ID
	}

	var notified []uint64
	err := s.db.WithContext(ctx).Model(&types.Notification{}).
		Where("proposal_id IN ? AND notification_type = ?", ids, notificationType).
		Distinct().
		Pluck("proposal_id", &notified).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[uint64]bool, len(notified))
	for _, id := range notified {
		seen[id] = true
	}
	var out []types.Proposal
	for _, p := range proposals {
		if !seen[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}

// MarkNotified appends one log row per delegate. Conflicts with existing rows
// are ignored so a concurrent detector run cannot double-log.
func (s *Store) MarkNotified(ctx context.Context, proposalID uint64, delegateIDs []string, notificationType string) error {
	if len(delegateIDs) == 0 {
		return nil
	}
	rows := make([]types.Notification, len(delegateIDs))
	for i, id := range delegateIDs {
		rows[i] = types.Notification{
			ProposalID:       proposalID,
			DelegateID:       id,
			NotificationType: notificationType,
		}
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// DelegatesWithSubscriptions loads every delegate owning at least one push
// subscription, with subscriptions and preference eagerly loaded.
func (s *Store) DelegatesWithSubscriptions(ctx context.Context) ([]types.Delegate, error) {
	var out []types.Delegate
	sub := s.db.Model(&types.PushSubscription{}).Select("delegate_id")
	err := s.db.WithContext(ctx).
		Where("id IN (?)", sub).
		Preload("Subscriptions").
		Preload("Preference").
		Find(&out).Error
	return out, err
}

func (s *Store) GetDelegate(ctx context.Context, id string) (*types.Delegate, error) {
	var d types.Delegate
	err := s.db.WithContext(ctx).
		Preload("Subscriptions").
		Preload("Preference").
		First(&d, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpsertDelegate finds or creates a delegate keyed on wallet address when
// present, otherwise on email. Exactly one of the two must be set.
func (s *Store) UpsertDelegate(ctx context.Context, wallet, email, displayName *string) (*types.Delegate, error) {
	q := s.db.WithContext(ctx)
	var d types.Delegate
	var err error
	if wallet != nil {
		err = q.First(&d, "wallet_address = ?", *wallet).Error
	} else {
		err = q.First(&d, "email = ?", *email).Error
	}
	if err == gorm.ErrRecordNotFound {
		d = types.Delegate{
			ID:            uuid.NewString(),
			WalletAddress: wallet,
			Email:         email,
			DisplayName:   displayName,
		}
		if err := q.Create(&d).Error; err != nil {
			return nil, err
		}
		return &d, nil
	}
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"updated_at": time.Now()}
	if displayName != nil {
		updates["display_name"] = *displayName
	}
	if wallet != nil {
		updates["wallet_address"] = *wallet
	}
	if email != nil {
		updates["email"] = *email
	}
	if err := q.Model(&d).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDelegate applies a partial update: nil fields are left untouched so a
// display-name-only patch cannot erase the wallet or email identity keys.
func (s *Store) UpdateDelegate(ctx context.Context, id string, displayName, email, wallet *string) (*types.Delegate, error) {
	updates := map[string]interface{}{"updated_at": time.Now()}
	if displayName != nil {
		updates["display_name"] = *displayName
	}
	if email != nil {
		updates["email"] = *email
	}
	if wallet != nil {
		updates["wallet_address"] = *wallet
	}
	if err := s.db.WithContext(ctx).Model(&types.Delegate{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.GetDelegate(ctx, id)
}

// UpsertSubscription registers or refreshes one browser push endpoint.
func (s *Store) UpsertSubscription(ctx context.Context, delegateID, endpoint, p256dh, auth string) error {
	q := s.db.WithContext(ctx)
	var sub types.PushSubscription
	err := q.First(&sub, "delegate_id = ? AND endpoint = ?", delegateID, endpoint).Error
	if err == gorm.ErrRecordNotFound {
		return q.Create(&types.PushSubscription{
			DelegateID: delegateID,
			Endpoint:   endpoint,
			P256dh:     p256dh,
			Auth:       auth,
		}).Error
	}
	if err != nil {
		return err
	}
	return q.Model(&sub).Updates(map[string]interface{}{"p256dh": p256dh, "auth": auth}).Error
}

func (s *Store) DeleteSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).
		Where("endpoint = ?", endpoint).
		Delete(&types.PushSubscription{}).Error
}

// PruneSubscriptions removes endpoints the push service reported as gone.
func (s *Store) PruneSubscriptions(ctx context.Context, endpoints []string) error {
	if len(endpoints) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("endpoint IN ?", endpoints).
		Delete(&types.PushSubscription{}).Error
}

func (s *Store) AllSubscriptions(ctx context.Context) ([]types.PushSubscription, error) {
	var out []types.PushSubscription
	err := s.db.WithContext(ctx).Find(&out).Error
	return out, err
}

// WelcomePending returns subscriptions created two to three minutes ago that
// have not received their welcome notification. The lower bound gives the
// browser time to finish service-worker registration.
func (s *Store) WelcomePending(ctx context.Context, now time.Time) ([]types.PushSubscription, error) {
	var out []types.PushSubscription
	err := s.db.WithContext(ctx).
		Where("test_notification_sent = ?", false).
		Where("created_at >= ? AND created_at <= ?",
			now.Add(-3*time.Minute), now.Add(-2*time.Minute)).
		Find(&out).Error
	return out, err
}

func (s *Store) MarkWelcomeSent(ctx context.Context, subscriptionID uint64) error {
	return s.db.WithContext(ctx).Model(&types.PushSubscription{}).
		Where("id = ?", subscriptionID).
		Update("test_notification_sent", true).Error
}

func (s *Store) GetPreference(ctx context.Context, delegateID string) (*types.NotificationPreference, error) {
	var p types.NotificationPreference
	err := s.db.WithContext(ctx).First(&p, "delegate_id = ?", delegateID).Error
	if err == gorm.ErrRecordNotFound {
		def := types.DefaultPreference(delegateID)
		return &def, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpsertPreference(ctx context.Context, pref types.NotificationPreference) (*types.NotificationPreference, error) {
	q := s.db.WithContext(ctx)
	var existing types.NotificationPreference
	err := q.First(&existing, "delegate_id = ?", pref.DelegateID).Error
	if err == gorm.ErrRecordNotFound {
		if err := q.Create(&pref).Error; err != nil {
			return nil, err
		}
		return &pref, nil
	}
	if err != nil {
		return nil, err
	}
	err = q.Model(&existing).Updates(map[string]interface{}{
		"notify_discourse":   pref.NotifyDiscourse,
		"notify_snapshot":    pref.NotifySnapshot,
		"notify_tally":       pref.NotifyTally,
		"notify_active_only": pref.NotifyActiveOnly,
		"updated_at":         time.Now(),
	}).Error
	if err != nil {
		return nil, err
	}
	return s.GetPreference(ctx, pref.DelegateID)
}
