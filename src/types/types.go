package types

import "time"

// Proposal sources, in display priority order.
const (
	SourceTally     = "tally"
	SourceSnapshot  = "snapshot"
	SourceDiscourse = "discourse"
)

// Computed proposal statuses.
const (
	StatusPending    = "pending"
	StatusActive     = "active"
	StatusClosed     = "closed"
	StatusDiscussion = "discussion"
)

// Notification types.
const (
	NotifyNewProposal = "new_proposal"
	NotifyEndingSoon  = "ending_soon"
	NotifyWelcome     = "welcome"
)

type Proposal struct {
	ID             uint64  `gorm:"primaryKey" json:"id"`
	ExternalID     string  `gorm:"size:128;not null;uniqueIndex:idx_external_source" json:"external_id"`
	Source         string  `gorm:"size:16;not null;uniqueIndex:idx_external_source" json:"source"`
	Title          string  `gorm:"size:512;not null" json:"title"`
	Description    *string `gorm:"type:text" json:"description"`
	Author         *string `gorm:"size:255" json:"author"`
	Status         string  `gorm:"size:16;index" json:"status"`
	ForVotes       float64 `json:"for_votes"`
	AgainstVotes   float64 `json:"against_votes"`
	Quorum         *float64
	VotingStartsAt *time.Time `gorm:"index" json:"voting_starts_at"`
	VotingEndsAt   *time.Time `gorm:"index" json:"voting_ends_at"`
	URL            string     `gorm:"size:512" json:"url"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type Delegate struct {
	ID            string  `gorm:"primaryKey;size:36" json:"id"`
	WalletAddress *string `gorm:"size:64;uniqueIndex" json:"wallet_address"`
	Email         *string `gorm:"size:255;uniqueIndex" json:"email"`
	DisplayName   *string `gorm:"size:255" json:"display_name"`
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Subscriptions []PushSubscription     `gorm:"foreignKey:DelegateID" json:"subscriptions,omitempty"`
	Preference    *NotificationPreference `gorm:"foreignKey:DelegateID" json:"preference,omitempty"`
}

type PushSubscription struct {
	ID                   uint64 `gorm:"primaryKey" json:"id"`
	DelegateID           string `gorm:"size:36;not null;uniqueIndex:idx_delegate_endpoint" json:"delegate_id"`
	Endpoint             string `gorm:"size:512;not null;uniqueIndex:idx_delegate_endpoint" json:"endpoint"`
	P256dh               string `gorm:"size:255;not null" json:"p256dh"`
	Auth                 string `gorm:"size:64;not null" json:"auth"`
	TestNotificationSent bool   `gorm:"default:false" json:"test_notification_sent"`
	CreatedAt            time.Time
}

type NotificationPreference struct {
	ID               uint64 `gorm:"primaryKey" json:"id"`
	DelegateID       string `gorm:"size:36;not null;uniqueIndex" json:"delegate_id"`
	NotifyDiscourse  bool   `json:"notify_discourse"`
	NotifySnapshot   bool   `json:"notify_snapshot"`
	NotifyTally      bool   `json:"notify_tally"`
	NotifyActiveOnly bool   `json:"notify_active_only"`
	UpdatedAt        time.Time
}

// Notification is the append-only send log. The unique index is what keeps a
// delegate from being notified twice for the same proposal and type.
type Notification struct {
	ID               uint64 `gorm:"primaryKey"`
	ProposalID       uint64 `gorm:"not null;uniqueIndex:idx_notif_once"`
	DelegateID       string `gorm:"size:36;not null;uniqueIndex:idx_notif_once"`
	NotificationType string `gorm:"size:32;not null;uniqueIndex:idx_notif_once"`
	CreatedAt        time.Time
}

// DefaultPreference is assumed for delegates without a stored row: every
// source enabled, no active-only filter.
func DefaultPreference(delegateID string) NotificationPreference {
	return NotificationPreference{
		DelegateID:      delegateID,
		NotifyDiscourse: true,
		NotifySnapshot:  true,
		NotifyTally:     true,
	}
}

// WantsSource reports whether a preference allows notifications for the given
// source. A nil preference means everything is enabled.
func (p *NotificationPreference) WantsSource(source string) bool {
	if p == nil {
		return true
	}
	switch source {
	case SourceDiscourse:
		return p.NotifyDiscourse
	case SourceSnapshot:
		return p.NotifySnapshot
	case SourceTally:
		return p.NotifyTally
	}
	return false
}
