// Package sources defines the contract shared by the three proposal feeds
// (Tally, Snapshot, Discourse) and the in-memory cache they sit behind.
package sources

import (
	"context"
	"time"
)

// RawProposal is the pre-aggregation record every adapter maps its feed into.
type RawProposal struct {
	ExternalID   string
	Title        string
	Description  *string
	Author       *string
	SourceStatus string // source-native status hint, e.g. tally "executed"
	ForVotes     float64
	AgainstVotes float64
	Quorum       *float64
	StartsAt     *time.Time
	EndsAt       *time.Time
	URL          string
	CreatedAt    time.Time
}

// Adapter fetches one external feed. Fetch returns records ordered the way
// the remote reports them; aggregation imposes its own ordering afterwards.
type Adapter interface {
	Source() string
	Fetch(ctx context.Context) ([]RawProposal, error)
}
