package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/daovote/govdash/src/types"
)

type CheckResult struct {
	NewProposals int             `json:"newProposals"`
	EndingSoon   int             `json:"endingSoon"`
	Results      []DispatchEntry `json:"results"`
}

type DispatchEntry struct {
	ProposalID uint64  `json:"proposalId"`
	Title      string  `json:"title"`
	Type       string  `json:"type"`
	Outcome    Outcome `json:"outcome"`
}

// CheckNew runs the two detector queries and dispatches whatever has not
// been notified yet. A failed dispatch is logged and skipped; the proposal
// stays unnotified and the next run retries it.
func (s *Service) CheckNew(ctx context.Context) (CheckResult, error) {
	now := time.Now()

	recent, err := s.store.RecentProposals(ctx, now)
	if err != nil {
		return CheckResult{}, fmt.Errorf("recent proposals: %w", err)
	}
	newWork, err := s.store.FilterUnnotified(ctx, recent, types.NotifyNewProposal)
	if err != nil {
		return CheckResult{}, fmt.Errorf("dedup new proposals: %w", err)
	}

	ending, err := s.store.EndingSoonProposals(ctx, now)
	if err != nil {
		return CheckResult{}, fmt.Errorf("ending-soon proposals: %w", err)
	}
	endingWork, err := s.store.FilterUnnotified(ctx, ending, types.NotifyEndingSoon)
	if err != nil {
		return CheckResult{}, fmt.Errorf("dedup ending-soon: %w", err)
	}

	result := CheckResult{
		NewProposals: len(newWork),
		EndingSoon:   len(endingWork),
	}
	result.Results = append(result.Results,
		s.dispatchAll(ctx, newWork, types.NotifyNewProposal)...)
	result.Results = append(result.Results,
		s.dispatchAll(ctx, endingWork, types.NotifyEndingSoon)...)
	return result, nil
}

func (s *Service) dispatchAll(ctx context.Context, proposals []types.Proposal, notificationType string) []DispatchEntry {
	entries := make([]DispatchEntry, 0, len(proposals))
	for i := range proposals {
		p := &proposals[i]
		outcome, err := s.Dispatch(ctx, p, notificationType)
		if err != nil {
			log.Printf("notify: dispatch %s for proposal %d: %v", notificationType, p.ID, err)
			continue
		}
		entries = append(entries, DispatchEntry{
			ProposalID: p.ID,
			Title:      p.Title,
			Type:       notificationType,
			Outcome:    outcome,
		})
	}
	return entries
}
