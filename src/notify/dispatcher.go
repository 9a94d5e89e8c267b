// Package notify decides who gets told about which proposal and records the
// outcome. The dedup log is the only retry mechanism: a delegate whose every
// device failed gets no log row and is picked up again on the next tick.
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/daovote/govdash/src/data"
	"github.com/daovote/govdash/src/store"
	"github.com/daovote/govdash/src/types"
	"github.com/daovote/govdash/src/webpush"
	"github.com/redis/go-redis/v9"
)

type Service struct {
	store   *store.Store
	push    *webpush.Transport
	rdb     *redis.Client // optional, nil disables event publishing
	baseURL string
}

func New(st *store.Store, push *webpush.Transport, rdb *redis.Client, baseURL string) *Service {
	return &Service{store: st, push: push, rdb: rdb, baseURL: baseURL}
}

type Outcome struct {
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Notified int `json:"notified"` // delegates logged as notified
}

// Dispatch sends one proposal notification to every eligible delegate.
// Eligibility: the delegate has not opted out of the proposal's source, and
// the active-only flag (when set) requires an active proposal. A delegate is
// logged as notified only when at least one of their devices accepted the
// push, so failed delegates are retried by the next detector run.
func (s *Service) Dispatch(ctx context.Context, proposal *types.Proposal, notificationType string) (Outcome, error) {
	delegates, err := s.store.DelegatesWithSubscriptions(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load delegates: %w", err)
	}

	var eligible []types.Delegate
	for _, d := range delegates {
		if len(d.Subscriptions) == 0 {
			continue
		}
		if !d.Preference.WantsSource(proposal.Source) {
			continue
		}
		if d.Preference != nil && d.Preference.NotifyActiveOnly && proposal.Status != types.StatusActive {
			continue
		}
		eligible = append(eligible, d)
	}
	if len(eligible) == 0 {
		return Outcome{}, nil
	}

	payload := buildPayload(proposal, notificationType)

	var (
		mu       sync.Mutex
		outcome  Outcome
		gone     []string
		notified []string
		wg       sync.WaitGroup
	)
	for _, d := range eligible {
		wg.Add(1)
		go func(d types.Delegate) {
			defer wg.Done()
			res := s.push.SendBatch(ctx, d.Subscriptions, payload)
			mu.Lock()
			defer mu.Unlock()
			outcome.Sent += res.Sent
			outcome.Failed += res.Failed
			gone = append(gone, res.Gone...)
			if res.Sent > 0 {
				notified = append(notified, d.ID)
			}
		}(d)
	}
	wg.Wait()

	if err := s.store.MarkNotified(ctx, proposal.ID, notified, notificationType); err != nil {
		return outcome, fmt.Errorf("record notifications: %w", err)
	}
	outcome.Notified = len(notified)

	if err := s.store.PruneSubscriptions(ctx, gone); err != nil {
		log.Printf("notify: prune gone subscriptions: %v", err)
	}
	s.publishEvent(ctx, proposal, notificationType, outcome)

	return outcome, nil
}

func (s *Service) publishEvent(ctx context.Context, proposal *types.Proposal, notificationType string, outcome Outcome) {
	if s.rdb == nil {
		return
	}
	err := data.PublishNotificationEvent(ctx, s.rdb, map[string]interface{}{
		"proposal_id": proposal.ID,
		"source":      proposal.Source,
		"type":        notificationType,
		"sent":        outcome.Sent,
		"failed":      outcome.Failed,
	})
	if err != nil {
		log.Printf("notify: publish event: %v", err)
	}
}

func buildPayload(proposal *types.Proposal, notificationType string) webpush.Payload {
	switch notificationType {
	case types.NotifyEndingSoon:
		return webpush.Payload{
			Title:      "Voting ends in 24 hours!",
			Body:       fmt.Sprintf("%s (%s)", proposal.Title, proposal.Source),
			URL:        proposal.URL,
			ProposalID: proposal.ID,
		}
	default:
		return webpush.Payload{
			Title:      fmt.Sprintf("New %s proposal", proposal.Source),
			Body:       proposal.Title,
			URL:        proposal.URL,
			ProposalID: proposal.ID,
		}
	}
}
