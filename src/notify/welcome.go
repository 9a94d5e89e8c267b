package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/daovote/govdash/src/webpush"
)

type WelcomeResult struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Errors  int `json:"errors"`
}

// SendWelcome greets subscriptions registered two to three minutes ago that
// have not seen a notification yet. The flag flips only on a confirmed send,
// so a failed welcome is retried while the subscription stays in the window.
func (s *Service) SendWelcome(ctx context.Context) (WelcomeResult, error) {
	subs, err := s.store.WelcomePending(ctx, time.Now())
	if err != nil {
		return WelcomeResult{}, fmt.Errorf("pending subscriptions: %w", err)
	}

	payload := webpush.Payload{
		Title: "🎉 Welcome to DAOVote!",
		Body:  "You'll receive notifications for new proposals and voting deadlines.",
		URL:   s.baseURL,
	}

	result := WelcomeResult{Total: len(subs)}
	for _, sub := range subs {
		if err := s.push.Send(ctx, sub, payload); err != nil {
			log.Printf("notify: welcome to subscription %d: %v", sub.ID, err)
			result.Errors++
			continue
		}
		if err := s.store.MarkWelcomeSent(ctx, sub.ID); err != nil {
			log.Printf("notify: mark welcome sent %d: %v", sub.ID, err)
			result.Errors++
			continue
		}
		result.Success++
	}
	return result, nil
}
