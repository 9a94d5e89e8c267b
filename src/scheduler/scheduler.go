// Package scheduler chains the periodic pipeline: sync proposals, detect and
// dispatch notifications, greet new subscriptions. The steps are direct
// in-process calls, one after another; a failed step is reported in the
// result and does not stop the later steps.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/daovote/govdash/src/notify"
	"github.com/daovote/govdash/src/sources"
	"github.com/daovote/govdash/src/store"
)

type Pipeline struct {
	store    *store.Store
	adapters []sources.Adapter
	notifier *notify.Service
}

func NewPipeline(st *store.Store, adapters []sources.Adapter, notifier *notify.Service) *Pipeline {
	return &Pipeline{store: st, adapters: adapters, notifier: notifier}
}

type Result struct {
	Synced  int                  `json:"synced"`
	Notify  notify.CheckResult   `json:"notify"`
	Welcome notify.WelcomeResult `json:"welcome"`
	Errors  []string             `json:"errors,omitempty"`
}

// Run executes sync → check-new → send-welcome and returns the combined
// outcome.
func (p *Pipeline) Run(ctx context.Context) Result {
	var result Result

	synced, err := p.store.SyncProposals(ctx, p.adapters)
	if err != nil {
		log.Printf("pipeline: sync: %v", err)
		result.Errors = append(result.Errors, "sync: "+err.Error())
	}
	result.Synced = synced

	checkResult, err := p.notifier.CheckNew(ctx)
	if err != nil {
		log.Printf("pipeline: check-new: %v", err)
		result.Errors = append(result.Errors, "check-new: "+err.Error())
	}
	result.Notify = checkResult

	welcomeResult, err := p.notifier.SendWelcome(ctx)
	if err != nil {
		log.Printf("pipeline: send-welcome: %v", err)
		result.Errors = append(result.Errors, "send-welcome: "+err.Error())
	}
	result.Welcome = welcomeResult

	return result
}

// Start runs the pipeline immediately and then on every tick until the
// context is cancelled.
func (p *Pipeline) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("Stopping scheduled pipeline")
			return
		case <-ticker.C:
			log.Println("Running scheduled sync and notify")
			p.Run(ctx)
		}
	}
}
