// Package aggregator merges the three proposal feeds into one normalized,
// ordered list. Adapters run concurrently and fail independently: a broken
// source contributes an empty slice and a zero count, never an error.
package aggregator

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/daovote/govdash/src/sources"
	"github.com/daovote/govdash/src/types"
)

const DefaultLimit = 100

var sourcePriority = map[string]int{
	types.SourceTally:     0,
	types.SourceSnapshot:  1,
	types.SourceDiscourse: 2,
}

type Options struct {
	Source string // "" or "all" disables the filter
	Status string
	Limit  int
}

type Result struct {
	Proposals []types.Proposal
	Sources   map[string]int // per-source result counts before filtering
}

type Aggregator struct {
	adapters []sources.Adapter
	now      func() time.Time
}

func New(adapters ...sources.Adapter) *Aggregator {
	return &Aggregator{adapters: adapters, now: time.Now}
}

// Aggregate fans out all adapter fetches, normalizes the results and returns
// them sorted by source priority then creation time descending.
func (g *Aggregator) Aggregate(ctx context.Context, opts Options) Result {
	now := g.now()

	type fetched struct {
		source string
		raws   []sources.RawProposal
	}
	results := make([]fetched, len(g.adapters))

	var wg sync.WaitGroup
	for i, adapter := range g.adapters {
		wg.Add(1)
		go func(i int, a sources.Adapter) {
			defer wg.Done()
			raws, err := a.Fetch(ctx)
			if err != nil {
				log.Printf("aggregator: %s fetch failed: %v", a.Source(), err)
				raws = nil
			}
			results[i] = fetched{source: a.Source(), raws: raws}
		}(i, adapter)
	}
	wg.Wait()

	counts := make(map[string]int, len(results))
	var all []types.Proposal
	for _, r := range results {
		counts[r.source] = len(r.raws)
		for _, raw := range r.raws {
			all = append(all, Normalize(r.source, raw, now))
		}
	}

	if opts.Source != "" && opts.Source != "all" {
		all = filter(all, func(p types.Proposal) bool { return p.Source == opts.Source })
	}
	if opts.Status != "" && opts.Status != "all" {
		all = filter(all, func(p types.Proposal) bool { return p.Status == opts.Status })
	}

	sort.SliceStable(all, func(i, j int) bool {
		if d := sourcePriority[all[i].Source] - sourcePriority[all[j].Source]; d != 0 {
			return d < 0
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(all) > limit {
		all = all[:limit]
	}

	return Result{Proposals: all, Sources: counts}
}

// Normalize maps a raw feed record into the common proposal shape with its
// status computed from wall-clock time.
func Normalize(source string, raw sources.RawProposal, now time.Time) types.Proposal {
	return types.Proposal{
		ExternalID:     raw.ExternalID,
		Source:         source,
		Title:          raw.Title,
		Description:    raw.Description,
		Author:         raw.Author,
		Status:         ComputeStatus(source, raw, now),
		ForVotes:       raw.ForVotes,
		AgainstVotes:   raw.AgainstVotes,
		Quorum:         raw.Quorum,
		VotingStartsAt: raw.StartsAt,
		VotingEndsAt:   raw.EndsAt,
		URL:            raw.URL,
		CreatedAt:      raw.CreatedAt,
		UpdatedAt:      now,
	}
}

// ComputeStatus derives the display status from timestamps. It is a pure
// function of the clock: source-reported states only matter for terminal
// on-chain outcomes ("executed"), everything else falls out of the voting
// window.
func ComputeStatus(source string, raw sources.RawProposal, now time.Time) string {
	if source == types.SourceDiscourse {
		return types.StatusDiscussion
	}

	if source == types.SourceTally && strings.Contains(strings.ToLower(raw.SourceStatus), "executed") {
		return types.StatusClosed
	}
	if raw.EndsAt != nil && now.After(*raw.EndsAt) {
		return types.StatusClosed
	}
	if raw.StartsAt != nil && raw.EndsAt != nil &&
		!now.Before(*raw.StartsAt) && !now.After(*raw.EndsAt) {
		return types.StatusActive
	}
	return types.StatusPending
}

func filter(in []types.Proposal, keep func(types.Proposal) bool) []types.Proposal {
	out := in[:0:0]
	for _, p := range in {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}
