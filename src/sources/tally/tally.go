// Package tally fetches on-chain governance proposals from the Tally
// GraphQL API. Discovery is two-tier: the organization query lists governor
// contracts, then proposals are fetched per governor. Because an empty
// proposal list is indistinguishable from a broken feed, this adapter
// propagates failures instead of degrading.
package tally

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/daovote/govdash/src/sources"
	"github.com/daovote/govdash/src/types"
	"github.com/daovote/govdash/src/webclient"
)

const (
	defaultEndpoint = "https://api.tally.xyz/query"
	pageLimit       = 20
)

// Governors used when organization discovery fails or returns nothing.
var fallbackGovernors = []string{
	"eip155:42161:0xf07DeD9dC292157749B6Fd268E37DF6EA38395B9", // Core
	"eip155:42161:0x789fC99093B09aD01C34DC7251D0C89ce743e5a4", // Treasury
}

type Adapter struct {
	endpoint      string
	apiKey        string
	orgSlug       string
	httpClient    *http.Client
	retryAttempts int
	retryDelay    time.Duration
}

func New(apiKey, orgSlug string) *Adapter {
	return &Adapter{
		endpoint:      defaultEndpoint,
		apiKey:        apiKey,
		orgSlug:       orgSlug,
		httpClient:    webclient.NewDefault(10 * time.Second),
		retryAttempts: 3,
		retryDelay:    2 * time.Second,
	}
}

// NewWithEndpoint is used by tests to point at a stub server.
func NewWithEndpoint(endpoint, apiKey, orgSlug string) *Adapter {
	a := New(apiKey, orgSlug)
	a.endpoint = endpoint
	return a
}

func (a *Adapter) Source() string { return types.SourceTally }

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type proposalNode struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Proposer struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"proposer"`
	Metadata struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"metadata"`
	Start struct {
		Timestamp string `json:"timestamp"`
	} `json:"start"`
	End struct {
		Timestamp string `json:"timestamp"`
	} `json:"end"`
	VoteStats []struct {
		Type       string  `json:"type"`
		VotesCount string  `json:"votesCount"`
		Percent    float64 `json:"percent"`
	} `json:"voteStats"`
}

func (a *Adapter) Fetch(ctx context.Context) ([]sources.RawProposal, error) {
	governors, err := a.fetchGovernors(ctx)
	if err != nil {
		log.Printf("tally: governor discovery failed, using fallback list: %v", err)
		governors = fallbackGovernors
	}

	var (
		mu       sync.Mutex
		nodes    []proposalNode
		wg       sync.WaitGroup
		firstErr error
	)
	for _, governorID := range governors {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			page, err := a.fetchProposals(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("governor %s: %w", id, err)
				}
				return
			}
			nodes = append(nodes, page...)
		}(governorID)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	sort.Slice(nodes, func(i, j int) bool {
		vi, iok := new(big.Int).SetString(nodes[i].ID, 10)
		vj, jok := new(big.Int).SetString(nodes[j].ID, 10)
		if !iok || !jok {
			return nodes[i].ID > nodes[j].ID
		}
		return vi.Cmp(vj) > 0
	})

	out := make([]sources.RawProposal, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, a.toRaw(n))
	}
	return out, nil
}

func (a *Adapter) toRaw(n proposalNode) sources.RawProposal {
	title := n.Metadata.Title
	if title == "" {
		title = "Untitled Proposal"
	}
	author := n.Proposer.Name
	if author == "" {
		author = n.Proposer.Address
	}

	var forVotes, againstVotes float64
	for _, stat := range n.VoteStats {
		switch strings.ToLower(stat.Type) {
		case "for", "yes":
			forVotes = parseFloat(stat.VotesCount)
		case "against", "no":
			againstVotes = parseFloat(stat.VotesCount)
		}
	}

	start := parseTime(n.Start.Timestamp)
	end := parseTime(n.End.Timestamp)
	if start == nil {
		start = end
	}
	created := time.Now()
	if start != nil {
		created = *start
	}

	raw := sources.RawProposal{
		ExternalID:   n.ID,
		Title:        title,
		SourceStatus: strings.ToLower(n.Status),
		ForVotes:     forVotes,
		AgainstVotes: againstVotes,
		StartsAt:     start,
		EndsAt:       end,
		URL:          fmt.Sprintf("https://www.tally.xyz/gov/%s/proposal/%s", a.orgSlug, n.ID),
		CreatedAt:    created,
	}
	if n.Metadata.Description != "" {
		desc := n.Metadata.Description
		raw.Description = &desc
	}
	if author != "" {
		raw.Author = &author
	}
	return raw
}

func (a *Adapter) fetchGovernors(ctx context.Context) ([]string, error) {
	query := `
		query Organization($input: OrganizationInput!) {
			organization(input: $input) {
				governorIds
			}
		}`
	body, err := a.post(ctx, graphqlRequest{
		Query: query,
		Variables: map[string]interface{}{
			"input": map[string]interface{}{"slug": a.orgSlug},
		},
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			Organization struct {
				GovernorIDs []string `json:"governorIds"`
			} `json:"organization"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse governors: %w", err)
	}
	if len(resp.Data.Organization.GovernorIDs) == 0 {
		return fallbackGovernors, nil
	}
	return resp.Data.Organization.GovernorIDs, nil
}

func (a *Adapter) fetchProposals(ctx context.Context, governorID string) ([]proposalNode, error) {
	query := `
		query ProposalsByGovernor($input: ProposalsInput!) {
			proposals(input: $input) {
				nodes {
					... on Proposal {
						id
						status
						proposer { address name }
						metadata { title description }
						start { ... on Block { timestamp } ... on BlocklessTimestamp { timestamp } }
						end { ... on Block { timestamp } ... on BlocklessTimestamp { timestamp } }
						voteStats { type votesCount percent }
					}
				}
			}
		}`
	body, err := a.post(ctx, graphqlRequest{
		Query: query,
		Variables: map[string]interface{}{
			"input": map[string]interface{}{
				"filters": map[string]interface{}{"governorId": governorID},
				"page":    map[string]interface{}{"limit": pageLimit},
				"sort":    map[string]interface{}{"sortBy": "id", "isDescending": true},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			Proposals struct {
				Nodes []proposalNode `json:"nodes"`
			} `json:"proposals"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse proposals: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("graphql: %s", resp.Errors[0].Message)
	}
	return resp.Data.Proposals.Nodes, nil
}

// post issues one GraphQL request with bounded retries on 429/5xx.
func (a *Adapter) post(ctx context.Context, reqBody graphqlRequest) ([]byte, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	status, body, err := webclient.DoWithRetry(ctx, a.retryAttempts, a.retryDelay, func() (int, []byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Api-Key", a.apiKey)

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return 0, nil, err
		}
		return resp.StatusCode, b, nil
	})
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", status, string(body))
	}
	return body, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
