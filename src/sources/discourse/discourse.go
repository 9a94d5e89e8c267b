// Package discourse fetches discussion topics from the governance forum's
// /latest.json feed, filtered to the proposals category. The feed changes
// slowly, so results are cached for twelve hours and requests are spaced at
// least ten seconds apart. Like the snapshot adapter it degrades to
// cache-or-empty instead of surfacing errors.
package discourse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/daovote/govdash/src/sources"
	"github.com/daovote/govdash/src/types"
	"github.com/daovote/govdash/src/webclient"
	"github.com/microcosm-cc/bluemonday"
)

const (
	cacheTTL           = 12 * time.Hour
	minRequestInterval = 10 * time.Second
	maxTopics          = 10
)

// errRateLimited marks a 429 from the forum; the cache deadline has already
// been shortened by the time it is returned.
var errRateLimited = fmt.Errorf("forum rate limit")

type Adapter struct {
	baseURL       string
	categoryID    int
	httpClient    *http.Client
	cache         *sources.Cache
	sanitizer     *bluemonday.Policy
	retryAttempts int
	retryDelay    time.Duration

	mu          sync.Mutex
	lastRequest time.Time
}

func New(baseURL string, categoryID int) *Adapter {
	return &Adapter{
		baseURL:       baseURL,
		categoryID:    categoryID,
		httpClient:    webclient.NewDefault(10 * time.Second),
		cache:         sources.NewCache(cacheTTL),
		sanitizer:     bluemonday.StrictPolicy(),
		retryAttempts: 3,
		retryDelay:    2 * time.Second,
	}
}

func (a *Adapter) Source() string { return types.SourceDiscourse }

type latestResponse struct {
	Users []struct {
		ID       int    `json:"id"`
		Username string `json:"username"`
		Name     string `json:"name"`
	} `json:"users"`
	TopicList struct {
		Topics []topic `json:"topics"`
	} `json:"topic_list"`
}

type topic struct {
	ID           int    `json:"id"`
	Title        string `json:"title"`
	Excerpt      string `json:"excerpt"`
	CreatedAt    string `json:"created_at"`
	LastPostedAt string `json:"last_posted_at"`
	ReplyCount   int    `json:"reply_count"`
	LikeCount    int    `json:"like_count"`
	Views        int    `json:"views"`
	CategoryID   int    `json:"category_id"`
	Posters      []struct {
		UserID      int    `json:"user_id"`
		Description string `json:"description"`
	} `json:"posters"`
}

func (a *Adapter) Fetch(ctx context.Context) ([]sources.RawProposal, error) {
	if data, ok := a.cache.Fresh(time.Now()); ok {
		return data, nil
	}

	// Minimum spacing between forum requests; serve whatever we have.
	a.mu.Lock()
	tooSoon := time.Since(a.lastRequest) < minRequestInterval
	a.mu.Unlock()
	if tooSoon {
		if data, ok := a.cache.Stale(); ok {
			return data, nil
		}
	}

	data, err := a.cache.Fetch(ctx, a.fetchRemote)
	if err != nil {
		log.Printf("discourse: fetch failed, no cached data: %v", err)
		return nil, nil
	}
	return data, nil
}

func (a *Adapter) fetchRemote(ctx context.Context) ([]sources.RawProposal, error) {
	a.mu.Lock()
	a.lastRequest = time.Now()
	a.mu.Unlock()

	status, body, err := webclient.DoWithRetry(ctx, a.retryAttempts, a.retryDelay, func() (int, []byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/latest.json", nil)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Accept", "application/json")

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
	if status == http.StatusTooManyRequests {
		// Still limited after the retries: come back in five minutes, not
		// after the full TTL.
		a.cache.Shorten(5 * time.Minute)
		return nil, errRateLimited
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("status %d", status)
	}

	var latest latestResponse
	if err := json.Unmarshal(body, &latest); err != nil {
		return nil, fmt.Errorf("parse latest.json: %w", err)
	}

	userNames := make(map[int]string, len(latest.Users))
	for _, u := range latest.Users {
		name := u.Name
		if name == "" {
			name = u.Username
		}
		userNames[u.ID] = name
	}

	out := make([]sources.RawProposal, 0, maxTopics)
	for _, t := range latest.TopicList.Topics {
		if t.CategoryID != a.categoryID {
			continue
		}
		out = append(out, a.toRaw(t, userNames))
		if len(out) >= maxTopics {
			break
		}
	}
	return out, nil
}

func (a *Adapter) toRaw(t topic, userNames map[int]string) sources.RawProposal {
	author := "Unknown User"
	if len(t.Posters) > 0 {
		if name, ok := userNames[t.Posters[0].UserID]; ok && name != "" {
			author = name
		}
	}

	created := parseTime(t.CreatedAt)
	lastPosted := parseTime(t.LastPostedAt)

	raw := sources.RawProposal{
		ExternalID:   fmt.Sprintf("%d", t.ID),
		Title:        t.Title,
		SourceStatus: types.StatusDiscussion,
		ForVotes:     float64(t.LikeCount),
		URL:          fmt.Sprintf("%s/t/%d", a.baseURL, t.ID),
		Author:       &author,
		StartsAt:     created,
		EndsAt:       lastPosted,
	}
	if created != nil {
		raw.CreatedAt = *created
	}
	if t.Excerpt != "" {
		excerpt := a.sanitizer.Sanitize(t.Excerpt)
		raw.Description = &excerpt
	}
	return raw
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
