// Package reddit is a minimal client for the public listing JSON endpoints.
// No OAuth; it identifies itself with a descriptive User-Agent and stays
// under the unauthenticated rate limit.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/resilience"
)

// DefaultBaseURL is the public listing endpoint host.
const DefaultBaseURL = "https://www.reddit.com"

// Valid listing sort orders.
const (
	SortNew    = "new"
	SortHot    = "hot"
	SortTop    = "top"
	SortRising = "rising"
)

// Post is one submission as returned by a listing endpoint.
type Post struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Subreddit   string  `json:"subreddit"`
	Author      string  `json:"author"`
	Permalink   string  `json:"permalink"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Stickied    bool    `json:"stickied"`
}

// Created returns the submission time as a UTC time.Time.
func (p Post) Created() time.Time {
	return time.Unix(int64(p.CreatedUTC), 0).UTC()
}

// listing is the reddit envelope: {"kind":"Listing","data":{"children":[...]}}.
type listing struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Data Post `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Options configures a Client.
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// RequestsPerSecond defaults to 1, the polite unauthenticated ceiling.
	RequestsPerSecond float64
}

// Client fetches subreddit listings.
type Client struct {
	http      *http.Client
	baseURL   string
	userAgent string
	limiter   *rate.Limiter
}

// NewClient creates a listing client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "idea-harbor/1.0 (submission research)"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 1
	}
	return &Client{
		http:      &http.Client{Timeout: opts.Timeout},
		baseURL:   opts.BaseURL,
		userAgent: opts.UserAgent,
		limiter:   rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
	}
}

// Page is one page of a subreddit listing plus the cursor for the next one.
type Page struct {
	Posts []Post
	After string
}

// FetchPage fetches one page of /r/{subreddit}/{sort}.json. An empty after
// cursor starts from the top of the listing. Limit is capped at 100 by the
// API.
func (c *Client) FetchPage(ctx context.Context, subreddit, sort string, limit int, after string) (*Page, error) {
	if subreddit == "" {
		return nil, eris.New("reddit: subreddit is required")
	}
	if sort == "" {
		sort = SortNew
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "reddit: rate limiter wait")
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("raw_json", "1")
	if after != "" {
		q.Set("after", after)
	}
	endpoint := fmt.Sprintf("%s/r/%s/%s.json?%s", c.baseURL, url.PathEscape(subreddit), sort, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "reddit: build request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "reddit: fetch listing"), 0)
	}
	defer func() { _ = resp.Body.Close() }()

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(
			eris.Errorf("reddit: http %d from r/%s", resp.StatusCode, subreddit), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("reddit: http %d from r/%s", resp.StatusCode, subreddit)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "reddit: read body"), 0)
	}

	var l listing
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, eris.Wrap(err, "reddit: decode listing")
	}

	page := &Page{After: l.Data.After, Posts: make([]Post, 0, len(l.Data.Children))}
	for _, child := range l.Data.Children {
		if child.Data.Stickied {
			continue
		}
		page.Posts = append(page.Posts, child.Data)
	}

	zap.L().Debug("fetched listing page",
		zap.String("subreddit", subreddit),
		zap.String("sort", sort),
		zap.Int("posts", len(page.Posts)),
		zap.String("after", page.After))
	return page, nil
}

// FetchAll pages through the listing until max posts are collected or the
// listing is exhausted.
func (c *Client) FetchAll(ctx context.Context, subreddit, sort string, max int) ([]Post, error) {
	if max <= 0 {
		max = 100
	}

	var out []Post
	after := ""
	for len(out) < max {
		page, err := c.FetchPage(ctx, subreddit, sort, max-len(out), after)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Posts...)
		if page.After == "" || len(page.Posts) == 0 {
			break
		}
		after = page.After
	}

	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}
