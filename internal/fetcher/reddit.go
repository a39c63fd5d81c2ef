package fetcher

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/resilience"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/pkg/reddit"
)

// listingClient is the slice of pkg/reddit used here, split out so tests can
// stub the network.
type listingClient interface {
	FetchAll(ctx context.Context, subreddit, sort string, max int) ([]reddit.Post, error)
}

// RedditSource reads live subreddit listings. Submissions already returned in
// this process are not returned again, so repeated batches page through new
// posts.
type RedditSource struct {
	client     listingClient
	subreddits []string
	sort       string
	retry      resilience.RetryConfig
	counters   counterSet
	seen       map[string]bool
}

// NewRedditSource creates a live source over the given subreddits.
func NewRedditSource(client listingClient, subreddits []string, sort string, retry resilience.RetryConfig) (*RedditSource, error) {
	if len(subreddits) == 0 {
		return nil, eris.New("fetcher: at least one subreddit is required")
	}
	if sort == "" {
		sort = reddit.SortNew
	}
	return &RedditSource{
		client:     client,
		subreddits: subreddits,
		sort:       sort,
		retry:      retry,
		seen:       make(map[string]bool),
	}, nil
}

func (s *RedditSource) Fetch(ctx context.Context, limit int, filters Filters) ([]model.Submission, error) {
	if limit <= 0 {
		limit = 100
	}
	perSubreddit := limit / len(s.subreddits)
	if perSubreddit == 0 {
		perSubreddit = limit
	}

	var fetched []model.Submission
	for _, subreddit := range s.subreddits {
		posts, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) ([]reddit.Post, error) {
			return s.client.FetchAll(ctx, subreddit, s.sort, perSubreddit)
		})
		if err != nil {
			s.counters.addError()
			return nil, eris.Wrapf(err, "fetcher: fetch r/%s", subreddit)
		}

		for _, p := range posts {
			if s.seen[p.ID] {
				continue
			}
			s.seen[p.ID] = true
			fetched = append(fetched, fromPost(p))
		}
	}

	out, filtered, deduped := dedupeAndFilter(fetched, filters)
	s.counters.add(len(fetched), filtered, deduped)

	zap.L().Debug("fetched live submissions",
		zap.Strings("subreddits", s.subreddits),
		zap.Int("fetched", len(fetched)),
		zap.Int("kept", len(out)))
	return out, nil
}

func (s *RedditSource) Counters() SourceCounters {
	return s.counters.snapshot()
}

func fromPost(p reddit.Post) model.Submission {
	return model.Submission{
		ID:          p.ID,
		Title:       p.Title,
		Selftext:    p.Selftext,
		Subreddit:   p.Subreddit,
		Author:      p.Author,
		Permalink:   p.Permalink,
		Score:       p.Score,
		NumComments: p.NumComments,
		CreatedUTC:  p.Created(),
	}
}
