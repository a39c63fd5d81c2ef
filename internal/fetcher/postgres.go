package fetcher

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/concept"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/db"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
)

// PostgresSource pages through a submissions table with keyset pagination.
// Cross-posts inside a batch collapse to one submission by normalized title
// signature; the duplicates still reach the dedup layer through later batches
// or are intentionally dropped as same-batch noise.
type PostgresSource struct {
	pool     db.Pool
	table    string
	counters counterSet

	// afterID is the keyset cursor; ids sort lexicographically in reddit's
	// base36 scheme only within equal lengths, so created_utc leads the key.
	afterCreated time.Time
	afterID      string
}

// NewPostgresSource creates a source reading from the given table.
func NewPostgresSource(pool db.Pool, table string) (*PostgresSource, error) {
	if table == "" {
		return nil, eris.New("fetcher: table is required")
	}
	return &PostgresSource{pool: pool, table: table}, nil
}

func (s *PostgresSource) Fetch(ctx context.Context, limit int, filters Filters) ([]model.Submission, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, title, selftext, subreddit, author, permalink, score, num_comments, created_utc
		 FROM `+db.SanitizeTable(s.table)+`
		 WHERE (created_utc, id) > ($1, $2)
		 ORDER BY created_utc, id
		 LIMIT $3`,
		s.afterCreated, s.afterID, limit)
	if err != nil {
		s.counters.addError()
		return nil, eris.Wrap(err, "fetcher: query submissions")
	}
	defer rows.Close()

	var fetched []model.Submission
	for rows.Next() {
		var sub model.Submission
		if err := rows.Scan(&sub.ID, &sub.Title, &sub.Selftext, &sub.Subreddit, &sub.Author,
			&sub.Permalink, &sub.Score, &sub.NumComments, &sub.CreatedUTC); err != nil {
			s.counters.addError()
			return nil, eris.Wrap(err, "fetcher: scan submission")
		}
		fetched = append(fetched, sub)
	}
	if err := rows.Err(); err != nil {
		s.counters.addError()
		return nil, eris.Wrap(err, "fetcher: submission rows")
	}

	if len(fetched) > 0 {
		last := fetched[len(fetched)-1]
		s.afterCreated = last.CreatedUTC
		s.afterID = last.ID
	}

	out, filtered, deduped := dedupeAndFilter(fetched, filters)
	s.counters.add(len(fetched), filtered, deduped)

	zap.L().Debug("fetched submissions page",
		zap.String("table", s.table),
		zap.Int("fetched", len(fetched)),
		zap.Int("kept", len(out)),
		zap.Int("filtered", filtered),
		zap.Int("deduped", deduped))
	return out, nil
}

func (s *PostgresSource) Counters() SourceCounters {
	return s.counters.snapshot()
}

// dedupeAndFilter applies the keyword pre-filter and collapses same-batch
// cross-posts by normalized title signature, keeping the first occurrence.
func dedupeAndFilter(subs []model.Submission, filters Filters) (out []model.Submission, filtered, deduped int) {
	seen := make(map[string]bool, len(subs))
	for _, sub := range subs {
		if !filters.Match(&sub) {
			filtered++
			continue
		}
		sig := concept.Normalize(sub.Title)
		if seen[sig] {
			deduped++
			continue
		}
		seen[sig] = true
		out = append(out, sub)
	}
	return out, filtered, deduped
}
