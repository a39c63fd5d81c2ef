package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
)

func newMockPostgresSource(t *testing.T) (*PostgresSource, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	src, err := NewPostgresSource(mock, "submissions")
	require.NoError(t, err)
	return src, mock
}

func submissionRows(mock pgxmock.PgxPoolIface) *pgxmock.Rows {
	return mock.NewRows([]string{
		"id", "title", "selftext", "subreddit", "author", "permalink",
		"score", "num_comments", "created_utc",
	})
}

func TestPostgresSource_FetchPagesWithKeyset(t *testing.T) {
	src, mock := newMockPostgresSource(t)
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, title, selftext, subreddit`).
		WithArgs(pgxmock.AnyArg(), "", 2).
		WillReturnRows(submissionRows(mock).
			AddRow("a1", "App idea: budget tracker", "body", "SomebodyMakeThis", "u1", "/r/x/a1", 10, 2, t0).
			AddRow("a2", "Meal planner", "body", "startups", "u2", "/r/x/a2", 5, 1, t0.Add(time.Minute)))

	// Next page starts after (created, id) of the last row.
	mock.ExpectQuery(`SELECT id, title, selftext, subreddit`).
		WithArgs(t0.Add(time.Minute), "a2", 2).
		WillReturnRows(submissionRows(mock))

	first, err := src.Fetch(context.Background(), 2, Filters{})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "a1", first[0].ID)

	second, err := src.Fetch(context.Background(), 2, Filters{})
	require.NoError(t, err)
	assert.Empty(t, second)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_CrossPostsCollapse(t *testing.T) {
	src, mock := newMockPostgresSource(t)
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, title, selftext, subreddit`).
		WithArgs(pgxmock.AnyArg(), "", 10).
		WillReturnRows(submissionRows(mock).
			AddRow("a1", "App Idea: Budget Tracker", "body", "SomebodyMakeThis", "u1", "/p/a1", 10, 2, t0).
			AddRow("a2", "app idea:  budget   tracker", "body", "startups", "u2", "/p/a2", 3, 0, t0.Add(time.Second)).
			AddRow("a3", "Something else", "body", "startups", "u3", "/p/a3", 1, 0, t0.Add(2*time.Second)))

	subs, err := src.Fetch(context.Background(), 10, Filters{})
	require.NoError(t, err)
	require.Len(t, subs, 2, "same-batch cross-posts collapse to the first occurrence")
	assert.Equal(t, "a1", subs[0].ID)
	assert.Equal(t, "a3", subs[1].ID)

	c := src.Counters()
	assert.Equal(t, 3, c.Fetched)
	assert.Equal(t, 1, c.Deduped)
}

func TestPostgresSource_KeywordFilter(t *testing.T) {
	src, mock := newMockPostgresSource(t)
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, title, selftext, subreddit`).
		WithArgs(pgxmock.AnyArg(), "", 10).
		WillReturnRows(submissionRows(mock).
			AddRow("a1", "Idea: invoicing app", "body", "startups", "u1", "/p/a1", 1, 0, t0).
			AddRow("a2", "Rant about my landlord", "body", "startups", "u2", "/p/a2", 1, 0, t0.Add(time.Second)))

	subs, err := src.Fetch(context.Background(), 10, Filters{Keywords: []string{"idea"}})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "a1", subs[0].ID)
	assert.Equal(t, 1, src.Counters().Filtered)
}

func TestPostgresSource_QuotesTableIdentifier(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	src, err := NewPostgresSource(mock, "harbor.submissions")
	require.NoError(t, err)

	mock.ExpectQuery(`FROM "harbor"\."submissions"`).
		WithArgs(pgxmock.AnyArg(), "", 10).
		WillReturnRows(submissionRows(mock))

	_, err = src.Fetch(context.Background(), 10, Filters{})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_QueryErrorCounts(t *testing.T) {
	src, mock := newMockPostgresSource(t)

	mock.ExpectQuery(`SELECT id, title, selftext, subreddit`).
		WithArgs(pgxmock.AnyArg(), "", 10).
		WillReturnError(assert.AnError)

	_, err := src.Fetch(context.Background(), 10, Filters{})
	require.Error(t, err)
	assert.Equal(t, 1, src.Counters().Errors)
}

func TestNewPostgresSource_RequiresTable(t *testing.T) {
	_, err := NewPostgresSource(nil, "")
	assert.Error(t, err)
}

func TestFiltersMatch(t *testing.T) {
	sub := &model.Submission{Title: "App idea: Budget tracker", Selftext: "for freelancers"}

	assert.True(t, Filters{}.Match(sub))
	assert.True(t, Filters{Keywords: []string{"BUDGET"}}.Match(sub))
	assert.True(t, Filters{Keywords: []string{"freelancer"}}.Match(sub))
	assert.False(t, Filters{Keywords: []string{"crypto"}}.Match(sub))
}
