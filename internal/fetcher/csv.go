package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
)

// CSVSource reads submissions from a CSV export, for offline backfills of
// previously harvested data. The first row must be a header; columns are
// matched by name so export column order does not matter.
type CSVSource struct {
	reader   *csv.Reader
	col      map[string]int
	counters counterSet
	done     bool
}

// NewCSVSource wraps a reader positioned at the start of a CSV export.
func NewCSVSource(r io.Reader) (*CSVSource, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // allow variable fields

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: csv read header")
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"id", "title"} {
		if _, ok := col[required]; !ok {
			return nil, eris.Errorf("fetcher: csv missing %q column", required)
		}
	}

	return &CSVSource{reader: reader, col: col}, nil
}

// Fetch reads up to limit rows. Malformed rows are logged and skipped rather
// than aborting the backfill.
func (s *CSVSource) Fetch(ctx context.Context, limit int, filters Filters) ([]model.Submission, error) {
	if s.done || limit <= 0 {
		return nil, nil
	}

	fetched := make([]model.Submission, 0, limit)
	for len(fetched) < limit {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "fetcher: csv cancelled")
		}

		record, err := s.reader.Read()
		if err == io.EOF {
			s.done = true
			break
		}
		if err != nil {
			s.counters.addError()
			return nil, eris.Wrap(err, "fetcher: csv read row")
		}

		sub, err := s.parseRow(record)
		if err != nil {
			s.counters.addError()
			zap.L().Warn("skipping malformed csv row", zap.Error(err))
			continue
		}
		fetched = append(fetched, sub)
	}

	out, filtered, deduped := dedupeAndFilter(fetched, filters)
	s.counters.add(len(fetched), filtered, deduped)
	return out, nil
}

func (s *CSVSource) Counters() SourceCounters {
	return s.counters.snapshot()
}

func (s *CSVSource) field(record []string, name string) string {
	i, ok := s.col[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func (s *CSVSource) parseRow(record []string) (model.Submission, error) {
	sub := model.Submission{
		ID:        s.field(record, "id"),
		Title:     s.field(record, "title"),
		Selftext:  s.field(record, "selftext"),
		Subreddit: s.field(record, "subreddit"),
		Author:    s.field(record, "author"),
		Permalink: s.field(record, "permalink"),
	}
	if sub.ID == "" || sub.Title == "" {
		return model.Submission{}, eris.New("fetcher: csv row missing id or title")
	}

	if v := s.field(record, "score"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return model.Submission{}, eris.Wrapf(err, "fetcher: csv row %s score", sub.ID)
		}
		sub.Score = n
	}
	if v := s.field(record, "num_comments"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return model.Submission{}, eris.Wrapf(err, "fetcher: csv row %s num_comments", sub.ID)
		}
		sub.NumComments = n
	}
	if v := s.field(record, "created_utc"); v != "" {
		ts, err := parseCreated(v)
		if err != nil {
			return model.Submission{}, eris.Wrapf(err, "fetcher: csv row %s created_utc", sub.ID)
		}
		sub.CreatedUTC = ts
	}

	return sub, nil
}

// parseCreated accepts either a unix epoch (reddit exports) or RFC3339.
func parseCreated(v string) (time.Time, error) {
	if epoch, err := strconv.ParseFloat(v, 64); err == nil {
		sec := int64(epoch)
		nsec := int64((epoch - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
