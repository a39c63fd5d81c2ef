// Package sink persists enriched submission batches.
package sink

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
)

// WriteMode selects how a batch lands in the target table.
type WriteMode string

const (
	// WriteModeMerge upserts on the primary key, preserving rows the batch
	// does not touch.
	WriteModeMerge WriteMode = "merge"
	// WriteModeReplace truncates the table and loads the batch.
	WriteModeReplace WriteMode = "replace"
	// WriteModeAppend inserts without conflict handling.
	WriteModeAppend WriteMode = "append"
)

// ParseWriteMode validates a mode name from config or CLI input.
func ParseWriteMode(name string) (WriteMode, error) {
	switch WriteMode(name) {
	case WriteModeMerge, WriteModeReplace, WriteModeAppend:
		return WriteMode(name), nil
	default:
		return "", eris.Errorf("sink: unknown write mode %q", name)
	}
}

// Record is one row keyed by column name.
type Record = map[string]any

// TypeHints maps column names to load-time coercions. The only hint
// recognized today is "json", which marshals the value for a jsonb column.
type TypeHints = map[string]string

// Sink stores enriched batches.
type Sink interface {
	// Load writes records into table using the given mode. Merge requires a
	// primary key and is rejected before any I/O without one.
	Load(ctx context.Context, records []Record, table string, mode WriteMode, primaryKey []string, hints TypeHints) error
	Close() error
}

// columnsOf returns the sorted union of keys across records so the column
// order is deterministic.
func columnsOf(records []Record) []string {
	set := make(map[string]bool)
	for _, r := range records {
		for k := range r {
			set[k] = true
		}
	}
	cols := make([]string, 0, len(set))
	for k := range set {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// rowsOf flattens records to positional rows, applying type hints.
func rowsOf(records []Record, cols []string, hints TypeHints) ([][]any, error) {
	rows := make([][]any, len(records))
	for i, r := range records {
		row := make([]any, len(cols))
		for j, col := range cols {
			v := r[col]
			if hints[col] == "json" && v != nil {
				b, err := json.Marshal(v)
				if err != nil {
					return nil, eris.Wrapf(err, "sink: marshal column %s", col)
				}
				v = b
			}
			row[j] = v
		}
		rows[i] = row
	}
	return rows, nil
}

// SubmissionRecord flattens a submission and its stage results into a sink
// record. Stage payloads land in per-stage jsonb columns; copy provenance is
// kept alongside each.
func SubmissionRecord(sub *model.Submission) Record {
	rec := Record{
		"id":           sub.ID,
		"title":        sub.Title,
		"selftext":     sub.Selftext,
		"subreddit":    sub.Subreddit,
		"author":       sub.Author,
		"permalink":    sub.Permalink,
		"score":        sub.Score,
		"num_comments": sub.NumComments,
		"created_utc":  sub.CreatedUTC,
	}
	if sub.ConceptID != nil {
		rec["concept_id"] = *sub.ConceptID
	} else {
		rec["concept_id"] = nil
	}

	for _, stage := range model.AllStages() {
		col := string(stage)
		res := sub.Result(stage)
		if res == nil {
			rec[col] = nil
			rec[col+"_provenance"] = nil
			continue
		}
		rec[col] = res.Payload
		rec[col+"_provenance"] = string(res.Provenance)
	}
	return rec
}

// SubmissionTypeHints marks the per-stage payload columns as json.
func SubmissionTypeHints() TypeHints {
	hints := TypeHints{}
	for _, stage := range model.AllStages() {
		hints[string(stage)] = "json"
	}
	return hints
}
