package concept

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite for local runs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "concept: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "concept: sqlite exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS concepts (
	id                    TEXT PRIMARY KEY,
	fingerprint           TEXT NOT NULL UNIQUE,
	primary_submission_id TEXT NOT NULL,
	submission_count      INTEGER NOT NULL DEFAULT 1,
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS concept_stage_state (
	concept_id TEXT NOT NULL REFERENCES concepts(id),
	stage      TEXT NOT NULL,
	complete   INTEGER NOT NULL DEFAULT 0,
	best_score REAL NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (concept_id, stage)
);

CREATE TABLE IF NOT EXISTS analysis_results (
	id              TEXT PRIMARY KEY,
	submission_id   TEXT NOT NULL,
	concept_id      TEXT,
	stage           TEXT NOT NULL,
	payload         TEXT NOT NULL,
	score           REAL NOT NULL DEFAULT 0,
	provenance      TEXT NOT NULL,
	copied_from     TEXT,
	copied_at       DATETIME,
	fallback_used   INTEGER NOT NULL DEFAULT 0,
	fallback_reason TEXT,
	retries         INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_concept_stage
	ON analysis_results (concept_id, stage, created_at);

CREATE INDEX IF NOT EXISTS idx_concepts_primary_submission
	ON concepts (primary_submission_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "concept: sqlite migrate")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteConceptCols = `id, fingerprint, primary_submission_id, submission_count, created_at, updated_at`

func (s *SQLiteStore) GetConcept(ctx context.Context, id string) (*model.Concept, error) {
	return s.getConcept(ctx, `SELECT `+sqliteConceptCols+` FROM concepts WHERE id = ?`, id)
}

func (s *SQLiteStore) GetConceptBySubmission(ctx context.Context, submissionID string) (*model.Concept, error) {
	return s.getConcept(ctx, `SELECT `+sqliteConceptCols+` FROM concepts WHERE primary_submission_id = ?`, submissionID)
}

func (s *SQLiteStore) getConcept(ctx context.Context, query, arg string) (*model.Concept, error) {
	var c model.Concept
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&c.ID, &c.Fingerprint, &c.PrimarySubmissionID, &c.SubmissionCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "concept: sqlite get concept")
	}
	if err := s.loadStageStates(ctx, []*model.Concept{&c}); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOrCreateConcept relies on the fingerprint uniqueness constraint: the
// upsert is a single statement, so concurrent callers racing on a new
// fingerprint cannot create two concepts.
func (s *SQLiteStore) GetOrCreateConcept(ctx context.Context, submissionID, conceptText string) (*model.Concept, error) {
	fp := Fingerprint(conceptText)
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO concepts (id, fingerprint, primary_submission_id, submission_count, created_at, updated_at)
		 VALUES (?, ?, ?, 1, ?, ?)
		 ON CONFLICT (fingerprint) DO UPDATE
		 SET submission_count = submission_count + 1, updated_at = excluded.updated_at`,
		uuid.NewString(), fp, submissionID, now, now)
	if err != nil {
		return nil, eris.Wrap(err, "concept: sqlite get or create")
	}

	return s.getConcept(ctx, `SELECT `+sqliteConceptCols+` FROM concepts WHERE fingerprint = ?`, fp)
}

// BumpSubmissionCounts applies the deltas in one transaction. SQLite has no
// unnest, so each concept gets its own statement.
func (s *SQLiteStore) BumpSubmissionCounts(ctx context.Context, deltas map[string]int) error {
	if len(deltas) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "concept: sqlite begin bump tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for id, n := range deltas {
		if _, err := tx.ExecContext(ctx,
			`UPDATE concepts SET submission_count = submission_count + ?, updated_at = ? WHERE id = ?`,
			n, now, id); err != nil {
			return eris.Wrap(err, "concept: sqlite bump submission count")
		}
	}

	return eris.Wrap(tx.Commit(), "concept: sqlite commit bump tx")
}

func (s *SQLiteStore) MarkStageComplete(ctx context.Context, conceptID string, stage model.Stage, score float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO concept_stage_state (concept_id, stage, complete, best_score, updated_at)
		 VALUES (?, ?, 1, ?, ?)
		 ON CONFLICT (concept_id, stage) DO UPDATE
		 SET complete = MAX(complete, excluded.complete),
		     best_score = MAX(best_score, excluded.best_score),
		     updated_at = excluded.updated_at`,
		conceptID, string(stage), score, time.Now().UTC())
	if err != nil {
		return eris.Wrapf(err, "concept: sqlite mark stage %s complete", stage)
	}
	return nil
}

func (s *SQLiteStore) ResolveBatch(ctx context.Context, fingerprints []string) (map[string]*model.Concept, error) {
	out := make(map[string]*model.Concept, len(fingerprints))
	if len(fingerprints) == 0 {
		return out, nil
	}

	query := `SELECT ` + sqliteConceptCols + ` FROM concepts WHERE fingerprint IN (` + placeholders(len(fingerprints)) + `)`
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(fingerprints)...)
	if err != nil {
		return nil, eris.Wrap(err, "concept: sqlite resolve batch")
	}
	defer rows.Close()

	var concepts []*model.Concept
	for rows.Next() {
		var c model.Concept
		if err := rows.Scan(&c.ID, &c.Fingerprint, &c.PrimarySubmissionID, &c.SubmissionCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "concept: sqlite scan concept")
		}
		concepts = append(concepts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "concept: sqlite resolve rows")
	}

	if err := s.loadStageStates(ctx, concepts); err != nil {
		return nil, err
	}
	for _, c := range concepts {
		out[c.Fingerprint] = c
	}
	return out, nil
}

func (s *SQLiteStore) loadStageStates(ctx context.Context, concepts []*model.Concept) error {
	if len(concepts) == 0 {
		return nil
	}

	byID := make(map[string]*model.Concept, len(concepts))
	ids := make([]string, 0, len(concepts))
	for _, c := range concepts {
		c.Stages = make(map[model.Stage]model.StageState)
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}

	query := `SELECT concept_id, stage, complete, best_score FROM concept_stage_state WHERE concept_id IN (` + placeholders(len(ids)) + `)`
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(ids)...)
	if err != nil {
		return eris.Wrap(err, "concept: sqlite load stage states")
	}
	defer rows.Close()

	for rows.Next() {
		var conceptID, stage string
		var st model.StageState
		if err := rows.Scan(&conceptID, &stage, &st.Complete, &st.BestScore); err != nil {
			return eris.Wrap(err, "concept: sqlite scan stage state")
		}
		if c, ok := byID[conceptID]; ok {
			c.Stages[model.Stage(stage)] = st
		}
	}
	return eris.Wrap(rows.Err(), "concept: sqlite stage state rows")
}

func (s *SQLiteStore) SaveResult(ctx context.Context, res *model.StageResult) error {
	payload, err := json.Marshal(res.Payload)
	if err != nil {
		return eris.Wrap(err, "concept: marshal payload")
	}

	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_results (id, submission_id, concept_id, stage, payload, score, provenance, copied_from, copied_at, fallback_used, fallback_reason, retries, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.SubmissionID, nullable(res.ConceptID), string(res.Stage), string(payload), res.Score,
		string(res.Provenance), nullable(res.CopiedFrom), res.CopiedAt,
		res.FallbackUsed, res.FallbackReason, res.Retries, res.CreatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "concept: sqlite save result")
	}
	return nil
}

func (s *SQLiteStore) LatestPrimaryResult(ctx context.Context, conceptID string, stage model.Stage) (*model.StageResult, error) {
	var res model.StageResult
	var payload string
	var maybeConceptID sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, submission_id, concept_id, stage, payload, score, provenance, fallback_used, fallback_reason, retries, created_at
		 FROM analysis_results
		 WHERE concept_id = ? AND stage = ? AND provenance <> 'copied'
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		conceptID, string(stage)).Scan(
		&res.ID, &res.SubmissionID, &maybeConceptID, &res.Stage, &payload, &res.Score,
		&res.Provenance, &res.FallbackUsed, &res.FallbackReason, &res.Retries, &res.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "concept: sqlite latest primary result")
	}

	res.ConceptID = maybeConceptID.String
	if err := json.Unmarshal([]byte(payload), &res.Payload); err != nil {
		return nil, eris.Wrap(err, "concept: unmarshal payload")
	}
	return &res, nil
}

func (s *SQLiteStore) ListConcepts(ctx context.Context, limit int) ([]model.Concept, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteConceptCols+` FROM concepts ORDER BY submission_count DESC, created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "concept: sqlite list concepts")
	}
	defer rows.Close()

	var out []model.Concept
	for rows.Next() {
		var c model.Concept
		if err := rows.Scan(&c.ID, &c.Fingerprint, &c.PrimarySubmissionID, &c.SubmissionCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "concept: sqlite scan concept")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "concept: sqlite list rows")
	}

	ptrs := make([]*model.Concept, 0, len(out))
	for i := range out {
		ptrs = append(ptrs, &out[i])
	}
	if err := s.loadStageStates(ctx, ptrs); err != nil {
		return nil, err
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
