package concept

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/db"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// preparedStatements lists queries prepared on each new connection. The
// concept upsert is the hot path of batch resolution.
var preparedStatements = map[string]string{
	"upsert_concept": `INSERT INTO concepts (id, fingerprint, primary_submission_id, submission_count, created_at, updated_at)
		VALUES ($1, $2, $3, 1, $4, $4)
		ON CONFLICT (fingerprint) DO UPDATE
		SET submission_count = concepts.submission_count + 1, updated_at = $4
		RETURNING id, fingerprint, primary_submission_id, submission_count, created_at, updated_at`,
	"get_concept":               `SELECT id, fingerprint, primary_submission_id, submission_count, created_at, updated_at FROM concepts WHERE id = $1`,
	"get_concept_by_submission": `SELECT id, fingerprint, primary_submission_id, submission_count, created_at, updated_at FROM concepts WHERE primary_submission_id = $1`,
	"mark_stage_complete": `INSERT INTO concept_stage_state (concept_id, stage, complete, best_score, updated_at)
		VALUES ($1, $2, TRUE, $3, $4)
		ON CONFLICT (concept_id, stage) DO UPDATE
		SET complete = concept_stage_state.complete OR EXCLUDED.complete,
		    best_score = GREATEST(concept_stage_state.best_score, EXCLUDED.best_score),
		    updated_at = $4`,
	"insert_result": `INSERT INTO analysis_results (id, submission_id, concept_id, stage, payload, score, provenance, copied_from, copied_at, fallback_used, fallback_reason, retries, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
	"latest_primary_result": `SELECT id, submission_id, concept_id, stage, payload, score, provenance, fallback_used, fallback_reason, retries, created_at
		FROM analysis_results
		WHERE concept_id = $1 AND stage = $2 AND provenance <> 'copied'
		ORDER BY created_at DESC LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, maxConns, minConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "concept: parse config")
	}

	if maxConns > 0 {
		pgxCfg.MaxConns = maxConns
	}
	if minConns > 0 {
		pgxCfg.MinConns = minConns
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "concept: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "concept: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "concept: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS concepts (
	id                    TEXT PRIMARY KEY,
	fingerprint           TEXT NOT NULL UNIQUE,
	primary_submission_id TEXT NOT NULL,
	submission_count      INT NOT NULL DEFAULT 1,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS concept_stage_state (
	concept_id TEXT NOT NULL REFERENCES concepts(id),
	stage      TEXT NOT NULL,
	complete   BOOLEAN NOT NULL DEFAULT FALSE,
	best_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (concept_id, stage)
);

CREATE TABLE IF NOT EXISTS analysis_results (
	id              TEXT PRIMARY KEY,
	submission_id   TEXT NOT NULL,
	concept_id      TEXT,
	stage           TEXT NOT NULL,
	payload         JSONB NOT NULL,
	score           DOUBLE PRECISION NOT NULL DEFAULT 0,
	provenance      TEXT NOT NULL,
	copied_from     TEXT,
	copied_at       TIMESTAMPTZ,
	fallback_used   BOOLEAN NOT NULL DEFAULT FALSE,
	fallback_reason TEXT,
	retries         INT NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_results_concept_stage
	ON analysis_results (concept_id, stage, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_concepts_primary_submission
	ON concepts (primary_submission_id);
`

// Migrate creates the concept tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "concept: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetConcept(ctx context.Context, id string) (*model.Concept, error) {
	return s.getConcept(ctx, "get_concept", id)
}

func (s *PostgresStore) GetConceptBySubmission(ctx context.Context, submissionID string) (*model.Concept, error) {
	return s.getConcept(ctx, "get_concept_by_submission", submissionID)
}

func (s *PostgresStore) getConcept(ctx context.Context, query, arg string) (*model.Concept, error) {
	var c model.Concept
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&c.ID, &c.Fingerprint, &c.PrimarySubmissionID, &c.SubmissionCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "concept: get concept")
	}

	if err := s.loadStageStates(ctx, []*model.Concept{&c}); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) GetOrCreateConcept(ctx context.Context, submissionID, conceptText string) (*model.Concept, error) {
	fp := Fingerprint(conceptText)
	now := time.Now().UTC()

	var c model.Concept
	err := s.pool.QueryRow(ctx, "upsert_concept", uuid.NewString(), fp, submissionID, now).Scan(
		&c.ID, &c.Fingerprint, &c.PrimarySubmissionID, &c.SubmissionCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "concept: get or create")
	}

	if err := s.loadStageStates(ctx, []*model.Concept{&c}); err != nil {
		return nil, err
	}
	return &c, nil
}

// BumpSubmissionCounts applies all deltas in one UPDATE over unnested arrays.
func (s *PostgresStore) BumpSubmissionCounts(ctx context.Context, deltas map[string]int) error {
	if len(deltas) == 0 {
		return nil
	}

	ids := make([]string, 0, len(deltas))
	counts := make([]int32, 0, len(deltas))
	for id, n := range deltas {
		ids = append(ids, id)
		counts = append(counts, int32(n))
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE concepts SET submission_count = submission_count + d.n, updated_at = $3
		 FROM (SELECT unnest($1::text[]) AS id, unnest($2::int[]) AS n) d
		 WHERE concepts.id = d.id`,
		ids, counts, time.Now().UTC())
	if err != nil {
		return eris.Wrap(err, "concept: bump submission counts")
	}
	return nil
}

func (s *PostgresStore) MarkStageComplete(ctx context.Context, conceptID string, stage model.Stage, score float64) error {
	if _, err := s.pool.Exec(ctx, "mark_stage_complete", conceptID, string(stage), score, time.Now().UTC()); err != nil {
		return eris.Wrapf(err, "concept: mark stage %s complete", stage)
	}
	return nil
}

// ResolveBatch loads concepts and stage flags for a whole batch in two
// aggregate queries. Round-trip cost is O(distinct concepts), not
// O(submissions).
func (s *PostgresStore) ResolveBatch(ctx context.Context, fingerprints []string) (map[string]*model.Concept, error) {
	out := make(map[string]*model.Concept, len(fingerprints))
	if len(fingerprints) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, fingerprint, primary_submission_id, submission_count, created_at, updated_at
		 FROM concepts WHERE fingerprint = ANY($1)`, fingerprints)
	if err != nil {
		return nil, eris.Wrap(err, "concept: resolve batch")
	}
	defer rows.Close()

	var concepts []*model.Concept
	for rows.Next() {
		var c model.Concept
		if err := rows.Scan(&c.ID, &c.Fingerprint, &c.PrimarySubmissionID, &c.SubmissionCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "concept: scan concept")
		}
		concepts = append(concepts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "concept: resolve batch rows")
	}

	if err := s.loadStageStates(ctx, concepts); err != nil {
		return nil, err
	}

	for _, c := range concepts {
		out[c.Fingerprint] = c
	}
	return out, nil
}

// loadStageStates fills Stages for the given concepts in one query.
func (s *PostgresStore) loadStageStates(ctx context.Context, concepts []*model.Concept) error {
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

	rows, err := s.pool.Query(ctx,
		`SELECT concept_id, stage, complete, best_score FROM concept_stage_state WHERE concept_id = ANY($1)`, ids)
	if err != nil {
		return eris.Wrap(err, "concept: load stage states")
	}
	defer rows.Close()

	for rows.Next() {
		var conceptID, stage string
		var st model.StageState
		if err := rows.Scan(&conceptID, &stage, &st.Complete, &st.BestScore); err != nil {
			return eris.Wrap(err, "concept: scan stage state")
		}
		if c, ok := byID[conceptID]; ok {
			c.Stages[model.Stage(stage)] = st
		}
	}
	return eris.Wrap(rows.Err(), "concept: stage state rows")
}

func (s *PostgresStore) SaveResult(ctx context.Context, res *model.StageResult) error {
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

	var conceptID any
	if res.ConceptID != "" {
		conceptID = res.ConceptID
	}
	var copiedFrom any
	if res.CopiedFrom != "" {
		copiedFrom = res.CopiedFrom
	}

	_, err = s.pool.Exec(ctx, "insert_result",
		res.ID, res.SubmissionID, conceptID, string(res.Stage), payload, res.Score,
		string(res.Provenance), copiedFrom, res.CopiedAt,
		res.FallbackUsed, res.FallbackReason, res.Retries, res.CreatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "concept: save result")
	}
	return nil
}

func (s *PostgresStore) LatestPrimaryResult(ctx context.Context, conceptID string, stage model.Stage) (*model.StageResult, error) {
	var res model.StageResult
	var payload []byte
	var maybeConceptID *string

	err := s.pool.QueryRow(ctx, "latest_primary_result", conceptID, string(stage)).Scan(
		&res.ID, &res.SubmissionID, &maybeConceptID, &res.Stage, &payload, &res.Score,
		&res.Provenance, &res.FallbackUsed, &res.FallbackReason, &res.Retries, &res.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "concept: latest primary result")
	}

	if maybeConceptID != nil {
		res.ConceptID = *maybeConceptID
	}
	if err := json.Unmarshal(payload, &res.Payload); err != nil {
		return nil, eris.Wrap(err, "concept: unmarshal payload")
	}
	return &res, nil
}

func (s *PostgresStore) ListConcepts(ctx context.Context, limit int) ([]model.Concept, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, fingerprint, primary_submission_id, submission_count, created_at, updated_at
		 FROM concepts ORDER BY submission_count DESC, created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "concept: list concepts")
	}
	defer rows.Close()

	var out []model.Concept
	var ptrs []*model.Concept
	for rows.Next() {
		var c model.Concept
		if err := rows.Scan(&c.ID, &c.Fingerprint, &c.PrimarySubmissionID, &c.SubmissionCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "concept: scan concept")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "concept: list rows")
	}

	for i := range out {
		ptrs = append(ptrs, &out[i])
	}
	if err := s.loadStageStates(ctx, ptrs); err != nil {
		return nil, err
	}
	return out, nil
}
