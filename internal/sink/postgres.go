package sink

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/db"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/errdef"
)

// PostgresSink loads batches with the COPY protocol. Merge goes through a
// temp table and INSERT ON CONFLICT so reruns are idempotent.
type PostgresSink struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgresSink creates a sink over an existing pool.
func NewPostgresSink(pool db.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// Connect creates a sink with its own pool.
func Connect(ctx context.Context, connString string, maxConns, minConns int32) (*PostgresSink, error) {
	pool, err := db.Connect(ctx, connString, maxConns, minConns)
	if err != nil {
		return nil, eris.Wrap(err, "sink: connect")
	}
	return &PostgresSink{pool: pool, closeFn: pool.Close}, nil
}

func (s *PostgresSink) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresSink) Load(ctx context.Context, records []Record, table string, mode WriteMode, primaryKey []string, hints TypeHints) error {
	if table == "" {
		return eris.New("sink: table is required")
	}
	if mode == WriteModeMerge && len(primaryKey) == 0 {
		// Rejected before any I/O: a merge without a key would silently
		// duplicate rows.
		return eris.New("sink: merge mode requires a primary key")
	}
	if len(records) == 0 {
		return nil
	}

	cols := columnsOf(records)
	rows, err := rowsOf(records, cols, hints)
	if err != nil {
		return err
	}

	var n int64
	switch mode {
	case WriteModeMerge:
		n, err = db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
			Table:        table,
			Columns:      cols,
			ConflictKeys: primaryKey,
		}, rows)
	case WriteModeReplace:
		n, err = s.replace(ctx, table, cols, rows)
	case WriteModeAppend:
		n, err = db.CopyInto(ctx, s.pool, table, cols, rows)
	default:
		return eris.Errorf("sink: unknown write mode %q", mode)
	}
	if err != nil {
		return &errdef.StorageError{Table: table, Err: err}
	}

	zap.L().Info("batch stored",
		zap.String("table", table),
		zap.String("mode", string(mode)),
		zap.Int64("rows", n))
	return nil
}

// replace truncates and reloads the table in one transaction.
func (s *PostgresSink) replace(ctx context.Context, table string, cols []string, rows [][]any) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "sink: begin replace tx")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+db.SanitizeTable(table)); err != nil {
		return 0, eris.Wrapf(err, "sink: truncate %s", table)
	}

	n, err := db.CopyIntoTx(ctx, tx, table, cols, rows)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "sink: commit replace tx")
	}
	return n, nil
}
