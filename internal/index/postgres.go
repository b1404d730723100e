package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/medtrust/predledger/internal/tracing"
)

// PostgresIndex implements Index on PostgreSQL. The add-if-absent
// semantics live in the database itself: Append is a single INSERT with
// ON CONFLICT DO NOTHING on the (identity, record_id) primary key, so
// there is no read-modify-write window between concurrent writers and a
// duplicate append from a retry is absorbed by the conflict clause.
type PostgresIndex struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresIndex creates a PostgresIndex backed by the given database.
func NewPostgresIndex(db *sql.DB, logger *slog.Logger) *PostgresIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresIndex{db: db, logger: logger}
}

// Append inserts the (identity, record_id) pair. Insertion order is
// preserved through the position sequence assigned at insert time.
func (i *PostgresIndex) Append(ctx context.Context, identity, recordID string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "record_index", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	query := `
		INSERT INTO record_index (identity, record_id)
		VALUES ($1, $2)
		ON CONFLICT (identity, record_id) DO NOTHING
	`
	result, execErr := i.db.ExecContext(ctx, query, identity, recordID)
	if execErr != nil {
		err = fmt.Errorf("index append: %w", execErr)
		return err
	}

	if rows, raErr := result.RowsAffected(); raErr == nil && rows == 0 {
		i.logger.Debug("index append skipped duplicate",
			slog.String("identity", identity),
			slog.String("record_id", recordID))
	}
	return nil
}

// List returns the identity's record ids in insertion order.
func (i *PostgresIndex) List(ctx context.Context, identity string) (ids []string, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "record_index", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT record_id FROM record_index
		WHERE identity = $1
		ORDER BY position ASC
	`
	rows, queryErr := i.db.QueryContext(ctx, query, identity)
	if queryErr != nil {
		err = fmt.Errorf("index list: %w", queryErr)
		return nil, err
	}
	defer rows.Close()

	ids = make([]string, 0)
	for rows.Next() {
		var id string
		if scanErr := rows.Scan(&id); scanErr != nil {
			err = fmt.Errorf("index list scan: %w", scanErr)
			return nil, err
		}
		ids = append(ids, id)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		err = fmt.Errorf("index list rows: %w", rowsErr)
		return nil, err
	}
	return ids, nil
}
