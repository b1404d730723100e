// Package idempotency provides repository implementations for idempotency key storage.
package idempotency

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresRepository implements Repository backed by PostgreSQL, so cached
// responses survive restarts and are shared across API instances.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a Postgres-backed idempotency key repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get retrieves an idempotency key by its key value.
// Returns ErrKeyNotFound if the key doesn't exist.
func (r *PostgresRepository) Get(key string) (*IdempotencyKey, error) {
	const query = `
		SELECT key, method, route, created_at, record_id, response_hash,
		       status, response_body, response_status_code
		FROM idempotency_keys
		WHERE key = $1`

	record := &IdempotencyKey{}
	var recordID sql.NullString

	err := r.db.QueryRow(query, key).Scan(
		&record.Key,
		&record.Method,
		&record.Route,
		&record.CreatedAt,
		&recordID,
		&record.ResponseHash,
		&record.Status,
		&record.ResponseBody,
		&record.ResponseStatusCode,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query idempotency key: %w", err)
	}

	if recordID.Valid {
		record.RecordID = &recordID.String
	}
	return record, nil
}

// Store saves a new idempotency key.
// Returns ErrKeyExists if the key already exists.
func (r *PostgresRepository) Store(record *IdempotencyKey) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	const query = `
		INSERT INTO idempotency_keys (
			key, method, route, created_at, record_id, response_hash,
			status, response_body, response_status_code
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	var recordID sql.NullString
	if record.RecordID != nil {
		recordID = sql.NullString{String: *record.RecordID, Valid: true}
	}

	_, err := r.db.Exec(query,
		record.Key,
		record.Method,
		record.Route,
		record.CreatedAt,
		recordID,
		record.ResponseHash,
		record.Status,
		record.ResponseBody,
		record.ResponseStatusCode,
	)
	if err != nil {
		var pqErr *pq.Error
		// 23505 is unique_violation
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrKeyExists
		}
		return fmt.Errorf("insert idempotency key: %w", err)
	}

	return nil
}

// DeleteOlderThan removes idempotency keys older than the specified duration.
// Returns the number of keys deleted.
func (r *PostgresRepository) DeleteOlderThan(duration time.Duration) (int64, error) {
	const query = `DELETE FROM idempotency_keys WHERE created_at < $1`

	result, err := r.db.Exec(query, time.Now().Add(-duration))
	if err != nil {
		return 0, fmt.Errorf("delete idempotency keys: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return deleted, nil
}

var _ Repository = (*PostgresRepository)(nil)
