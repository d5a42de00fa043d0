package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrIdempotencyMismatch is returned when an idempotency key is replayed with
// a different request payload.
var ErrIdempotencyMismatch = errors.New("idempotency key reused with different request")

// Storage persists idempotency records and the audit trail in SQLite.
type Storage struct {
	db *sql.DB
}

// StoredResponse is a previously recorded response for an idempotency key.
type StoredResponse struct {
	StatusCode int
	Body       []byte
}

// NewStorage opens (and migrates) the SQLite database at path.
func NewStorage(path string) (*Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	storage := &Storage{db: db}
	if err := storage.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return storage, nil
}

func (s *Storage) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key TEXT PRIMARY KEY,
			request_hash TEXT NOT NULL,
			response_status INTEGER,
			response_body BLOB,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			api_key TEXT NOT NULL,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			status INTEGER NOT NULL,
			token_id TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

// HashRequest derives the canonical fingerprint used to detect idempotency
// key reuse across differing payloads.
func HashRequest(method, path string, body []byte) string {
	sum := sha256.Sum256([]byte(method + "\n" + path + "\n" + string(body)))
	return hex.EncodeToString(sum[:])
}

// BeginIdempotent registers the key for the given request hash. It returns
// the stored response when the identical request was already completed, and
// ErrIdempotencyMismatch when the key was used with a different payload.
func (s *Storage) BeginIdempotent(ctx context.Context, key, requestHash string) (*StoredResponse, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, request_hash, created_at) VALUES (?, ?, ?)`,
		key, requestHash, time.Now().UTC())
	if err == nil {
		return nil, nil
	}

	var (
		storedHash string
		status     sql.NullInt64
		body       []byte
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT request_hash, response_status, response_body FROM idempotency_keys WHERE key = ?`, key)
	if scanErr := row.Scan(&storedHash, &status, &body); scanErr != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", scanErr)
	}
	if storedHash != requestHash {
		return nil, ErrIdempotencyMismatch
	}
	if !status.Valid {
		// A prior attempt is still in flight or crashed before recording a
		// response. Let the caller retry the operation.
		return nil, nil
	}
	return &StoredResponse{StatusCode: int(status.Int64), Body: body}, nil
}

// CompleteIdempotent records the response for a previously begun key.
func (s *Storage) CompleteIdempotent(ctx context.Context, key string, statusCode int, body []byte) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE idempotency_keys SET response_status = ?, response_body = ? WHERE key = ?`,
		statusCode, body, key)
	if err != nil {
		return fmt.Errorf("record idempotent response: %w", err)
	}
	return nil
}

// RecordAudit appends an entry to the audit trail.
func (s *Storage) RecordAudit(ctx context.Context, apiKey, method, path string, status int, tokenID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, api_key, method, path, status, token_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), apiKey, method, path, status, tokenID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}
