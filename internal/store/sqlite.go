// SPDX-License-Identifier: AGPL-3.0-only

// Package store persists per-request transcripts for later inspection.
// It never holds resumable conversation state: a broker restart starts
// empty by design.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339Nano

// Transcript is the persisted record of one terminated request.
type Transcript struct {
	RequestID string
	Kind      string // "complete" or "tool_response"
	Provider  string
	Model     string
	Prompt    string
	Output    string
	Error     string
	StartTime time.Time
	EndTime   time.Time
	Duration  string
}

// TranscriptStore persists request transcripts.
type TranscriptStore interface {
	SaveTranscript(t *Transcript) error
	GetTranscripts(requestID string, limit int) ([]*Transcript, error)
	Close() error
}

// SQLiteStore implements TranscriptStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure the parent directory exists.
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveTranscript persists one request transcript.
func (s *SQLiteStore) SaveTranscript(t *Transcript) error {
	_, err := s.db.Exec(`
		INSERT INTO transcripts (request_id, kind, provider, model, prompt, output, error, start_time, end_time, duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.RequestID,
		t.Kind,
		t.Provider,
		t.Model,
		t.Prompt,
		t.Output,
		t.Error,
		t.StartTime.Format(timeFormat),
		t.EndTime.Format(timeFormat),
		t.Duration,
	)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

// GetTranscripts returns up to limit transcripts for the given request ID,
// ordered by start_time descending (most recent first).
func (s *SQLiteStore) GetTranscripts(requestID string, limit int) ([]*Transcript, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT request_id, kind, provider, model, prompt, output, error, start_time, end_time, duration
		FROM transcripts
		WHERE request_id = ?
		ORDER BY start_time DESC
		LIMIT ?`, requestID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	var transcripts []*Transcript
	for rows.Next() {
		var t Transcript
		var startStr, endStr string
		if err := rows.Scan(
			&t.RequestID, &t.Kind, &t.Provider, &t.Model, &t.Prompt,
			&t.Output, &t.Error, &startStr, &endStr, &t.Duration,
		); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		t.StartTime, _ = time.Parse(timeFormat, startStr)
		t.EndTime, _ = time.Parse(timeFormat, endStr)
		transcripts = append(transcripts, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}

	return transcripts, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
