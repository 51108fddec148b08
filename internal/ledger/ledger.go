// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ledger maps a file's content fingerprint to its last-known
// processing outcome and gates re-entry into the mapping/load pipeline.
// The ledger is the single writer of its entries; they are never deleted
// except by explicit operator action (cmd/ledgerctl).
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status is a file's last-known processing outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPartial Status = "partial"
)

// Entry is one ledger record, keyed by file name. Reattempts overwrite it.
type Entry struct {
	FileName    string
	Fingerprint string
	ProcessedAt time.Time
	Status      Status
	RecordCount int
}

// Fingerprint returns the hex SHA-256 of the file content.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Ledger is a Postgres-backed processing ledger.
type Ledger struct {
	pool *pgxpool.Pool
}

// New creates a ledger backed by the given Postgres pool and ensures the
// ledger table exists.
func New(ctx context.Context, pool *pgxpool.Pool) (*Ledger, error) {
	l := &Ledger{pool: pool}
	if err := l.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	slog.Info("import ledger initialised")
	return l, nil
}

func (l *Ledger) ensureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS import_ledger (
			file_name    TEXT PRIMARY KEY,
			fingerprint  TEXT NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			status       TEXT NOT NULL,
			record_count INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_fingerprint ON import_ledger(fingerprint);
	`)
	return err
}

// ShouldProcess reports whether a file's bytes need processing. False only
// when an entry exists with the same fingerprint and status success: an
// unchanged successful file is skipped, a changed file (even under the same
// name) is always reprocessed.
func (l *Ledger) ShouldProcess(ctx context.Context, fileName string, content []byte) (bool, error) {
	entry, err := l.Get(ctx, fileName)
	if err != nil {
		return false, err
	}
	fp := Fingerprint(content)

	if entry != nil && entry.Fingerprint == fp && entry.Status == StatusSuccess {
		slog.Debug("file unchanged since last success, skipping",
			"file", fileName,
			"fingerprint", fp,
		)
		return false, nil
	}
	return true, nil
}

// Record upserts the outcome for one file, overwriting any prior attempt.
func (l *Ledger) Record(ctx context.Context, fileName, fingerprint string, status Status, recordCount int) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO import_ledger (file_name, fingerprint, processed_at, status, record_count)
		VALUES ($1, $2, NOW(), $3, $4)
		ON CONFLICT (file_name) DO UPDATE SET
			fingerprint  = EXCLUDED.fingerprint,
			processed_at = NOW(),
			status       = EXCLUDED.status,
			record_count = EXCLUDED.record_count
	`, fileName, fingerprint, string(status), recordCount)
	if err != nil {
		return fmt.Errorf("record ledger entry for %s: %w", fileName, err)
	}
	return nil
}

// Get retrieves the ledger entry for a file, or nil when none exists.
func (l *Ledger) Get(ctx context.Context, fileName string) (*Entry, error) {
	row := l.pool.QueryRow(ctx, `
		SELECT file_name, fingerprint, processed_at, status, record_count
		FROM import_ledger
		WHERE file_name = $1
	`, fileName)
	return scanEntry(row)
}

// List returns all ledger entries ordered by file name.
func (l *Ledger) List(ctx context.Context) ([]Entry, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT file_name, fingerprint, processed_at, status, record_count
		FROM import_ledger
		ORDER BY file_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var status string
		if err := rows.Scan(&e.FileName, &e.Fingerprint, &e.ProcessedAt, &status, &e.RecordCount); err != nil {
			return nil, err
		}
		e.Status = Status(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Clear removes one entry. Operator action only.
func (l *Ledger) Clear(ctx context.Context, fileName string) error {
	_, err := l.pool.Exec(ctx, `DELETE FROM import_ledger WHERE file_name = $1`, fileName)
	return err
}

// ClearAll removes every entry. Operator action only.
func (l *Ledger) ClearAll(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `DELETE FROM import_ledger`)
	return err
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var status string
	err := row.Scan(&e.FileName, &e.Fingerprint, &e.ProcessedAt, &status, &e.RecordCount)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Status = Status(status)
	return &e, nil
}
