// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rollback implements the durable, append-only rollback journal
// (spec.md §4.3), backed by the trimmed single-writer sqlite layer in
// internal/database. Its CRUD surface is grounded on the CRUD-store
// pattern of the teacher's internal/models/crossseed_blocklist.go
// (store-wraps-db, context-scoped methods, RowsAffected checks).
package rollback

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/autobrr/qbitgov/internal/database"
	"github.com/autobrr/qbitgov/internal/domain"
)

// Journal is the rollback journal store.
type Journal struct {
	db *database.DB
}

// New wraps db as a Journal.
func New(db *database.DB) *Journal {
	return &Journal{db: db}
}

// RecordBatch inserts entries atomically, skipping any whose old and new
// limits are identical (spec.md §4.3). Returns the number of rows actually
// inserted. A write failure is logged by the caller and does not fail the
// cycle (spec.md §7): it returns (0, err) and lets the caller decide.
func (j *Journal) RecordBatch(ctx context.Context, entries []domain.RollbackEntry, trackAll bool) (int, error) {
	filtered := entries[:0:0]
	for _, e := range entries {
		if e.OldLimit == e.NewLimit {
			continue
		}
		filtered = append(filtered, e)
	}
	if len(filtered) == 0 {
		return 0, nil
	}
	if !trackAll {
		// track_all_changes=false still tracks boundary-crossing changes,
		// since those are the ones rollback exists to undo.
		boundary := filtered[:0:0]
		for _, e := range filtered {
			if (e.OldLimit <= 0) != (e.NewLimit <= 0) {
				boundary = append(boundary, e)
			}
		}
		filtered = boundary
	}
	if len(filtered) == 0 {
		return 0, nil
	}

	inserted := 0
	err := j.db.Write(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO rollback_entries
			(torrent_hash, old_limit, new_limit, tracker_id, timestamp, reason)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range filtered {
			if _, err := stmt.ExecContext(ctx, e.TorrentHash, e.OldLimit, e.NewLimit, e.TrackerID, e.Timestamp, e.Reason); err != nil {
				return err
			}
			inserted++
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("rollback: recording batch: %w", err)
	}
	return inserted, nil
}

// UnrestoredByHash returns the oldest unrestored old_limit per hash — the
// true pre-management value, per spec.md §4.3/§9's normative resolution of
// the "earliest vs most-recent" ambiguity observed in the Python reference
// (original_source/src/rollback.py).
func (j *Journal) UnrestoredByHash(ctx context.Context) (map[string]int64, error) {
	rows, err := j.db.Conn().QueryContext(ctx, `
		SELECT torrent_hash, old_limit
		FROM rollback_entries r
		WHERE restored = 0
		AND id = (
			SELECT MIN(id) FROM rollback_entries r2
			WHERE r2.torrent_hash = r.torrent_hash AND r2.restored = 0
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("rollback: querying unrestored: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var hash string
		var oldLimit int64
		if err := rows.Scan(&hash, &oldLimit); err != nil {
			return nil, fmt.Errorf("rollback: scanning unrestored row: %w", err)
		}
		out[hash] = oldLimit
	}
	return out, rows.Err()
}

// MarkRestored sets restored=1 for every currently-unrestored row whose
// hash is in hashes. Returns the number of rows affected.
func (j *Journal) MarkRestored(ctx context.Context, hashes []string) (int64, error) {
	if len(hashes) == 0 {
		return 0, nil
	}

	var affected int64
	err := j.db.Write(ctx, func(conn *sql.Conn) error {
		query, args := buildInQuery(`UPDATE rollback_entries SET restored = 1 WHERE restored = 0 AND torrent_hash IN (`, hashes)
		res, err := conn.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("rollback: marking restored: %w", err)
	}
	return affected, nil
}

// DistinctHashes returns every distinct hash that has a journal entry,
// optionally including already-restored rows. Used by the "reset all
// managed torrents" operation (POST /limits/reset, scope=all).
func (j *Journal) DistinctHashes(ctx context.Context, includeRestored bool) ([]string, error) {
	query := `SELECT DISTINCT torrent_hash FROM rollback_entries`
	if !includeRestored {
		query += ` WHERE restored = 0`
	}
	rows, err := j.db.Conn().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rollback: querying distinct hashes: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("rollback: scanning hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// Cleanup deletes restored rows older than olderThanDays (spec.md §4.3).
func (j *Journal) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	var affected int64
	err := j.db.Write(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx,
			`DELETE FROM rollback_entries WHERE restored = 1 AND timestamp < (strftime('%s','now') - ? * 86400)`,
			olderThanDays)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("rollback: cleanup: %w", err)
	}
	return affected, nil
}

// Vacuum reclaims space (grounded on original_source's vacuum_database).
// Nothing in the process calls it on a schedule; it runs only when a
// caller invokes it.
func (j *Journal) Vacuum(ctx context.Context) error {
	return j.db.Write(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `VACUUM`)
		return err
	})
}

// Stats reports aggregate journal counters for GET /stats.
type Stats struct {
	TotalEntries      int64
	UnrestoredEntries int64
}

func (j *Journal) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := j.db.Conn().QueryRowContext(ctx, `SELECT COUNT(1) FROM rollback_entries`).Scan(&s.TotalEntries); err != nil {
		return s, fmt.Errorf("rollback: counting total entries: %w", err)
	}
	if err := j.db.Conn().QueryRowContext(ctx, `SELECT COUNT(1) FROM rollback_entries WHERE restored = 0`).Scan(&s.UnrestoredEntries); err != nil {
		return s, fmt.Errorf("rollback: counting unrestored entries: %w", err)
	}
	return s, nil
}

// Export returns every unrestored entry, for the "qbitgov rollback export"
// CLI sub-command (SPEC_FULL.md supplemented feature 4, grounded on
// original_source's export_rollback_data).
func (j *Journal) Export(ctx context.Context) ([]domain.RollbackEntry, error) {
	rows, err := j.db.Conn().QueryContext(ctx, `
		SELECT id, torrent_hash, old_limit, new_limit, tracker_id, timestamp, reason, restored, created_at
		FROM rollback_entries WHERE restored = 0 ORDER BY timestamp ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("rollback: querying export: %w", err)
	}
	defer rows.Close()

	var out []domain.RollbackEntry
	for rows.Next() {
		var e domain.RollbackEntry
		var restored int
		if err := rows.Scan(&e.ID, &e.TorrentHash, &e.OldLimit, &e.NewLimit, &e.TrackerID, &e.Timestamp, &e.Reason, &restored, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("rollback: scanning export row: %w", err)
		}
		e.Restored = restored != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func buildInQuery(prefix string, values []string) (string, []interface{}) {
	args := make([]interface{}, len(values))
	query := prefix
	for i, v := range values {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args[i] = v
	}
	query += ")"
	return query, args
}
