// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package database is a trimmed-down adaptation of qui's single-writer
// sqlite layer (internal/database/db.go in the teacher repo): one
// dedicated write connection serialized through a channel, WAL mode, and
// go:embed'd migrations. The teacher's Postgres dialect and string-pool
// interning system are dropped — the rollback journal is the only durable
// store this governor needs, and it never sees multi-tenant string
// duplication (see DESIGN.md).
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type writeReq struct {
	fn   func(*sql.Conn) error
	done chan error
}

// DB is a single-writer sqlite handle: a read pool for concurrent queries
// plus one dedicated write connection whose mutations are serialized
// through writeCh, matching the teacher's writerLoop idiom.
type DB struct {
	conn      *sql.DB
	writeConn *sql.Conn
	writeCh   chan writeReq

	closeOnce sync.Once
	cancel    context.CancelFunc
}

// Open creates the database directory if needed, opens a WAL-mode sqlite
// database at path, runs embedded migrations, and starts the writer
// goroutine.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("database: creating directory %s: %w", dir, err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("database: opening %s: %w", path, err)
	}

	// Migrations run single-connection to avoid racing schema changes,
	// mirroring the teacher's SetMaxOpenConns(1) pattern during migrate().
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("database: applying %q: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)

	writeConn, err := conn.Conn(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("database: acquiring write connection: %w", err)
	}
	db.writeConn = writeConn
	db.writeCh = make(chan writeReq, 64)

	runCtx, cancel := context.WithCancel(context.Background())
	db.cancel = cancel
	go db.writerLoop(runCtx)

	return db, nil
}

func (db *DB) writerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-db.writeCh:
			req.done <- req.fn(db.writeConn)
		}
	}
}

// Write serializes fn through the single write connection.
func (db *DB) Write(ctx context.Context, fn func(*sql.Conn) error) error {
	done := make(chan error, 1)
	select {
	case db.writeCh <- writeReq{fn: fn, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Conn returns the read pool for concurrent SELECTs.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Close stops the writer goroutine and closes the underlying connections.
func (db *DB) Close() error {
	var err error
	db.closeOnce.Do(func() {
		if db.cancel != nil {
			db.cancel()
		}
		if db.writeConn != nil {
			db.writeConn.Close()
		}
		err = db.conn.Close()
	})
	return err
}

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("database: creating migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("database: reading embedded migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var applied int
		row := db.conn.QueryRowContext(ctx, `SELECT COUNT(1) FROM migrations WHERE filename = ?`, name)
		if err := row.Scan(&applied); err != nil {
			return fmt.Errorf("database: checking migration %s: %w", name, err)
		}
		if applied > 0 {
			continue
		}

		sqlBytes, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("database: reading migration %s: %w", name, err)
		}

		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("database: beginning migration tx for %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			tx.Rollback()
			return fmt.Errorf("database: applying migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO migrations (filename) VALUES (?)`, name); err != nil {
			tx.Rollback()
			return fmt.Errorf("database: recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("database: committing migration %s: %w", name, err)
		}

		log.Info().Str("migration", name).Msg("database: applied migration")
	}

	return nil
}
