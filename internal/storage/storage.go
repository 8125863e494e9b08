// Package storage persists bot state that must survive restarts: the
// per-room score ledger and per-room prefix overrides.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/emberside/firebot/pkg/models"
)

// Store wraps a SQLite database. All methods are safe for concurrent
// use; database/sql serializes access to the single writer connection.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "storage")}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Info("storage ready", "path", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// migrate applies idempotent schema statements in order.
func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scores (
			room_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			value INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP,
			PRIMARY KEY (room_id, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_room_value ON scores(room_id, value DESC)`,
		`CREATE TABLE IF NOT EXISTS room_prefixes (
			room_id TEXT PRIMARY KEY,
			prefix TEXT NOT NULL,
			updated_at TIMESTAMP
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// GetScore returns the caller's score in a room, zero when absent.
func (s *Store) GetScore(ctx context.Context, roomID, userID string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM scores WHERE room_id = ? AND user_id = ?`,
		roomID, userID).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get score: %w", err)
	}
	return value, nil
}

// AddScore adjusts a score by delta and returns the new value.
func (s *Store) AddScore(ctx context.Context, roomID, userID string, delta int64) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scores (room_id, user_id, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(room_id, user_id) DO UPDATE SET value = value + excluded.value, updated_at = excluded.updated_at`,
		roomID, userID, delta, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("add score: %w", err)
	}
	return s.GetScore(ctx, roomID, userID)
}

// Top returns a room's highest scores, best first.
func (s *Store) Top(ctx context.Context, roomID string, limit int) ([]models.Score, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT room_id, user_id, value FROM scores WHERE room_id = ? ORDER BY value DESC, user_id ASC LIMIT ?`,
		roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query top scores: %w", err)
	}
	defer rows.Close()

	var out []models.Score
	for rows.Next() {
		var sc models.Score
		if err := rows.Scan(&sc.RoomID, &sc.UserID, &sc.Value); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// SetRoomPrefix stores a room's prefix override. An empty prefix deletes
// the override.
func (s *Store) SetRoomPrefix(ctx context.Context, roomID, prefix string) error {
	if prefix == "" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM room_prefixes WHERE room_id = ?`, roomID)
		if err != nil {
			return fmt.Errorf("delete room prefix: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO room_prefixes (room_id, prefix, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(room_id) DO UPDATE SET prefix = excluded.prefix, updated_at = excluded.updated_at`,
		roomID, prefix, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set room prefix: %w", err)
	}
	return nil
}

// RoomPrefixes loads every stored prefix override.
func (s *Store) RoomPrefixes(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT room_id, prefix FROM room_prefixes`)
	if err != nil {
		return nil, fmt.Errorf("query room prefixes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var roomID, prefix string
		if err := rows.Scan(&roomID, &prefix); err != nil {
			return nil, fmt.Errorf("scan room prefix: %w", err)
		}
		out[roomID] = prefix
	}
	return out, rows.Err()
}
