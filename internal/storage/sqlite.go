// Package storage keeps the client's local history: matches it played, used
// to keep game ids unique, and maps it downloaded from the repository.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

const timeLayout = "2006-01-02T15:04:05Z"

// formatTimestamp stores times as UTC ISO8601 text
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

//go:embed schema.sql
var schema string

type Match struct {
	GameID    int
	Room      string
	Host      string
	MapHash   string
	MapName   string
	GameMode  string
	Players   []string
	Seed      int32
	StartedAt time.Time
	EndedAt   *time.Time
}

type DownloadedMap struct {
	Hash         string
	Name         string
	Size         int
	DownloadedAt time.Time
}

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- Match methods ---

// GameIDTaken reports whether a match with this id was already played.
func (s *Store) GameIDTaken(ctx context.Context, id int) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM matches WHERE game_id = ?", id).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) RecordMatch(ctx context.Context, m Match) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matches (game_id, room, host, map_hash, map_name, game_mode, players, seed, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.GameID, m.Room, m.Host, m.MapHash, m.MapName, m.GameMode,
		strings.Join(m.Players, ","), m.Seed, formatTimestamp(m.StartedAt))
	if err != nil {
		return fmt.Errorf("recording match %d: %w", m.GameID, err)
	}
	return nil
}

func (s *Store) EndMatch(ctx context.Context, id int, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE matches SET ended_at = ? WHERE game_id = ?",
		formatTimestamp(endedAt), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("match %d: %w", id, ErrNotFound)
	}
	return nil
}

// RecentMatches returns up to limit matches, newest first.
func (s *Store) RecentMatches(ctx context.Context, limit int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT game_id, room, host, map_hash, map_name, game_mode, players, seed, started_at, ended_at
		FROM matches ORDER BY started_at DESC, game_id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		var players, startedAt string
		var endedAt sql.NullString
		if err := rows.Scan(&m.GameID, &m.Room, &m.Host, &m.MapHash, &m.MapName, &m.GameMode,
			&players, &m.Seed, &startedAt, &endedAt); err != nil {
			return nil, err
		}
		if players != "" {
			m.Players = strings.Split(players, ",")
		}
		if m.StartedAt, err = parseTimestamp(startedAt); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			t, err := parseTimestamp(endedAt.String)
			if err != nil {
				return nil, err
			}
			m.EndedAt = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Map methods ---

func (s *Store) RecordDownload(ctx context.Context, m DownloadedMap) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO downloaded_maps (hash, name, size, downloaded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			name = excluded.name,
			downloaded_at = excluded.downloaded_at
	`, m.Hash, m.Name, m.Size, formatTimestamp(m.DownloadedAt))
	return err
}

func (s *Store) DownloadedMaps(ctx context.Context) ([]DownloadedMap, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT hash, name, size, downloaded_at FROM downloaded_maps ORDER BY downloaded_at DESC, hash")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DownloadedMap
	for rows.Next() {
		var m DownloadedMap
		var at string
		if err := rows.Scan(&m.Hash, &m.Name, &m.Size, &at); err != nil {
			return nil, err
		}
		if m.DownloadedAt, err = parseTimestamp(at); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
