// Package store keeps a local history of channel aggregates.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a channel has no recorded snapshots.
var ErrNotFound = errors.New("store: snapshot not found")

// Snapshot is one observed aggregate of a channel.
type Snapshot struct {
	ID         int64
	ChannelID  string
	Channel    string
	Aggregate  any
	Hash       string
	RecordedAt time.Time
}

// SQLiteSnapshotStore records aggregates in SQLite, skipping snapshots
// identical to the channel's latest one.
type SQLiteSnapshotStore struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*SQLiteSnapshotStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	s, err := NewSQLiteSnapshotStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteSnapshotStore uses an open database, creating the schema if
// needed.
func NewSQLiteSnapshotStore(db *sql.DB) (*SQLiteSnapshotStore, error) {
	s := &SQLiteSnapshotStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return s, nil
}

func (s *SQLiteSnapshotStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id TEXT NOT NULL,
		channel_name TEXT NOT NULL,
		aggregate JSON,
		hash TEXT NOT NULL,
		recorded_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_channel ON snapshots (channel_id, id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Close closes the database.
func (s *SQLiteSnapshotStore) Close() error {
	return s.db.Close()
}

func hashAggregate(aggregate any) (string, []byte, error) {
	data, err := json.Marshal(aggregate)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), data, nil
}

// Record stores aggregate as the channel's newest snapshot. It reports
// false when the aggregate equals the latest recorded one.
func (s *SQLiteSnapshotStore) Record(ctx context.Context, channelID, name string, aggregate any, at time.Time) (bool, error) {
	hash, data, err := hashAggregate(aggregate)
	if err != nil {
		return false, fmt.Errorf("encode aggregate: %w", err)
	}

	var last string
	err = s.db.QueryRowContext(ctx,
		`SELECT hash FROM snapshots WHERE channel_id = ? ORDER BY id DESC LIMIT 1`, channelID,
	).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to read latest snapshot: %w", err)
	}
	if last == hash {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (channel_id, channel_name, aggregate, hash, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		channelID, name, string(data), hash, at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return true, nil
}

const selectSnapshot = `SELECT id, channel_id, channel_name, aggregate, hash, recorded_at FROM snapshots`

// Latest returns the channel's newest snapshot.
func (s *SQLiteSnapshotStore) Latest(ctx context.Context, channelID string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, selectSnapshot+` WHERE channel_id = ? ORDER BY id DESC LIMIT 1`, channelID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return snap, err
}

// List returns up to limit snapshots for the channel, newest first.
func (s *SQLiteSnapshotStore) List(ctx context.Context, channelID string, limit int) ([]*Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectSnapshot+` WHERE channel_id = ? ORDER BY id DESC LIMIT ?`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*Snapshot, error) {
	var (
		snap      Snapshot
		aggregate sql.NullString
		recorded  string
	)
	if err := row.Scan(&snap.ID, &snap.ChannelID, &snap.Channel, &aggregate, &snap.Hash, &recorded); err != nil {
		return nil, err
	}
	if aggregate.Valid && aggregate.String != "" {
		if err := json.Unmarshal([]byte(aggregate.String), &snap.Aggregate); err != nil {
			return nil, fmt.Errorf("corrupt snapshot %d: %w", snap.ID, err)
		}
	}
	snap.RecordedAt = parseTime(recorded)
	return &snap, nil
}

func parseTime(value string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
