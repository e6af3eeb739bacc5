package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *SQLiteSnapshotStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndLatest(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	_, err := s.Latest(ctx, "c1")
	require.ErrorIs(t, err, ErrNotFound)

	added, err := s.Record(ctx, "c1", "tank", map[string]any{"level": 3}, t0)
	require.NoError(t, err)
	assert.True(t, added)

	// Identical aggregates are skipped.
	added, err = s.Record(ctx, "c1", "tank", map[string]any{"level": 3}, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, added)

	added, err = s.Record(ctx, "c1", "tank", map[string]any{"level": 4}, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, added)

	latest, err := s.Latest(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "tank", latest.Channel)
	assert.Equal(t, map[string]any{"level": float64(4)}, latest.Aggregate)
	assert.True(t, t0.Add(2*time.Minute).Equal(latest.RecordedAt))
	assert.Len(t, latest.Hash, 64)
}

func TestList(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	t0 := time.Now()
	for i := 0; i < 5; i++ {
		_, err := s.Record(ctx, "c1", "tank", map[string]any{"level": i}, t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	_, err := s.Record(ctx, "c2", "other", "text aggregate", t0)
	require.NoError(t, err)

	snaps, err := s.List(ctx, "c1", 3)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, map[string]any{"level": float64(4)}, snaps[0].Aggregate)
	assert.Equal(t, map[string]any{"level": float64(2)}, snaps[2].Aggregate)

	other, err := s.List(ctx, "c2", 0)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, "text aggregate", other[0].Aggregate)
}

func newMockStore(t *testing.T) (*SQLiteSnapshotStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS snapshots").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewSQLiteSnapshotStore(db)
	require.NoError(t, err)
	return s, mock, db
}

func TestMigrateError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("disk full"))

	_, err = NewSQLiteSnapshotStore(db)
	require.ErrorContains(t, err, "disk full")
}

func TestRecordInsertError(t *testing.T) {
	s, mock, _ := newMockStore(t)
	mock.ExpectQuery("SELECT hash FROM snapshots").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"hash"}))
	mock.ExpectExec("INSERT INTO snapshots").
		WillReturnError(errors.New("readonly database"))

	_, err := s.Record(context.Background(), "c1", "tank", map[string]any{"a": 1}, time.Now())
	require.ErrorContains(t, err, "failed to insert snapshot")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordReadError(t *testing.T) {
	s, mock, _ := newMockStore(t)
	mock.ExpectQuery("SELECT hash FROM snapshots").WillReturnError(errors.New("locked"))

	_, err := s.Record(context.Background(), "c1", "tank", 1, time.Now())
	require.ErrorContains(t, err, "failed to read latest snapshot")
}

func TestListCorruptRow(t *testing.T) {
	s, mock, _ := newMockStore(t)
	rows := sqlmock.NewRows([]string{"id", "channel_id", "channel_name", "aggregate", "hash", "recorded_at"}).
		AddRow(7, "c1", "tank", "{not json", "h", "2026-01-01T00:00:00Z")
	mock.ExpectQuery("SELECT id, channel_id").WithArgs("c1", 20).WillReturnRows(rows)

	_, err := s.List(context.Background(), "c1", 0)
	require.ErrorContains(t, err, "corrupt snapshot 7")
}
