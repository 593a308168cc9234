package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"gaiwait/pkg/config"
	"gaiwait/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type droppedCounter struct {
	n atomic.Int64
}

func (d *droppedCounter) AddDroppedLookup(_ context.Context, count int64) {
	d.n.Add(count)
}

func testConfig(t *testing.T) *config.StorageConfig {
	t.Helper()
	return &config.StorageConfig{
		Enabled:       true,
		DatabasePath:  filepath.Join(t.TempDir(), "journal.db"),
		BufferSize:    100,
		BatchSize:     10,
		FlushInterval: 20 * time.Millisecond,
		RetentionDays: 7,
		BusyTimeout:   5000,
	}
}

func setupTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(testConfig(t), nil, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// logAndFlush journals entries and waits until they are written.
func logAndFlush(t *testing.T, s *SQLiteStorage, entries ...*LookupLog) {
	t.Helper()
	before := s.Flushed()
	for _, e := range entries {
		require.NoError(t, s.LogLookup(context.Background(), e))
	}
	require.Eventually(t, func() bool {
		return s.Flushed() >= before+int64(len(entries))
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNewSQLiteStorage(t *testing.T) {
	s := setupTestStorage(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestNewSQLiteStorageInvalidConfig(t *testing.T) {
	_, err := NewSQLiteStorage(nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := testConfig(t)
	cfg.BatchSize = 0
	_, err = NewSQLiteStorage(cfg, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLogLookupRoundTrip(t *testing.T) {
	s := setupTestStorage(t)
	now := time.Now().Truncate(time.Millisecond)

	logAndFlush(t, s, &LookupLog{
		Timestamp:  now,
		WorkerID:   42,
		Node:       "example.com",
		Service:    "443",
		Family:     2,
		Outcome:    "succeeded",
		Addrs:      3,
		DurationMs: 12.5,
	})

	got, err := s.GetRecentLookups(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)

	l := got[0]
	assert.NotZero(t, l.ID)
	assert.True(t, now.Equal(l.Timestamp), "timestamp %v != %v", l.Timestamp, now)
	assert.Equal(t, uint64(42), l.WorkerID)
	assert.Equal(t, "example.com", l.Node)
	assert.Equal(t, "443", l.Service)
	assert.Equal(t, 2, l.Family)
	assert.Equal(t, "succeeded", l.Outcome)
	assert.Equal(t, 0, l.Code)
	assert.Equal(t, 3, l.Addrs)
	assert.InDelta(t, 12.5, l.DurationMs, 0.001)
	assert.False(t, l.Late)
}

func TestLogLookupSetsTimestamp(t *testing.T) {
	s := setupTestStorage(t)

	entry := &LookupLog{Node: "now.example", Outcome: "succeeded"}
	require.NoError(t, s.LogLookup(context.Background(), entry))
	assert.False(t, entry.Timestamp.IsZero())
}

func TestGetRecentLookupsOrderAndPaging(t *testing.T) {
	s := setupTestStorage(t)
	base := time.Now().Add(-time.Minute)

	var entries []*LookupLog
	for i := 0; i < 5; i++ {
		entries = append(entries, &LookupLog{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			WorkerID:  uint64(i + 1),
			Node:      "page.example",
			Outcome:   "succeeded",
		})
	}
	logAndFlush(t, s, entries...)

	ctx := context.Background()
	first, err := s.GetRecentLookups(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, uint64(5), first[0].WorkerID)
	assert.Equal(t, uint64(4), first[1].WorkerID)

	rest, err := s.GetRecentLookups(ctx, 10, 2)
	require.NoError(t, err)
	require.Len(t, rest, 3)
	assert.Equal(t, uint64(1), rest[2].WorkerID)
}

func TestGetLookupsByNode(t *testing.T) {
	s := setupTestStorage(t)
	logAndFlush(t, s,
		&LookupLog{Node: "a.example", Outcome: "succeeded"},
		&LookupLog{Node: "b.example", Outcome: "failed", Code: -2},
		&LookupLog{Node: "a.example", Outcome: "timed_out", Code: -885},
	)

	got, err := s.GetLookupsByNode(context.Background(), "a.example", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	for _, l := range got {
		assert.Equal(t, "a.example", l.Node)
	}

	none, err := s.GetLookupsByNode(context.Background(), "c.example", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetStatistics(t *testing.T) {
	s := setupTestStorage(t)
	logAndFlush(t, s,
		&LookupLog{Node: "a.example", Outcome: "succeeded", DurationMs: 10},
		&LookupLog{Node: "a.example", Outcome: "succeeded", DurationMs: 20},
		&LookupLog{Node: "b.example", Outcome: "failed", Code: -2, DurationMs: 30},
		&LookupLog{Node: "c.example", Outcome: "timed_out", Code: -885, DurationMs: 100},
		&LookupLog{Node: "c.example", Outcome: "succeeded", DurationMs: 900, Late: true},
	)

	stats, err := s.GetStatistics(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.TotalLookups)
	assert.Equal(t, int64(2), stats.Succeeded)
	assert.Equal(t, int64(1), stats.TimedOut)
	assert.Equal(t, int64(1), stats.LateResults)
	assert.Equal(t, int64(3), stats.UniqueNodes)
	assert.InDelta(t, 40.0, stats.AvgDurationMs, 0.001)
	assert.InDelta(t, 25.0, stats.TimeoutRate, 0.001)
	assert.Equal(t, map[string]int64{"succeeded": 2, "failed": 1, "timed_out": 1}, stats.ByOutcome)

	future, err := s.GetStatistics(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, future.TotalLookups)
	assert.Zero(t, future.AvgDurationMs)
}

func TestCleanup(t *testing.T) {
	s := setupTestStorage(t)
	now := time.Now()
	logAndFlush(t, s,
		&LookupLog{Timestamp: now.Add(-10 * 24 * time.Hour), Node: "old.example", Outcome: "succeeded"},
		&LookupLog{Timestamp: now.Add(-8 * 24 * time.Hour), Node: "old.example", Outcome: "succeeded"},
		&LookupLog{Timestamp: now, Node: "new.example", Outcome: "succeeded"},
	)

	deleted, err := s.Cleanup(context.Background(), now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	left, err := s.GetRecentLookups(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new.example", left[0].Node)
}

func TestCloseFlushesBuffer(t *testing.T) {
	cfg := testConfig(t)
	cfg.FlushInterval = time.Hour
	cfg.BatchSize = 100

	s, err := NewSQLiteStorage(cfg, nil, logging.Discard())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.LogLookup(context.Background(), &LookupLog{Node: "pending.example", Outcome: "succeeded"}))
	}
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "second close must be a no-op")

	reopened, err := NewSQLiteStorage(cfg, nil, logging.Discard())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetLookupsByNode(context.Background(), "pending.example", 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestClosedStorage(t *testing.T) {
	s, err := NewSQLiteStorage(testConfig(t), nil, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	ctx := context.Background()
	assert.ErrorIs(t, s.LogLookup(ctx, &LookupLog{}), ErrClosed)
	_, err = s.GetRecentLookups(ctx, 1, 0)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.GetLookupsByNode(ctx, "x", 1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.GetStatistics(ctx, time.Now())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Cleanup(ctx, time.Now())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Ping(ctx), ErrClosed)
}

func TestLogLookupBufferFull(t *testing.T) {
	metrics := &droppedCounter{}
	// No flush worker: the buffer only fills.
	s := &SQLiteStorage{
		cfg:     testConfig(t),
		metrics: metrics,
		logger:  logging.Discard(),
		buffer:  make(chan *LookupLog, 1),
	}

	ctx := context.Background()
	require.NoError(t, s.LogLookup(ctx, &LookupLog{Node: "one"}))
	assert.ErrorIs(t, s.LogLookup(ctx, &LookupLog{Node: "two"}), ErrBufferFull)
	assert.Equal(t, int64(1), metrics.n.Load())
}

func TestMigrations(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, runMigrations(db))
	require.NoError(t, runMigrations(db), "re-running migrations must be a no-op")

	version, err := getCurrentVersion(db)
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, version)

	var applied int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&applied))
	assert.Equal(t, len(migrations), applied)
}

func TestGetMigrationsSorted(t *testing.T) {
	ms := getMigrations()
	for i := 1; i < len(ms); i++ {
		assert.Less(t, ms[i-1].Version, ms[i].Version)
	}
}

func TestParseSQLiteTime(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 30, 45, 500_000_000, time.UTC)

	assert.True(t, want.Equal(parseSQLiteTime("2024-03-01T12:30:45.5Z")))
	assert.True(t, want.Equal(parseSQLiteTime("2024-03-01 12:30:45.5+00:00")))
	assert.True(t, parseSQLiteTime("").IsZero())
	assert.True(t, parseSQLiteTime("not a time").IsZero())
}
