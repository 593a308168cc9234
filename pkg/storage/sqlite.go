// Package storage contains the lookup journal; this file provides the
// SQLite implementation.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"gaiwait/pkg/config"
	"gaiwait/pkg/logging"

	_ "modernc.org/sqlite"
)

// MetricsRecorder defines the interface for recording storage metrics
// This interface breaks the import cycle between storage and telemetry packages
type MetricsRecorder interface {
	AddDroppedLookup(ctx context.Context, count int64)
}

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db           *sql.DB
	cfg          *config.StorageConfig
	metrics      MetricsRecorder
	logger       *logging.Logger
	buffer       chan *LookupLog
	stmtInsert   *sql.Stmt
	wg           sync.WaitGroup
	mu           sync.RWMutex
	closed       bool
	flushedCount int64 // guarded by mu
}

// NewSQLiteStorage creates a new SQLite storage backend
func NewSQLiteStorage(cfg *config.StorageConfig, metrics MetricsRecorder, logger *logging.Logger) (*SQLiteStorage, error) {
	if cfg == nil || cfg.DatabasePath == "" || cfg.BufferSize < 1 || cfg.BatchSize < 1 || cfg.FlushInterval <= 0 {
		return nil, ErrInvalidConfig
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if pingErr := db.Ping(); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, pingErr)
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout),
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if cfg.DatabasePath != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, pragmaErr := db.Exec(pragma); pragmaErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", pragmaErr)
		}
	}

	if migrationErr := runMigrations(db); migrationErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", migrationErr)
	}

	stmtInsert, err := db.Prepare(`
		INSERT INTO lookups
		(timestamp, worker_id, node, service, family, outcome, code, addrs, duration_ms, late)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	s := &SQLiteStorage{
		db:         db,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logging.OrGlobal(logger).WithComponent("storage"),
		buffer:     make(chan *LookupLog, cfg.BufferSize),
		stmtInsert: stmtInsert,
	}

	s.wg.Add(1)
	go s.flushWorker()

	return s, nil
}

// LogLookup queues a journal entry (async, buffered). A full buffer drops
// the entry and returns ErrBufferFull.
func (s *SQLiteStorage) LogLookup(ctx context.Context, lookup *LookupLog) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	if lookup.Timestamp.IsZero() {
		lookup.Timestamp = time.Now()
	}

	select {
	case s.buffer <- lookup:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		if s.metrics != nil {
			s.metrics.AddDroppedLookup(ctx, 1)
		}
		return ErrBufferFull
	}
}

// flushWorker batches buffered entries and writes them when the batch is
// full or FlushInterval elapses. It drains the buffer and exits once the
// buffer is closed.
func (s *SQLiteStorage) flushWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*LookupLog, 0, s.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.flushBatch(batch); err != nil {
			s.logger.Error("Failed to flush lookup batch",
				"error", err,
				"batch_size", len(batch),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case lookup, ok := <-s.buffer:
			if !ok {
				flush()
				return
			}
			batch = append(batch, lookup)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}

// flushBatch writes a batch in a single transaction.
func (s *SQLiteStorage) flushBatch(lookups []*LookupLog) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt := tx.Stmt(s.stmtInsert)
	for _, l := range lookups {
		_, err := stmt.Exec(
			l.Timestamp.UTC(),
			int64(l.WorkerID),
			l.Node,
			l.Service,
			l.Family,
			l.Outcome,
			l.Code,
			l.Addrs,
			l.DurationMs,
			l.Late,
		)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	s.mu.Lock()
	s.flushedCount += int64(len(lookups))
	s.mu.Unlock()
	return nil
}

// Flushed returns how many entries have been written so far.
func (s *SQLiteStorage) Flushed() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flushedCount
}

const selectLookups = `
	SELECT id, timestamp, worker_id, node, service, family, outcome, code, addrs, duration_ms, late
	FROM lookups
`

// GetRecentLookups returns the most recent entries with pagination support
func (s *SQLiteStorage) GetRecentLookups(ctx context.Context, limit, offset int) ([]*LookupLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, selectLookups+`
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return scanLookupLogs(rows)
}

// GetLookupsByNode returns the most recent entries for node
func (s *SQLiteStorage) GetLookupsByNode(ctx context.Context, node string, limit int) ([]*LookupLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, selectLookups+`
		WHERE node = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, node, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return scanLookupLogs(rows)
}

// GetStatistics returns lookup statistics since a given time
func (s *SQLiteStorage) GetStatistics(ctx context.Context, since time.Time) (*Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	stats := &Statistics{
		Since:     since,
		Until:     time.Now(),
		ByOutcome: make(map[string]int64),
	}

	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN late THEN 0 ELSE 1 END), 0) AS total,
			COALESCE(SUM(CASE WHEN late THEN 1 ELSE 0 END), 0) AS late,
			COUNT(DISTINCT CASE WHEN late THEN NULL ELSE node END) AS unique_nodes,
			AVG(CASE WHEN late THEN NULL ELSE duration_ms END) AS avg_duration
		FROM lookups
		WHERE timestamp >= ?
	`, since.UTC()).Scan(
		&stats.TotalLookups,
		&stats.LateResults,
		&stats.UniqueNodes,
		&avg,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	stats.AvgDurationMs = avg.Float64

	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*)
		FROM lookups
		WHERE timestamp >= ? AND NOT late
		GROUP BY outcome
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		stats.ByOutcome[outcome] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	stats.Succeeded = stats.ByOutcome["succeeded"]
	stats.TimedOut = stats.ByOutcome["timed_out"]
	if stats.TotalLookups > 0 {
		stats.TimeoutRate = float64(stats.TimedOut) / float64(stats.TotalLookups) * 100
	}

	return stats, nil
}

// Cleanup deletes entries older than olderThan and returns how many were
// removed.
func (s *SQLiteStorage) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM lookups WHERE timestamp < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	rows, _ := result.RowsAffected()

	// VACUUM to reclaim space (only if significant deletions)
	if rows > 10000 {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			s.logger.Error("VACUUM operation failed", "error", err, "deleted_rows", rows)
		}
	}

	return rows, nil
}

// Close flushes buffered entries and closes the database.
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.buffer)
	s.wg.Wait()

	if s.stmtInsert != nil {
		_ = s.stmtInsert.Close()
	}
	return s.db.Close()
}

// Ping checks if the storage is reachable
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	return s.db.PingContext(ctx)
}

func scanLookupLogs(rows *sql.Rows) ([]*LookupLog, error) {
	lookups := []*LookupLog{}

	for rows.Next() {
		var l LookupLog
		var ts sql.NullString
		var workerID int64

		err := rows.Scan(
			&l.ID,
			&ts,
			&workerID,
			&l.Node,
			&l.Service,
			&l.Family,
			&l.Outcome,
			&l.Code,
			&l.Addrs,
			&l.DurationMs,
			&l.Late,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		l.WorkerID = uint64(workerID)
		if ts.Valid {
			l.Timestamp = parseSQLiteTime(ts.String)
		}

		lookups = append(lookups, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return lookups, nil
}
