package storage

import (
	"context"
	"time"
)

// Storage defines the interface for all storage backends
// Implementations must be thread-safe and support concurrent access
type Storage interface {
	// Journal
	LogLookup(ctx context.Context, lookup *LookupLog) error
	GetRecentLookups(ctx context.Context, limit, offset int) ([]*LookupLog, error)
	GetLookupsByNode(ctx context.Context, node string, limit int) ([]*LookupLog, error)

	// Statistics
	GetStatistics(ctx context.Context, since time.Time) (*Statistics, error)

	// Maintenance
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
	Ping(ctx context.Context) error
}

// LookupLog is one journaled lookup outcome. Late entries record a worker
// that finished after its caller had returned.
type LookupLog struct {
	Timestamp  time.Time `json:"timestamp"`
	Node       string    `json:"node"`
	Service    string    `json:"service,omitempty"`
	Outcome    string    `json:"outcome"`
	ID         int64     `json:"id"`
	WorkerID   uint64    `json:"worker_id"`
	Family     int       `json:"family"`
	Code       int       `json:"code"`
	Addrs      int       `json:"addrs"`
	DurationMs float64   `json:"duration_ms"`
	Late       bool      `json:"late"`
}

// Statistics represents aggregated lookup statistics. Late entries are
// counted separately and not included in the other totals.
type Statistics struct {
	Since         time.Time        `json:"since"`
	Until         time.Time        `json:"until"`
	ByOutcome     map[string]int64 `json:"by_outcome"`
	TotalLookups  int64            `json:"total_lookups"`
	Succeeded     int64            `json:"succeeded"`
	TimedOut      int64            `json:"timed_out"`
	LateResults   int64            `json:"late_results"`
	UniqueNodes   int64            `json:"unique_nodes"`
	AvgDurationMs float64          `json:"avg_duration_ms"`
	TimeoutRate   float64          `json:"timeout_rate"` // Percentage of lookups that timed out
}
