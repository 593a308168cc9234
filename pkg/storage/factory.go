package storage

import (
	"context"
	"fmt"
	"time"

	"gaiwait/pkg/config"
	"gaiwait/pkg/logging"
)

// New creates the journal described by cfg. A disabled journal is a
// NoOpStorage.
func New(cfg *config.StorageConfig, metrics MetricsRecorder, logger *logging.Logger) (Storage, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if !cfg.Enabled {
		return NewNoOpStorage(), nil
	}

	s, err := NewSQLiteStorage(cfg, metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", cfg.DatabasePath, err)
	}
	return s, nil
}

// NoOpStorage is a no-op storage that does nothing
// Used when storage is disabled
type NoOpStorage struct{}

// NewNoOpStorage creates a new no-op storage
func NewNoOpStorage() *NoOpStorage {
	return &NoOpStorage{}
}

// LogLookup does nothing
func (n *NoOpStorage) LogLookup(ctx context.Context, lookup *LookupLog) error {
	return nil
}

// GetRecentLookups returns an empty slice
func (n *NoOpStorage) GetRecentLookups(ctx context.Context, limit, offset int) ([]*LookupLog, error) {
	return []*LookupLog{}, nil
}

// GetLookupsByNode returns an empty slice
func (n *NoOpStorage) GetLookupsByNode(ctx context.Context, node string, limit int) ([]*LookupLog, error) {
	return []*LookupLog{}, nil
}

// GetStatistics returns empty statistics
func (n *NoOpStorage) GetStatistics(ctx context.Context, since time.Time) (*Statistics, error) {
	return &Statistics{
		Since:     since,
		Until:     time.Now(),
		ByOutcome: map[string]int64{},
	}, nil
}

// Cleanup does nothing
func (n *NoOpStorage) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

// Close does nothing
func (n *NoOpStorage) Close() error {
	return nil
}

// Ping does nothing
func (n *NoOpStorage) Ping(ctx context.Context) error {
	return nil
}
