package storage

import (
	"context"
	"errors"

	"gaiwait/pkg/gai"
	"gaiwait/pkg/logging"
)

// Journal records every gai.Record it observes in a Storage.
type Journal struct {
	store  Storage
	logger *logging.Logger
}

// NewJournal creates a gai.Observer writing to store.
func NewJournal(store Storage, logger *logging.Logger) *Journal {
	return &Journal{
		store:  store,
		logger: logging.OrGlobal(logger).WithComponent("journal"),
	}
}

// ObserveLookup implements gai.Observer. It never blocks on the database.
func (j *Journal) ObserveLookup(ctx context.Context, rec gai.Record) {
	err := j.store.LogLookup(context.WithoutCancel(ctx), FromRecord(rec))
	switch {
	case err == nil:
	case errors.Is(err, ErrBufferFull):
		j.logger.Debug("Journal buffer full, dropping lookup", "node", rec.Node)
	default:
		j.logger.Warn("Failed to journal lookup", "node", rec.Node, "error", err)
	}
}

// FromRecord converts a gai.Record to a journal entry.
func FromRecord(rec gai.Record) *LookupLog {
	return &LookupLog{
		Timestamp:  rec.Time,
		WorkerID:   uint64(rec.WorkerID),
		Node:       rec.Node,
		Service:    rec.Service,
		Family:     rec.Family,
		Outcome:    string(rec.Outcome),
		Code:       rec.Code,
		Addrs:      rec.Addrs,
		DurationMs: float64(rec.Duration.Microseconds()) / 1000,
		Late:       rec.Late,
	}
}
