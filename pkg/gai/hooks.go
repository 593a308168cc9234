package gai

import (
	"context"
	"time"
)

// Spawner starts a worker. Spawn must not run fn on the calling goroutine:
// the registry lock is held while it is called.
type Spawner interface {
	Spawn(fn func()) error
}

// SpawnerFunc adapts a function to the Spawner interface.
type SpawnerFunc func(fn func()) error

// Spawn calls f.
func (f SpawnerFunc) Spawn(fn func()) error {
	return f(fn)
}

// goSpawner runs every worker on a fresh goroutine and never fails.
var goSpawner = SpawnerFunc(func(fn func()) error {
	go fn()
	return nil
})

// MetricsRecorder receives lookup metrics. It only uses standard types so
// telemetry can implement it without importing this package.
type MetricsRecorder interface {
	RecordLookup(ctx context.Context, outcome string, duration time.Duration)
	AddInFlight(ctx context.Context, delta int64)
	AddOrphaned(ctx context.Context, delta int64)
	AddLateResult(ctx context.Context, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) RecordLookup(context.Context, string, time.Duration) {}
func (noopMetrics) AddInFlight(context.Context, int64)                  {}
func (noopMetrics) AddOrphaned(context.Context, int64)                  {}
func (noopMetrics) AddLateResult(context.Context, string)               {}

// Record describes one finished lookup, or the late completion of a worker
// whose caller had already given up (Late set).
type Record struct {
	Time     time.Time
	WorkerID WorkerID
	Node     string
	Service  string
	Family   int
	Outcome  Outcome
	Code     int
	Addrs    int
	Duration time.Duration
	Late     bool
}

// Observer is told about every Record. It is called outside the registry
// lock, possibly from worker goroutines, and must not block for long.
type Observer interface {
	ObserveLookup(ctx context.Context, rec Record)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, rec Record)

// ObserveLookup calls f.
func (f ObserverFunc) ObserveLookup(ctx context.Context, rec Record) {
	f(ctx, rec)
}
