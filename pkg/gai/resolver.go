package gai

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"gaiwait/pkg/logging"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// DefaultTimeout is used when neither the call nor Options set one.
const DefaultTimeout = 5 * time.Second

// Options configures a Resolver. The zero value is usable.
type Options struct {
	DefaultTimeout time.Duration
	Logger         *logging.Logger
	Metrics        MetricsRecorder
	Tracer         trace.Tracer
	Observer       Observer
	Spawner        Spawner
}

// Resolver runs a Primitive under a bounded wait. It is safe for
// concurrent use; all lookups of one Resolver share its registry.
type Resolver struct {
	primitive Primitive
	spawner   Spawner
	logger    *logging.Logger
	metrics   MetricsRecorder
	tracer    trace.Tracer
	observer  Observer
	now       func() time.Time

	reg            registry
	nextID         atomic.Uint64
	orphaned       atomic.Int64
	late           atomic.Uint64
	defaultTimeout atomic.Int64
	closed         atomic.Bool

	// called with the remaining wait before every wait; tests only
	testableWaitHook func(remaining time.Duration)
}

// New creates a Resolver around p.
func New(p Primitive, opts Options) *Resolver {
	r := &Resolver{
		primitive: p,
		spawner:   opts.Spawner,
		logger:    logging.OrGlobal(opts.Logger).WithComponent("gai"),
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		observer:  opts.Observer,
		now:       time.Now,
	}
	if r.spawner == nil {
		r.spawner = goSpawner
	}
	if r.metrics == nil {
		r.metrics = noopMetrics{}
	}
	if r.tracer == nil {
		r.tracer = tracenoop.NewTracerProvider().Tracer("gaiwait/gai")
	}
	r.SetDefaultTimeout(opts.DefaultTimeout)
	return r
}

// SetDefaultTimeout changes the wait used by requests without a Timeout.
// A non-positive d restores DefaultTimeout.
func (r *Resolver) SetDefaultTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	r.defaultTimeout.Store(int64(d))
}

// DefaultTimeout returns the wait used by requests without a Timeout.
func (r *Resolver) DefaultTimeout() time.Duration {
	return time.Duration(r.defaultTimeout.Load())
}

// Request is one lookup. Hints is borrowed for the duration of the call.
type Request struct {
	Node    string
	Service string
	Hints   *Hints
	Timeout time.Duration // <= 0 uses the resolver default
}

// Lookup resolves req, waiting at most req.Timeout or until ctx is done.
//
// On success the caller owns the Result and must Release it. Resolver
// failures are returned as *ResolverError, unchanged. When the wait ends
// first the error matches ErrTimeout (or, for a canceled ctx, ctx.Err());
// the primitive keeps running in the background and its result is dropped.
func (r *Resolver) Lookup(ctx context.Context, req Request) (*Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.DefaultTimeout()
	}
	return r.lookup(ctx, params{node: req.Node, service: req.Service, hints: req.Hints}, timeout)
}

func (r *Resolver) lookup(ctx context.Context, want params, timeout time.Duration) (*Result, error) {
	start := r.now()
	ctx, span := r.tracer.Start(ctx, "gai.lookup", trace.WithAttributes(
		attribute.String("gai.node", want.node),
		attribute.String("gai.service", want.service),
		attribute.Int64("gai.timeout_ms", timeout.Milliseconds()),
	))
	defer span.End()

	it, err := r.start(want, start)
	if err != nil {
		r.finish(ctx, span, 0, want, start, nil, err)
		return nil, err
	}

	r.metrics.AddInFlight(ctx, 1)
	res, err := r.wait(ctx, it, want, start.Add(timeout))
	r.metrics.AddInFlight(ctx, -1)

	r.finish(ctx, span, it.id, want, start, res, err)
	return res, err
}

// start registers the item and launches its worker. The lock is held across
// both so the worker cannot look for an item that does not exist yet, and a
// failed spawn leaves nothing behind.
func (r *Resolver) start(want params, now time.Time) (*item, error) {
	if r.closed.Load() {
		return nil, fmt.Errorf("%w: %w", ErrStartFailed, ErrClosed)
	}

	it := newItem(WorkerID(r.nextID.Add(1)), want, now)

	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()

	if err := r.reg.register(it); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartFailed, err)
	}
	if err := r.spawner.Spawn(func() { r.work(it) }); err != nil {
		r.reg.remove(it)
		r.logger.Error("Failed to start resolution worker", "node", want.node, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrStartFailed, err)
	}
	return it, nil
}

// wait is the coordinator loop. Wakes that do not carry a terminal status
// (the worker starting, a stray notification) only shorten the next wait.
func (r *Resolver) wait(ctx context.Context, it *item, want params, deadline time.Time) (*Result, error) {
	for {
		remaining := deadline.Sub(r.now())
		if remaining < 0 {
			remaining = 0
		}
		if r.testableWaitHook != nil {
			r.testableWaitHook(remaining)
		}

		var expired, canceled bool
		timer := time.NewTimer(remaining)
		select {
		case <-it.changed:
		case <-timer.C:
			expired = true
		case <-ctx.Done():
			canceled = true
		}
		timer.Stop()

		r.reg.mu.Lock()
		cur, ok := r.reg.find(it.id)
		if !ok {
			r.abandon(ctx, it)
			r.reg.mu.Unlock()
			r.logger.Error("In-flight item missing from registry", "worker", it.id, "node", want.node)
			return nil, ErrItemNotFound
		}

		if (expired || canceled) && !cur.status.Terminal() {
			cur.status = StatusTimedOut
		}

		switch cur.status {
		case StatusNotStarted, StatusRunning:
			r.reg.mu.Unlock()
			continue

		case StatusSucceeded:
			res := cur.result
			cur.result = nil
			if cur.params != want {
				dump := r.reg.snapshot(r.now())
				r.abandon(ctx, cur)
				r.reg.remove(cur)
				r.reg.mu.Unlock()
				res.Release()
				for i, info := range dump {
					r.logger.Error("In-flight registry entry", "index", i, "item", info.String())
				}
				r.logger.Error("Succeeded item does not match its request",
					"worker", it.id, "node", want.node, "service", want.service)
				return nil, ErrParamMismatch
			}
			r.reg.remove(cur)
			r.reg.mu.Unlock()
			return res, nil

		case StatusTimedOut:
			info := cur.info(r.now())
			r.abandon(ctx, cur)
			r.reg.remove(cur)
			r.reg.mu.Unlock()
			r.logger.Debug("Lookup gave up waiting", "item", info.String())
			if canceled {
				err := ctx.Err()
				if errors.Is(err, context.DeadlineExceeded) {
					return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
				}
				return nil, fmt.Errorf("gai: lookup abandoned: %w", err)
			}
			return nil, ErrTimeout

		case StatusFailed:
			err := cur.err
			info := cur.info(r.now())
			r.reg.remove(cur)
			r.reg.mu.Unlock()
			r.logger.Debug("Lookup failed", "item", info.String())
			return nil, err

		default:
			status := cur.status
			r.abandon(ctx, cur)
			r.reg.remove(cur)
			r.reg.mu.Unlock()
			r.logger.Error("In-flight item in unknown state", "worker", it.id, "status", status.String())
			return nil, fmt.Errorf("%w: %s", ErrInternalState, status)
		}
	}
}

// abandon records that the coordinator of it is leaving. If the worker is
// still running it becomes an orphan until it notices. Callers hold reg.mu.
func (r *Resolver) abandon(ctx context.Context, it *item) {
	if it.finished || it.abandoned {
		return
	}
	it.abandoned = true
	r.orphaned.Add(1)
	r.metrics.AddOrphaned(ctx, 1)
}

func (r *Resolver) finish(ctx context.Context, span trace.Span, id WorkerID, want params, start time.Time, res *Result, err error) {
	elapsed := r.now().Sub(start)
	outcome := OutcomeOf(err)
	code := Code(err)
	addrs := 0
	if res != nil {
		addrs = len(res.Addrs)
	}

	r.metrics.RecordLookup(ctx, string(outcome), elapsed)

	span.SetAttributes(
		attribute.String("gai.outcome", string(outcome)),
		attribute.Int("gai.code", code),
		attribute.Int("gai.addrs", addrs),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	switch outcome {
	case OutcomeSucceeded:
		r.logger.Debug("Lookup succeeded", "node", want.node, "addrs", addrs, "elapsed", elapsed)
	case OutcomeFailed, OutcomeTimedOut, OutcomeCanceled:
		r.logger.Info("Lookup did not succeed",
			"node", want.node,
			"outcome", outcome,
			"code", code,
			"elapsed", elapsed,
		)
	default:
		r.logger.Error("Lookup aborted", "node", want.node, "outcome", outcome, "error", err)
	}

	r.observe(ctx, Record{
		Time:     start,
		WorkerID: id,
		Node:     want.node,
		Service:  want.service,
		Family:   familyOf(want.hints),
		Outcome:  outcome,
		Code:     code,
		Addrs:    addrs,
		Duration: elapsed,
	})
}

func (r *Resolver) observe(ctx context.Context, rec Record) {
	if r.observer != nil {
		r.observer.ObserveLookup(ctx, rec)
	}
}

func familyOf(h *Hints) int {
	if h == nil {
		return AFUnspec
	}
	return h.Family
}

// Stats is a point-in-time view of a Resolver.
type Stats struct {
	InFlight int    // items currently registered
	Orphaned int64  // workers still running for callers that gave up
	Late     uint64 // results discarded because their caller had gone
}

// Stats returns current counters.
func (r *Resolver) Stats() Stats {
	r.reg.mu.Lock()
	n := r.reg.len()
	r.reg.mu.Unlock()
	return Stats{
		InFlight: n,
		Orphaned: r.orphaned.Load(),
		Late:     r.late.Load(),
	}
}

// InFlight returns a copy of the registry, ordered by worker.
func (r *Resolver) InFlight() []ItemInfo {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()
	return r.reg.snapshot(r.now())
}

// Close makes later lookups fail with ErrStartFailed. Running workers and
// waiting callers are not affected.
func (r *Resolver) Close() error {
	r.closed.Store(true)
	return nil
}
