package gai

import (
	"context"
	"time"
)

// work runs the primitive for it. The item is looked up again by identity
// before each access since its coordinator may have removed it. The lock is
// never held while the primitive runs, and caller memory is never touched:
// a successful result is handed over through the item, or released here if
// nobody is waiting for it any more.
func (r *Resolver) work(it *item) {
	r.reg.mu.Lock()
	if _, ok := r.reg.find(it.id); !ok {
		orphan := r.retire(it)
		r.reg.mu.Unlock()
		if orphan {
			r.logger.Debug("Worker started after its caller gave up", "worker", it.id)
		}
		return
	}
	p := it.params
	it.status = StatusRunning
	it.notify()
	r.reg.mu.Unlock()

	res, err := r.primitive.Lookup(p.node, p.service, p.hints)
	if err != nil {
		err = asResolverError(p.node, err)
		res.Release()
		res = nil
	} else if res == nil {
		res = NewResult(nil, nil)
	}

	r.reg.mu.Lock()
	if _, ok := r.reg.find(it.id); !ok {
		orphan := r.retire(it)
		r.reg.mu.Unlock()
		if orphan {
			r.discard(it.id, p, it.registered, res, err)
		} else {
			r.logger.Error("Worker item vanished without its caller giving up", "worker", it.id, "node", p.node)
			res.Release()
		}
		return
	}

	// The coordinator marks an item TimedOut and removes it under one hold
	// of reg.mu, so a found item is normally still Running here. The checks
	// below keep a TimedOut status from being overwritten regardless.
	it.finished = true
	var lost *ItemInfo
	switch {
	case err != nil:
		if it.status == StatusRunning {
			it.status = StatusFailed
			it.err = err
		}
	case it.status == StatusRunning:
		it.status = StatusSucceeded
		it.result = res
		res = nil
	default:
		info := it.info(r.now())
		lost = &info
	}
	it.notify()
	r.reg.mu.Unlock()

	if lost != nil {
		r.logger.Info("Lookup succeeded after its caller timed out", "item", lost.String())
		res.Release()
	}
}

// retire marks a removed item as finished by its worker and reports whether
// it had been counted as an orphan. Callers hold reg.mu.
func (r *Resolver) retire(it *item) bool {
	it.finished = true
	if !it.abandoned {
		return false
	}
	r.orphaned.Add(-1)
	r.metrics.AddOrphaned(context.Background(), -1)
	return true
}

// discard handles the outcome of a worker whose caller already returned.
func (r *Resolver) discard(id WorkerID, p params, registered time.Time, res *Result, err error) {
	ctx := context.Background()
	outcome := OutcomeOf(err)
	addrs := 0
	if res != nil {
		addrs = len(res.Addrs)
		res.Release()
	}

	r.late.Add(1)
	r.metrics.AddLateResult(ctx, string(outcome))

	elapsed := r.now().Sub(registered)
	r.logger.Debug("Discarded result of abandoned lookup",
		"worker", id,
		"node", p.node,
		"outcome", outcome,
		"elapsed", elapsed,
	)

	r.observe(ctx, Record{
		Time:     registered,
		WorkerID: id,
		Node:     p.node,
		Service:  p.service,
		Family:   familyOf(p.hints),
		Outcome:  outcome,
		Code:     Code(err),
		Addrs:    addrs,
		Duration: elapsed,
		Late:     true,
	})
}
