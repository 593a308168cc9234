package gai

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// WorkerID identifies the worker serving one lookup.
type WorkerID uint64

// params are the caller-supplied inputs of a lookup. hints and slot are
// borrowed; they are compared by identity.
type params struct {
	node    string
	service string
	hints   *Hints
	slot    **Result
}

// item is one in-flight lookup. All fields except id, changed and
// registered are guarded by registry.mu.
type item struct {
	params

	id         WorkerID
	status     Status
	err        error
	result     *Result
	changed    chan struct{}
	registered time.Time

	finished  bool // worker is done with the item
	abandoned bool // coordinator left before the worker finished
}

func newItem(id WorkerID, p params, now time.Time) *item {
	return &item{
		params:     p,
		id:         id,
		status:     StatusNotStarted,
		changed:    make(chan struct{}, 1),
		registered: now,
	}
}

// notify wakes the coordinator waiting on this item. A pending wake is
// enough: the coordinator always re-reads the status.
func (it *item) notify() {
	select {
	case it.changed <- struct{}{}:
	default:
	}
}

func (it *item) info(now time.Time) ItemInfo {
	info := ItemInfo{
		ID:      it.id,
		Node:    it.node,
		Service: it.service,
		Status:  it.status,
		Age:     now.Sub(it.registered),
	}
	if it.hints != nil {
		info.Hints = *it.hints
	}
	if it.status == StatusFailed {
		info.Code = Code(it.err)
	}
	return info
}

// ItemInfo is a copy of an in-flight item for diagnostics.
type ItemInfo struct {
	ID      WorkerID
	Node    string
	Service string
	Hints   Hints
	Status  Status
	Code    int
	Age     time.Duration
}

func (i ItemInfo) String() string {
	node, service := i.Node, i.Service
	if node == "" {
		node = "NULL"
	}
	if service == "" {
		service = "NULL"
	}
	return fmt.Sprintf("node:%s, service:%s, family:%d, socktype:%d, worker:%d, code:%d, status:%s, age:%s",
		node, service, i.Hints.Family, i.Hints.SockType, i.ID, i.Code, i.Status, i.Age)
}

// registry is the table of in-flight items. Every method expects mu to be held.
type registry struct {
	mu    sync.Mutex
	items map[WorkerID]*item
}

func (r *registry) register(it *item) error {
	if r.items == nil {
		r.items = make(map[WorkerID]*item)
	}
	if _, dup := r.items[it.id]; dup {
		return fmt.Errorf("worker %d already registered", it.id)
	}
	r.items[it.id] = it
	return nil
}

func (r *registry) find(id WorkerID) (*item, bool) {
	it, ok := r.items[id]
	return it, ok
}

// remove erases it and reports whether it was still registered.
func (r *registry) remove(it *item) bool {
	cur, ok := r.items[it.id]
	if !ok || cur != it {
		return false
	}
	delete(r.items, it.id)
	return true
}

func (r *registry) len() int {
	return len(r.items)
}

func (r *registry) snapshot(now time.Time) []ItemInfo {
	infos := make([]ItemInfo, 0, len(r.items))
	for _, it := range r.items {
		infos = append(infos, it.info(now))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
