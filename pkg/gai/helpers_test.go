package gai

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gaiwait/pkg/logging"
)

// gatedPrimitive blocks every call until gate is closed (or forever when
// gate is nil and delay is zero), then answers with addrFor(node).
type gatedPrimitive struct {
	gate     chan struct{}
	delay    time.Duration
	fail     map[string]error
	calls    atomic.Int32
	released atomic.Int32
	started  chan string
}

func newGatedPrimitive() *gatedPrimitive {
	return &gatedPrimitive{
		gate:    make(chan struct{}),
		fail:    map[string]error{},
		started: make(chan string, 64),
	}
}

func (p *gatedPrimitive) open() {
	select {
	case <-p.gate:
	default:
		close(p.gate)
	}
}

func (p *gatedPrimitive) Lookup(node, service string, hints *Hints) (*Result, error) {
	p.calls.Add(1)
	select {
	case p.started <- node:
	default:
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	} else if p.gate != nil {
		<-p.gate
	}
	if err, ok := p.fail[node]; ok {
		return nil, err
	}
	return NewResult([]AddrInfo{{
		Family:   AFInet,
		SockType: SockStream,
		Protocol: ProtoTCP,
		Addr:     netip.AddrPortFrom(addrFor(node), 0),
	}}, func() { p.released.Add(1) }), nil
}

// addrFor derives a stable address from a name so results can be matched
// to the request that produced them.
func addrFor(node string) netip.Addr {
	var sum byte
	for i := 0; i < len(node); i++ {
		sum = sum*31 + node[i]
	}
	return netip.AddrFrom4([4]byte{10, byte(len(node)), sum, 1})
}

type countingMetrics struct {
	mu       sync.Mutex
	lookups  map[string]int
	inFlight int64
	orphaned int64
	late     map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{lookups: map[string]int{}, late: map[string]int{}}
}

func (m *countingMetrics) RecordLookup(_ context.Context, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups[outcome]++
}

func (m *countingMetrics) AddInFlight(_ context.Context, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight += delta
}

func (m *countingMetrics) AddOrphaned(_ context.Context, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orphaned += delta
}

func (m *countingMetrics) AddLateResult(_ context.Context, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.late[outcome]++
}

func (m *countingMetrics) snapshot() (map[string]int, int64, int64, map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lookups := make(map[string]int, len(m.lookups))
	for k, v := range m.lookups {
		lookups[k] = v
	}
	late := make(map[string]int, len(m.late))
	for k, v := range m.late {
		late[k] = v
	}
	return lookups, m.inFlight, m.orphaned, late
}

type recordingObserver struct {
	mu      sync.Mutex
	records []Record
}

func (o *recordingObserver) ObserveLookup(_ context.Context, rec Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, rec)
}

func (o *recordingObserver) all() []Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Record(nil), o.records...)
}

func newTestResolver(t *testing.T, p Primitive, opts Options) *Resolver {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return New(p, opts)
}

// waitForItem blocks until the registry holds an item for node.
func waitForItem(t *testing.T, r *Resolver, node string) *item {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.reg.mu.Lock()
		for _, it := range r.reg.items {
			if it.node == node {
				r.reg.mu.Unlock()
				return it
			}
		}
		r.reg.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no in-flight item for %s", node)
	return nil
}

func nodeName(i int) string {
	return fmt.Sprintf("host-%03d.example", i)
}
