package gai

import (
	"net/netip"
	"sync/atomic"
)

// Address families, socket types and flags understood by the primitives.
// Values follow the Linux getaddrinfo ABI.
const (
	AFUnspec = 0
	AFInet   = 2
	AFInet6  = 10

	SockStream = 1
	SockDgram  = 2

	ProtoTCP = 6
	ProtoUDP = 17

	AIPassive     = 0x0001
	AICanonName   = 0x0002
	AINumericHost = 0x0004
	AINumericServ = 0x0400
)

// Hints narrows a lookup, like struct addrinfo hints. A nil *Hints means
// AFUnspec, any socket type, no flags.
type Hints struct {
	Flags    int
	Family   int
	SockType int
	Protocol int
}

// AddrInfo is one resolved socket address.
type AddrInfo struct {
	Family    int
	SockType  int
	Protocol  int
	Addr      netip.AddrPort
	CanonName string
}

// Result is the owned output of a successful lookup. The holder must call
// Release when done with it, as with freeaddrinfo.
type Result struct {
	Addrs []AddrInfo

	release  func()
	released atomic.Bool
}

// NewResult wraps addrs. release, if not nil, runs once on the first Release.
func NewResult(addrs []AddrInfo, release func()) *Result {
	return &Result{Addrs: addrs, release: release}
}

// Release frees the result. Safe on nil and safe to call more than once.
func (r *Result) Release() {
	if r == nil {
		return
	}
	if r.released.CompareAndSwap(false, true) && r.release != nil {
		r.release()
	}
}

// Released reports whether Release was called.
func (r *Result) Released() bool {
	return r != nil && r.released.Load()
}

// IPs returns the distinct addresses of the result in order of appearance.
func (r *Result) IPs() []netip.Addr {
	if r == nil {
		return nil
	}
	seen := make(map[netip.Addr]struct{}, len(r.Addrs))
	ips := make([]netip.Addr, 0, len(r.Addrs))
	for _, ai := range r.Addrs {
		ip := ai.Addr.Addr()
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = struct{}{}
		ips = append(ips, ip)
	}
	return ips
}

// Primitive is a blocking resolution call with no way to cancel it. It may
// take arbitrarily long and is always run on its own goroutine.
//
// Failures should be reported as *ResolverError; any other error is wrapped
// into one carrying EAISystem.
type Primitive interface {
	Lookup(node, service string, hints *Hints) (*Result, error)
}

// PrimitiveFunc adapts a function to the Primitive interface.
type PrimitiveFunc func(node, service string, hints *Hints) (*Result, error)

// Lookup calls f.
func (f PrimitiveFunc) Lookup(node, service string, hints *Hints) (*Result, error) {
	return f(node, service, hints)
}
