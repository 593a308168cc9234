package resolver

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"

	"gaiwait/pkg/gai"
)

const knownFlags = gai.AIPassive | gai.AICanonName | gai.AINumericHost | gai.AINumericServ

// nameLookup is the part of a primitive that turns a host name into
// addresses. It is called without a deadline.
type nameLookup interface {
	lookupName(ctx context.Context, host string, family int, canon bool) ([]netip.Addr, string, error)
	lookupPort(ctx context.Context, network, service string) (int, error)
}

// socket is one socket type a result is produced for, with its port.
type socket struct {
	sockType int
	protocol int
	port     uint16
}

// query is a validated getaddrinfo request.
type query struct {
	node    string
	flags   int
	family  int
	sockets []socket
}

// resolve runs a full getaddrinfo-style lookup against nl.
func resolve(nl nameLookup, node, service string, hints *gai.Hints) (*gai.Result, error) {
	ctx := context.Background()

	q, err := prepare(ctx, nl, node, service, hints)
	if err != nil {
		return nil, err
	}

	addrs, canon, err := q.addresses(ctx, nl)
	if err != nil {
		return nil, err
	}
	return q.build(addrs, canon)
}

func prepare(ctx context.Context, nl nameLookup, node, service string, hints *gai.Hints) (*query, error) {
	var h gai.Hints
	if hints != nil {
		h = *hints
	}

	if h.Flags&^knownFlags != 0 {
		return nil, gai.NewResolverError(gai.EAIBadFlags, node, nil)
	}
	if h.Flags&gai.AICanonName != 0 && node == "" {
		return nil, gai.NewResolverError(gai.EAIBadFlags, node, nil)
	}
	switch h.Family {
	case gai.AFUnspec, gai.AFInet, gai.AFInet6:
	default:
		return nil, gai.NewResolverError(gai.EAIFamily, node, nil)
	}
	if node == "" && service == "" {
		return nil, gai.NewResolverError(gai.EAINoName, node, nil)
	}

	var kinds []socket
	switch h.SockType {
	case 0:
		if h.Protocol != 0 && h.Protocol != gai.ProtoTCP && h.Protocol != gai.ProtoUDP {
			return nil, gai.NewResolverError(gai.EAISockType, node, nil)
		}
		if h.Protocol != gai.ProtoUDP {
			kinds = append(kinds, socket{sockType: gai.SockStream, protocol: gai.ProtoTCP})
		}
		if h.Protocol != gai.ProtoTCP {
			kinds = append(kinds, socket{sockType: gai.SockDgram, protocol: gai.ProtoUDP})
		}
	case gai.SockStream:
		if h.Protocol != 0 && h.Protocol != gai.ProtoTCP {
			return nil, gai.NewResolverError(gai.EAISockType, node, nil)
		}
		kinds = []socket{{sockType: gai.SockStream, protocol: gai.ProtoTCP}}
	case gai.SockDgram:
		if h.Protocol != 0 && h.Protocol != gai.ProtoUDP {
			return nil, gai.NewResolverError(gai.EAISockType, node, nil)
		}
		kinds = []socket{{sockType: gai.SockDgram, protocol: gai.ProtoUDP}}
	default:
		return nil, gai.NewResolverError(gai.EAISockType, node, nil)
	}

	q := &query{node: node, flags: h.Flags, family: h.Family}
	for _, k := range kinds {
		port, err := servicePort(ctx, nl, node, service, h.Flags, k.sockType)
		if err != nil {
			// An unknown name is only fatal if no socket type knows it.
			if len(kinds) > 1 && errorCode(err) == gai.EAIService {
				continue
			}
			return nil, err
		}
		k.port = port
		q.sockets = append(q.sockets, k)
	}
	if len(q.sockets) == 0 {
		return nil, gai.NewResolverError(gai.EAIService, node, nil)
	}
	return q, nil
}

func servicePort(ctx context.Context, nl nameLookup, node, service string, flags, sockType int) (uint16, error) {
	if service == "" {
		return 0, nil
	}
	if n, err := strconv.ParseUint(service, 10, 16); err == nil {
		return uint16(n), nil
	}
	if flags&gai.AINumericServ != 0 {
		return 0, gai.NewResolverError(gai.EAINoName, node, nil)
	}

	network := "tcp"
	if sockType == gai.SockDgram {
		network = "udp"
	}
	port, err := nl.lookupPort(ctx, network, service)
	if err != nil || port < 0 || port > 65535 {
		return 0, gai.NewResolverError(gai.EAIService, node, err)
	}
	return uint16(port), nil
}

// addresses returns the addresses for q.node, handling empty and numeric
// hosts locally and asking nl for anything else.
func (q *query) addresses(ctx context.Context, nl nameLookup) ([]netip.Addr, string, error) {
	if q.node == "" {
		if q.flags&gai.AIPassive != 0 {
			return []netip.Addr{netip.IPv6Unspecified(), netip.IPv4Unspecified()}, "", nil
		}
		return []netip.Addr{netip.IPv6Loopback(), netip.AddrFrom4([4]byte{127, 0, 0, 1})}, "", nil
	}

	if ip, err := netip.ParseAddr(q.node); err == nil {
		ip = ip.Unmap()
		if !q.accepts(ip) {
			return nil, "", gai.NewResolverError(gai.EAIAddrFamily, q.node, nil)
		}
		return []netip.Addr{ip}, q.node, nil
	}
	if q.flags&gai.AINumericHost != 0 {
		return nil, "", gai.NewResolverError(gai.EAINoName, q.node, nil)
	}

	addrs, canon, err := nl.lookupName(ctx, q.node, q.family, q.flags&gai.AICanonName != 0)
	if err != nil {
		return nil, "", err
	}
	return addrs, canon, nil
}

func (q *query) accepts(ip netip.Addr) bool {
	switch q.family {
	case gai.AFInet:
		return ip.Is4()
	case gai.AFInet6:
		return ip.Is6()
	default:
		return true
	}
}

// build expands addrs into one entry per address and socket type.
func (q *query) build(addrs []netip.Addr, canon string) (*gai.Result, error) {
	seen := make(map[netip.Addr]struct{}, len(addrs))
	out := make([]gai.AddrInfo, 0, len(addrs)*len(q.sockets))
	for _, ip := range addrs {
		ip = ip.Unmap()
		if !q.accepts(ip) {
			continue
		}
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = struct{}{}

		family := gai.AFInet
		if ip.Is6() {
			family = gai.AFInet6
		}
		for _, s := range q.sockets {
			out = append(out, gai.AddrInfo{
				Family:   family,
				SockType: s.sockType,
				Protocol: s.protocol,
				Addr:     netip.AddrPortFrom(ip, s.port),
			})
		}
	}
	if len(out) == 0 {
		return nil, gai.NewResolverError(gai.EAINoData, q.node, nil)
	}

	if q.flags&gai.AICanonName != 0 {
		if canon == "" {
			canon = q.node
		}
		out[0].CanonName = canon
	}
	return gai.NewResult(out, nil), nil
}

// errorCode returns the resolver code carried by err, or EAISystem.
func errorCode(err error) int {
	var rerr *gai.ResolverError
	if errors.As(err, &rerr) {
		return rerr.Code
	}
	return gai.EAISystem
}

// networkFor maps an address family to a net lookup network.
func networkFor(family int) string {
	switch family {
	case gai.AFInet:
		return "ip4"
	case gai.AFInet6:
		return "ip6"
	default:
		return "ip"
	}
}

// dnsErrorCode classifies a net lookup failure.
func dnsErrorCode(err error) int {
	var dnsErr *net.DNSError
	if !errors.As(err, &dnsErr) {
		return gai.EAISystem
	}
	switch {
	case dnsErr.IsNotFound:
		return gai.EAINoName
	case dnsErr.IsTimeout, dnsErr.IsTemporary:
		return gai.EAIAgain
	default:
		return gai.EAIFail
	}
}
