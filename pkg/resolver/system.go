package resolver

import (
	"context"
	"net"
	"net/netip"
	"strings"

	"gaiwait/pkg/gai"
	"gaiwait/pkg/logging"
)

// System resolves through the Go net.Resolver, which reads the host's
// resolver configuration. Lookups run with a background context: the only
// bound on them is the one gai.Resolver places around the call.
type System struct {
	resolver *net.Resolver
	logger   *logging.Logger
}

// NewSystem creates the host resolver primitive. preferGo selects Go's
// built-in resolver over the platform one where both exist.
func NewSystem(preferGo bool, logger *logging.Logger) *System {
	logger = logging.OrGlobal(logger).WithComponent("resolver")
	logger.Debug("System resolver initialized", "prefer_go", preferGo)
	return &System{
		resolver: &net.Resolver{PreferGo: preferGo},
		logger:   logger,
	}
}

// Lookup implements gai.Primitive.
func (s *System) Lookup(node, service string, hints *gai.Hints) (*gai.Result, error) {
	return resolve(s, node, service, hints)
}

func (s *System) lookupName(ctx context.Context, host string, family int, canon bool) ([]netip.Addr, string, error) {
	addrs, err := s.resolver.LookupNetIP(ctx, networkFor(family), host)
	if err != nil {
		code := dnsErrorCode(err)
		s.logger.Debug("Host lookup failed", "host", host, "code", code, "error", err)
		return nil, "", gai.NewResolverError(code, host, err)
	}

	var cname string
	if canon {
		if c, err := s.resolver.LookupCNAME(ctx, host); err == nil {
			cname = strings.TrimSuffix(c, ".")
		}
	}

	s.logger.Debug("Host lookup succeeded", "host", host, "addrs", len(addrs))
	return addrs, cname, nil
}

func (s *System) lookupPort(ctx context.Context, network, service string) (int, error) {
	return s.resolver.LookupPort(ctx, network, service)
}
