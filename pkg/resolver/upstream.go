package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"gaiwait/pkg/gai"
	"gaiwait/pkg/logging"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

// DefaultExchangeTimeout bounds a single DNS exchange with one upstream.
const DefaultExchangeTimeout = 30 * time.Second

// Upstream resolves names by querying DNS servers directly. Each exchange
// carries the client's own long timeout and nothing else; the caller-facing
// bound comes from gai.Resolver.
type Upstream struct {
	upstreams []string
	timeout   time.Duration
	logger    *logging.Logger

	clientPool sync.Pool
}

// NewUpstream creates a primitive querying upstreams in order. Addresses
// without a port get :53.
func NewUpstream(upstreams []string, exchangeTimeout time.Duration, logger *logging.Logger) *Upstream {
	if exchangeTimeout <= 0 {
		exchangeTimeout = DefaultExchangeTimeout
	}

	normalized := make([]string, len(upstreams))
	for i, upstream := range upstreams {
		if _, _, err := net.SplitHostPort(upstream); err != nil {
			normalized[i] = net.JoinHostPort(upstream, "53")
		} else {
			normalized[i] = upstream
		}
	}

	u := &Upstream{
		upstreams: normalized,
		timeout:   exchangeTimeout,
		logger:    logging.OrGlobal(logger).WithComponent("resolver"),
	}
	u.clientPool.New = func() any {
		return &dns.Client{
			Net:     "udp",
			Timeout: u.timeout,
		}
	}

	u.logger.Info("Upstream resolver initialized",
		"upstreams", normalized,
		"exchange_timeout", exchangeTimeout,
	)
	return u
}

// Upstreams returns the servers queried, in order.
func (u *Upstream) Upstreams() []string {
	return u.upstreams
}

// Lookup implements gai.Primitive.
func (u *Upstream) Lookup(node, service string, hints *gai.Hints) (*gai.Result, error) {
	return resolve(u, node, service, hints)
}

func (u *Upstream) lookupPort(ctx context.Context, network, service string) (int, error) {
	return net.DefaultResolver.LookupPort(ctx, network, service)
}

// answer is the outcome of one question against the upstreams.
type answer struct {
	addrs []netip.Addr
	canon string
	code  int // resolver code, 0 when the name exists
	err   error
}

func (u *Upstream) lookupName(ctx context.Context, host string, family int, _ bool) ([]netip.Addr, string, error) {
	if len(u.upstreams) == 0 {
		return nil, "", gai.NewResolverError(gai.EAIFail, host, errors.New("no upstream DNS servers configured"))
	}

	ascii, err := idna.Lookup.ToASCII(strings.TrimSuffix(host, "."))
	if err != nil || ascii == "" {
		return nil, "", gai.NewResolverError(gai.EAINoName, host, err)
	}
	name := dns.Fqdn(ascii)

	var qtypes []uint16
	switch family {
	case gai.AFInet:
		qtypes = []uint16{dns.TypeA}
	case gai.AFInet6:
		qtypes = []uint16{dns.TypeAAAA}
	default:
		qtypes = []uint16{dns.TypeAAAA, dns.TypeA}
	}

	var (
		addrs []netip.Addr
		canon string
		first *answer
	)
	for _, qtype := range qtypes {
		a := u.ask(ctx, name, qtype)
		if a.code == gai.EAINoName {
			return nil, "", gai.NewResolverError(gai.EAINoName, host, a.err)
		}
		addrs = append(addrs, a.addrs...)
		if canon == "" {
			canon = a.canon
		}
		if a.code != 0 && (first == nil || first.code == gai.EAINoData) {
			first = &a
		}
	}

	if len(addrs) == 0 {
		if first != nil {
			return nil, "", gai.NewResolverError(first.code, host, first.err)
		}
		return nil, "", gai.NewResolverError(gai.EAINoData, host, nil)
	}
	return addrs, canon, nil
}

// ask sends one question to each upstream in turn until one gives a
// definitive answer.
func (u *Upstream) ask(ctx context.Context, name string, qtype uint16) answer {
	req := new(dns.Msg)
	req.SetQuestion(name, qtype)
	req.RecursionDesired = true

	var lastErr error
	for i, upstream := range u.upstreams {
		u.logger.Debug("Querying upstream",
			"domain", name,
			"type", dns.TypeToString[qtype],
			"upstream", upstream,
			"attempt", i+1,
		)

		resp, rtt, err := u.exchange(ctx, req, upstream)
		if err != nil {
			u.logger.Warn("Upstream query failed",
				"upstream", upstream,
				"error", err,
				"attempt", i+1,
			)
			lastErr = err
			continue
		}

		switch resp.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			return answer{code: gai.EAINoName, err: fmt.Errorf("upstream %s returned NXDOMAIN", upstream)}
		case dns.RcodeServerFailure:
			u.logger.Warn("Upstream returned SERVFAIL", "upstream", upstream, "domain", name)
			lastErr = fmt.Errorf("upstream %s returned SERVFAIL", upstream)
			continue
		default:
			lastErr = fmt.Errorf("upstream %s returned %s", upstream, dns.RcodeToString[resp.Rcode])
			continue
		}

		a := answer{}
		for _, rr := range resp.Answer {
			switch v := rr.(type) {
			case *dns.A:
				if ip, ok := netip.AddrFromSlice(v.A.To4()); ok {
					a.addrs = append(a.addrs, ip)
				}
			case *dns.AAAA:
				if ip, ok := netip.AddrFromSlice(v.AAAA.To16()); ok {
					a.addrs = append(a.addrs, ip)
				}
			case *dns.CNAME:
				a.canon = strings.TrimSuffix(v.Target, ".")
			}
		}
		if len(a.addrs) == 0 {
			a.code = gai.EAINoData
		}

		u.logger.Debug("Upstream query succeeded",
			"upstream", upstream,
			"domain", name,
			"rtt", rtt,
			"answers", len(resp.Answer),
		)
		return a
	}

	if lastErr == nil {
		lastErr = errors.New("all upstream servers failed")
	}
	return answer{code: gai.EAIAgain, err: fmt.Errorf("all upstream servers failed: %w", lastErr)}
}

// exchange queries upstream over UDP and retries over TCP when the answer
// was truncated.
func (u *Upstream) exchange(ctx context.Context, req *dns.Msg, upstream string) (*dns.Msg, time.Duration, error) {
	client := u.clientPool.Get().(*dns.Client)
	defer u.clientPool.Put(client)

	resp, rtt, err := client.ExchangeContext(ctx, req, upstream)
	if err != nil {
		return nil, rtt, err
	}
	if resp == nil {
		return nil, rtt, fmt.Errorf("received nil response from %s", upstream)
	}
	if !resp.Truncated {
		return resp, rtt, nil
	}

	u.logger.Debug("Truncated response, retrying over TCP", "upstream", upstream)
	tcp := &dns.Client{Net: "tcp", Timeout: u.timeout}
	resp, rtt, err = tcp.ExchangeContext(ctx, req, upstream)
	if err != nil {
		return nil, rtt, err
	}
	if resp == nil {
		return nil, rtt, fmt.Errorf("received nil response from %s", upstream)
	}
	return resp, rtt, nil
}
