// Package dns serves A and AAAA queries from a bounded-wait resolver.
package dns

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"gaiwait/pkg/gai"
	"gaiwait/pkg/logging"

	"github.com/miekg/dns"
)

// DefaultAnswerTTL is used when a Handler has no TTL set.
const DefaultAnswerTTL = 60

var msgPool = sync.Pool{
	New: func() any {
		return new(dns.Msg)
	},
}

// Handler answers address queries through a gai.Resolver. Every lookup is
// bounded by the resolver's default timeout.
type Handler struct {
	Resolver *gai.Resolver
	TTL      uint32
	Logger   *logging.Logger
}

// NewHandler creates a handler answering from r.
func NewHandler(r *gai.Resolver, ttl uint32, logger *logging.Logger) *Handler {
	if ttl == 0 {
		ttl = DefaultAnswerTTL
	}
	return &Handler{
		Resolver: r,
		TTL:      ttl,
		Logger:   logging.OrGlobal(logger).WithComponent("dns"),
	}
}

// writeMsg ignores write errors; the client has usually gone.
func (h *Handler) writeMsg(w dns.ResponseWriter, msg *dns.Msg) {
	_ = w.WriteMsg(msg)
}

// ServeDNS answers the first question of r.
func (h *Handler) ServeDNS(ctx context.Context, w dns.ResponseWriter, r *dns.Msg) {
	msg := msgPool.Get().(*dns.Msg)
	defer msgPool.Put(msg)

	*msg = dns.Msg{}
	msg.SetReply(r)
	msg.RecursionAvailable = true
	handleEDNS0(r, msg)

	if len(r.Question) == 0 {
		msg.SetRcode(r, dns.RcodeFormatError)
		h.writeMsg(w, msg)
		return
	}

	question := r.Question[0]
	var family int
	switch {
	case question.Qclass != dns.ClassINET:
		family = -1
	case question.Qtype == dns.TypeA:
		family = gai.AFInet
	case question.Qtype == dns.TypeAAAA:
		family = gai.AFInet6
	default:
		family = -1
	}
	if family < 0 || h.Resolver == nil {
		msg.SetRcode(r, dns.RcodeNotImplemented)
		h.writeMsg(w, msg)
		return
	}

	node := strings.TrimSuffix(question.Name, ".")
	res, err := h.Resolver.Lookup(ctx, gai.Request{
		Node:  node,
		Hints: &gai.Hints{Family: family, SockType: gai.SockStream},
	})
	if err != nil {
		msg.SetRcode(r, h.rcodeFor(node, err))
		h.writeMsg(w, msg)
		return
	}
	defer res.Release()

	ttl := h.TTL
	if ttl == 0 {
		ttl = DefaultAnswerTTL
	}
	addAnswers(msg, question.Name, question.Qtype, res.IPs(), ttl)
	h.writeMsg(w, msg)
}

// rcodeFor maps a failed lookup to a response code.
func (h *Handler) rcodeFor(node string, err error) int {
	switch code := gai.Code(err); code {
	case gai.EAINoName:
		return dns.RcodeNameError
	case gai.EAINoData, gai.EAIAddrFamily:
		return dns.RcodeSuccess
	default:
		logging.OrGlobal(h.Logger).Warn("Lookup failed, answering SERVFAIL",
			"domain", node,
			"code", code,
			"error", err,
		)
		return dns.RcodeServerFailure
	}
}

// dnsTypeLabel returns the name of qtype, falling back to TYPE#### per RFC 3597.
func dnsTypeLabel(qtype uint16) string {
	if label := dns.TypeToString[qtype]; label != "" {
		return label
	}
	return "TYPE" + strconv.FormatUint(uint64(qtype), 10)
}

// rcodeLabel returns the name of rcode.
func rcodeLabel(rcode int) string {
	if label := dns.RcodeToString[rcode]; label != "" {
		return label
	}
	return "RCODE" + strconv.Itoa(rcode)
}
