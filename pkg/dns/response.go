package dns

import (
	"net/netip"

	"github.com/miekg/dns"
)

// EDNS0 buffer sizes advertised in replies.
const (
	DefaultEDNSBufferSize = 4096
	MinEDNSBufferSize     = 512
)

func addARecord(msg *dns.Msg, domain string, ip netip.Addr, ttl uint32) {
	if !ip.Is4() {
		return
	}
	msg.Answer = append(msg.Answer, &dns.A{
		Hdr: dns.RR_Header{
			Name:   domain,
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		},
		A: ip.AsSlice(),
	})
}

func addAAAARecord(msg *dns.Msg, domain string, ip netip.Addr, ttl uint32) {
	if !ip.Is6() || ip.Is4In6() {
		return
	}
	msg.Answer = append(msg.Answer, &dns.AAAA{
		Hdr: dns.RR_Header{
			Name:   domain,
			Rrtype: dns.TypeAAAA,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		},
		AAAA: ip.AsSlice(),
	})
}

// addAnswers appends one record per address matching qtype.
func addAnswers(msg *dns.Msg, domain string, qtype uint16, ips []netip.Addr, ttl uint32) {
	for _, ip := range ips {
		switch qtype {
		case dns.TypeA:
			addARecord(msg, domain, ip, ttl)
		case dns.TypeAAAA:
			addAAAARecord(msg, domain, ip, ttl)
		}
	}
}

// handleEDNS0 mirrors an OPT record from req into resp, clamping the
// advertised UDP size.
func handleEDNS0(req, resp *dns.Msg) {
	opt := req.IsEdns0()
	if opt == nil || resp.IsEdns0() != nil {
		return
	}

	size := opt.UDPSize()
	switch {
	case size == 0 || size > DefaultEDNSBufferSize:
		size = DefaultEDNSBufferSize
	case size < MinEDNSBufferSize:
		size = MinEDNSBufferSize
	}

	out := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
	out.SetUDPSize(size)
	if opt.Do() {
		out.SetDo()
	}
	resp.Extra = append(resp.Extra, out)
}
