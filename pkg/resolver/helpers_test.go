package resolver

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// testZone answers a fixed set of names and NXDOMAIN for everything else.
type testZone struct {
	records  map[string][]dns.RR
	servfail map[string]bool
	delay    time.Duration
	queries  atomic.Int32
}

func newTestZone() *testZone {
	return &testZone{
		records: map[string][]dns.RR{
			"example.test.": {
				mustRR("example.test. 60 IN A 192.0.2.10"),
				mustRR("example.test. 60 IN AAAA 2001:db8::10"),
			},
			"v4only.test.": {
				mustRR("v4only.test. 60 IN A 192.0.2.11"),
			},
			"alias.test.": {
				mustRR("alias.test. 60 IN CNAME target.test."),
				mustRR("target.test. 60 IN A 192.0.2.20"),
			},
			"xn--bcher-kva.test.": {
				mustRR("xn--bcher-kva.test. 60 IN A 192.0.2.30"),
			},
		},
		servfail: map[string]bool{"broken.test.": true},
	}
}

func (z *testZone) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	z.queries.Add(1)
	if z.delay > 0 {
		time.Sleep(z.delay)
	}

	resp := new(dns.Msg)
	resp.SetReply(req)
	q := req.Question[0]

	if z.servfail[q.Name] {
		resp.Rcode = dns.RcodeServerFailure
		_ = w.WriteMsg(resp)
		return
	}

	rrs, ok := z.records[q.Name]
	if !ok {
		resp.Rcode = dns.RcodeNameError
		_ = w.WriteMsg(resp)
		return
	}
	for _, rr := range rrs {
		if rr.Header().Rrtype == q.Qtype || rr.Header().Rrtype == dns.TypeCNAME {
			resp.Answer = append(resp.Answer, rr)
		}
	}
	_ = w.WriteMsg(resp)
}

// startDNSServer serves h on a loopback UDP port until the test ends.
func startDNSServer(t *testing.T, h dns.Handler) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		Handler:           h,
		NotifyStartedFunc: func() { close(started) },
	}
	go func() { _ = srv.ActivateAndServe() }()
	<-started

	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func mustRR(s string) dns.RR {
	rr, err := dns.NewRR(s)
	if err != nil {
		panic(err)
	}
	return rr
}
