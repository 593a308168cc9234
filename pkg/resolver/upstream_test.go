package resolver

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"gaiwait/pkg/gai"
	"gaiwait/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUpstreamNormalizesAddresses(t *testing.T) {
	u := NewUpstream([]string{"192.0.2.53", "192.0.2.54:5353", "2001:db8::53"}, 0, logging.Discard())
	assert.Equal(t, []string{"192.0.2.53:53", "192.0.2.54:5353", "[2001:db8::53]:53"}, u.Upstreams())
	assert.Equal(t, DefaultExchangeTimeout, u.timeout)
}

func TestUpstreamLookup(t *testing.T) {
	addr := startDNSServer(t, newTestZone())
	u := NewUpstream([]string{addr}, time.Second, logging.Discard())

	res, err := u.Lookup("example.test", "443", &gai.Hints{SockType: gai.SockStream})
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{
		netip.MustParseAddr("2001:db8::10"),
		netip.MustParseAddr("192.0.2.10"),
	}, res.IPs())
	for _, ai := range res.Addrs {
		assert.Equal(t, uint16(443), ai.Addr.Port())
	}
}

func TestUpstreamLookupFamily(t *testing.T) {
	addr := startDNSServer(t, newTestZone())
	u := NewUpstream([]string{addr}, time.Second, logging.Discard())

	res, err := u.Lookup("example.test", "", &gai.Hints{Family: gai.AFInet, SockType: gai.SockStream})
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("192.0.2.10")}, res.IPs())

	_, err = u.Lookup("v4only.test", "", &gai.Hints{Family: gai.AFInet6})
	assert.Equal(t, gai.EAINoData, resolverCode(t, err))

	res, err = u.Lookup("v4only.test", "", &gai.Hints{SockType: gai.SockDgram})
	require.NoError(t, err, "missing AAAA must not hide the A answer")
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("192.0.2.11")}, res.IPs())
}

func TestUpstreamLookupErrors(t *testing.T) {
	addr := startDNSServer(t, newTestZone())
	u := NewUpstream([]string{addr}, time.Second, logging.Discard())

	_, err := u.Lookup("missing.test", "", nil)
	assert.Equal(t, gai.EAINoName, resolverCode(t, err))

	_, err = u.Lookup("broken.test", "", nil)
	assert.Equal(t, gai.EAIAgain, resolverCode(t, err))

	_, err = u.Lookup("bad!name.test", "", nil)
	assert.Equal(t, gai.EAINoName, resolverCode(t, err))
}

func TestUpstreamCanonName(t *testing.T) {
	addr := startDNSServer(t, newTestZone())
	u := NewUpstream([]string{addr}, time.Second, logging.Discard())

	res, err := u.Lookup("alias.test", "", &gai.Hints{Flags: gai.AICanonName, Family: gai.AFInet, SockType: gai.SockStream})
	require.NoError(t, err)
	require.Len(t, res.Addrs, 1)
	assert.Equal(t, "target.test", res.Addrs[0].CanonName)
	assert.Equal(t, netip.MustParseAddr("192.0.2.20"), res.Addrs[0].Addr.Addr())
}

func TestUpstreamInternationalName(t *testing.T) {
	addr := startDNSServer(t, newTestZone())
	u := NewUpstream([]string{addr}, time.Second, logging.Discard())

	res, err := u.Lookup("bücher.test", "", &gai.Hints{Family: gai.AFInet, SockType: gai.SockStream})
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("192.0.2.30")}, res.IPs())
}

func TestUpstreamTriesServersInOrder(t *testing.T) {
	bad := newTestZone()
	bad.servfail["example.test."] = true
	good := newTestZone()

	u := NewUpstream([]string{startDNSServer(t, bad), startDNSServer(t, good)}, time.Second, logging.Discard())

	res, err := u.Lookup("example.test", "", &gai.Hints{Family: gai.AFInet, SockType: gai.SockStream})
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("192.0.2.10")}, res.IPs())
	assert.Equal(t, int32(1), bad.queries.Load())
	assert.Equal(t, int32(1), good.queries.Load())
}

func TestUpstreamUnreachable(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := pc.LocalAddr().String()
	require.NoError(t, pc.Close())

	u := NewUpstream([]string{dead}, 200*time.Millisecond, logging.Discard())
	_, err = u.Lookup("example.test", "", &gai.Hints{Family: gai.AFInet})
	assert.Equal(t, gai.EAIAgain, resolverCode(t, err))
}

func TestUpstreamUnderBoundedWait(t *testing.T) {
	zone := newTestZone()
	zone.delay = 300 * time.Millisecond
	addr := startDNSServer(t, zone)

	r := gai.New(NewUpstream([]string{addr}, 5*time.Second, logging.Discard()), gai.Options{Logger: logging.Discard()})

	start := time.Now()
	_, err := r.Lookup(context.Background(), gai.Request{
		Node:    "example.test",
		Hints:   &gai.Hints{Family: gai.AFInet},
		Timeout: 50 * time.Millisecond,
	})
	assert.True(t, gai.IsTimeout(err))
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	require.Eventually(t, func() bool { return r.Stats().Late == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), r.Stats().Orphaned)
}
