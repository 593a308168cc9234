package resolver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"time"

	"gaiwait/pkg/gai"
)

// Dialer connects to host:port addresses, resolving host names through a
// gai.Resolver so that a stuck lookup cannot hold a dial past its context.
type Dialer struct {
	Resolver *gai.Resolver
	Dialer   net.Dialer
}

// NewDialer creates a Dialer using r, or Default when r is nil.
func NewDialer(r *gai.Resolver) *Dialer {
	if r == nil {
		r = Default()
	}
	return &Dialer{
		Resolver: r,
		Dialer: net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		},
	}
}

// DialContext dials addr, trying each resolved address in order. It is
// compatible with http.Transport.DialContext.
func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", addr, err)
	}

	if _, err := netip.ParseAddr(host); err == nil {
		return d.Dialer.DialContext(ctx, network, addr)
	}

	hints := &gai.Hints{SockType: gai.SockStream}
	switch network {
	case "tcp4", "udp4":
		hints.Family = gai.AFInet
	case "tcp6", "udp6":
		hints.Family = gai.AFInet6
	}
	if network == "udp" || network == "udp4" || network == "udp6" {
		hints.SockType = gai.SockDgram
	}

	res, err := d.Resolver.Lookup(ctx, gai.Request{Node: host, Hints: hints})
	if err != nil {
		return nil, err
	}
	ips := res.IPs()
	res.Release()

	if len(ips) == 0 {
		return nil, fmt.Errorf("no IP addresses found for %s", host)
	}

	var lastErr error
	for _, ip := range ips {
		conn, err := d.Dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// NewHTTPClient creates an HTTP client whose connections are resolved
// through d.
func (d *Dialer) NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		DialContext:           d.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
