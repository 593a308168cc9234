package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"gaiwait/pkg/config"
	"gaiwait/pkg/logging"

	"github.com/miekg/dns"
)

// QueryMetrics records answered queries. *telemetry.Metrics implements it.
type QueryMetrics interface {
	RecordDNSQuery(ctx context.Context, qtype, rcode string, d time.Duration)
}

// Server is the stub DNS server
type Server struct {
	cfg       *config.ServerConfig
	handler   *Handler
	logger    *logging.Logger
	metrics   QueryMetrics
	udpServer *dns.Server
	tcpServer *dns.Server
	udpAddr   net.Addr
	tcpAddr   net.Addr
	running   bool
	ready     chan struct{}
	readyOnce sync.Once
	mu        sync.RWMutex
}

// NewServer creates a new DNS server. metrics may be nil.
func NewServer(cfg *config.ServerConfig, handler *Handler, logger *logging.Logger, metrics QueryMetrics) *Server {
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logging.OrGlobal(logger).WithComponent("dns"),
		metrics: metrics,
		ready:   make(chan struct{}),
	}
}

// Start binds the configured listeners and serves until ctx is done or a
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	if !s.cfg.UDPEnabled && !s.cfg.TCPEnabled {
		s.mu.Unlock()
		return errors.New("no listener enabled")
	}

	wrapped := &wrappedHandler{
		handler: s.handler,
		logger:  s.logger,
		metrics: s.metrics,
	}
	h := dns.HandlerFunc(wrapped.serveDNS)

	if s.cfg.UDPEnabled {
		pc, err := net.ListenPacket("udp", s.cfg.ListenAddress)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("UDP listen: %w", err)
		}
		s.udpServer = &dns.Server{PacketConn: pc, Net: "udp", Handler: h}
		s.udpAddr = pc.LocalAddr()
	}
	if s.cfg.TCPEnabled {
		addr := s.cfg.ListenAddress
		if s.udpAddr != nil {
			// Share the port picked for UDP when listening on :0.
			addr = s.udpAddr.String()
		}
		l, err := net.Listen("tcp", addr)
		if err != nil {
			if s.udpServer != nil {
				_ = s.udpServer.PacketConn.Close()
				s.udpServer = nil
			}
			s.mu.Unlock()
			return fmt.Errorf("TCP listen: %w", err)
		}
		s.tcpServer = &dns.Server{Listener: l, Net: "tcp", Handler: h}
		s.tcpAddr = l.Addr()
	}
	s.running = true
	udpSrv, tcpSrv := s.udpServer, s.tcpServer

	var started sync.WaitGroup
	for _, srv := range []*dns.Server{udpSrv, tcpSrv} {
		if srv != nil {
			started.Add(1)
			srv.NotifyStartedFunc = started.Done
		}
	}
	s.mu.Unlock()

	errChan := make(chan error, 2)
	if udpSrv != nil {
		go func() {
			s.logger.Info("Starting UDP DNS server", "address", s.udpAddr.String())
			if err := udpSrv.ActivateAndServe(); err != nil {
				errChan <- fmt.Errorf("UDP server failed: %w", err)
			}
		}()
	}
	if tcpSrv != nil {
		go func() {
			s.logger.Info("Starting TCP DNS server", "address", s.tcpAddr.String())
			if err := tcpSrv.ActivateAndServe(); err != nil {
				errChan <- fmt.Errorf("TCP server failed: %w", err)
			}
		}()
	}
	go func() {
		started.Wait()
		s.readyOnce.Do(func() { close(s.ready) })
		s.logger.Info("DNS server started",
			"address", s.cfg.ListenAddress,
			"udp", s.cfg.UDPEnabled,
			"tcp", s.cfg.TCPEnabled,
		)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("DNS server shutting down")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.logger.Error("DNS server error", "error", err)
		_ = s.Shutdown(context.Background())
		return err
	}
}

// Ready is closed once the enabled listeners are serving.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// UDPAddr returns the bound UDP address, or nil.
func (s *Server) UDPAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.udpAddr
}

// TCPAddr returns the bound TCP address, or nil.
func (s *Server) TCPAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tcpAddr
}

// Shutdown gracefully shuts down the DNS server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	var errs []error
	if s.udpServer != nil {
		if err := s.udpServer.ShutdownContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("UDP shutdown: %w", err))
		}
	}
	if s.tcpServer != nil {
		if err := s.tcpServer.ShutdownContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("TCP shutdown: %w", err))
		}
	}
	s.running = false

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	s.logger.Info("DNS server shut down")
	return nil
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// wrappedHandler adds query logging and metrics around Handler.
type wrappedHandler struct {
	handler *Handler
	logger  *logging.Logger
	metrics QueryMetrics
}

func (w *wrappedHandler) serveDNS(rw dns.ResponseWriter, r *dns.Msg) {
	startTime := time.Now()
	ctx := context.Background()

	var domain string
	var qtype uint16
	if len(r.Question) > 0 {
		domain = r.Question[0].Name
		qtype = r.Question[0].Qtype
	}

	w.logger.Debug("DNS query received",
		"domain", domain,
		"type", dnsTypeLabel(qtype),
		"client", getClientIP(rw),
	)

	rec := &rcodeWriter{ResponseWriter: rw, rcode: -1}
	w.handler.ServeDNS(ctx, rec, r)

	duration := time.Since(startTime)
	rcode := "NONE"
	if rec.rcode >= 0 {
		rcode = rcodeLabel(rec.rcode)
	}
	if w.metrics != nil {
		w.metrics.RecordDNSQuery(ctx, dnsTypeLabel(qtype), rcode, duration)
	}

	w.logger.Debug("DNS query processed",
		"domain", domain,
		"rcode", rcode,
		"duration_ms", duration.Milliseconds(),
	)
}

// rcodeWriter remembers the rcode of the written reply.
type rcodeWriter struct {
	dns.ResponseWriter
	rcode int
}

func (w *rcodeWriter) WriteMsg(m *dns.Msg) error {
	w.rcode = m.Rcode
	return w.ResponseWriter.WriteMsg(m)
}

// getClientIP returns the host part of the remote address.
func getClientIP(w dns.ResponseWriter) string {
	if w.RemoteAddr() == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(w.RemoteAddr().String())
	if err == nil {
		return host
	}
	return w.RemoteAddr().String()
}
