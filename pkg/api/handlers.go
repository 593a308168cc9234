package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gaiwait/pkg/gai"
)

const (
	defaultLookupLimit = 100
	maxLookupLimit     = 1000
)

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "ok",
		Uptime:  s.getUptime(),
		Version: s.version,
	}
	if s.resolver != nil {
		stats := s.resolver.Stats()
		response.DefaultTimeout = s.resolver.DefaultTimeout().String()
		response.InFlight = stats.InFlight
		response.Orphaned = stats.Orphaned
		response.LateResults = stats.Late
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleHealthz handles GET /healthz
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

// handleReadyz handles GET /readyz
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true

	if s.resolver == nil {
		checks["resolver"] = "not configured"
		ready = false
	} else {
		checks["resolver"] = "ok"
	}

	if s.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.storage.Ping(ctx); err != nil {
			checks["storage"] = "unhealthy: " + err.Error()
			ready = false
		} else {
			checks["storage"] = "ok"
		}
	}

	if !ready {
		s.writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{Status: "not_ready", Checks: checks})
		return
	}
	s.writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready", Checks: checks})
}

// handleResolve handles GET /api/resolve?name=&service=&family=&timeout=
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if s.resolver == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Resolver not available")
		return
	}

	q := r.URL.Query()
	name := q.Get("name")
	service := q.Get("service")
	if name == "" && service == "" {
		s.writeError(w, http.StatusBadRequest, "name or service is required")
		return
	}

	family, ok := parseFamily(q.Get("family"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "family must be 4, 6 or any")
		return
	}

	var timeout time.Duration
	if v := q.Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid timeout")
			return
		}
		timeout = d
	}

	start := time.Now()
	res, err := s.resolver.Lookup(r.Context(), gai.Request{
		Node:    name,
		Service: service,
		Hints:   &gai.Hints{Family: family, SockType: gai.SockStream},
		Timeout: timeout,
	})

	response := ResolveResponse{
		Name:       name,
		Service:    service,
		Family:     family,
		DurationMs: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		code := gai.Code(err)
		response.ResultCode = code
		response.CodeName = gai.CodeName(code)
		response.TimedOut = gai.IsTimeout(err)
		response.Message = err.Error()

		status := http.StatusBadGateway
		var rerr *gai.ResolverError
		switch {
		case response.TimedOut:
			status = http.StatusGatewayTimeout
		case errors.As(err, &rerr):
			status = http.StatusOK
		}
		s.writeJSON(w, status, response)
		return
	}
	defer res.Release()

	seen := make(map[string]struct{}, len(res.Addrs))
	for _, ai := range res.Addrs {
		if response.CanonName == "" {
			response.CanonName = ai.CanonName
		}
		addr := ai.Addr.Addr().String()
		if service != "" {
			addr = ai.Addr.String()
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		response.Addresses = append(response.Addresses, addr)
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleInFlight handles GET /api/inflight
func (s *Server) handleInFlight(w http.ResponseWriter, r *http.Request) {
	if s.resolver == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Resolver not available")
		return
	}

	items := s.resolver.InFlight()
	stats := s.resolver.Stats()
	response := InFlightResponse{
		Lookups:  make([]InFlightEntry, 0, len(items)),
		Orphaned: stats.Orphaned,
		Late:     stats.Late,
	}
	for _, i := range items {
		response.Lookups = append(response.Lookups, toInFlightEntry(i))
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Storage not available")
		return
	}

	since := parseDuration(r.URL.Query().Get("since"), 24*time.Hour)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	stats, err := s.storage.GetStatistics(ctx, time.Now().Add(-since))
	if err != nil {
		s.logger.Error("Failed to get statistics", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve statistics")
		return
	}

	s.writeJSON(w, http.StatusOK, StatsResponse{
		TotalLookups:  stats.TotalLookups,
		Succeeded:     stats.Succeeded,
		TimedOut:      stats.TimedOut,
		LateResults:   stats.LateResults,
		UniqueNodes:   stats.UniqueNodes,
		ByOutcome:     stats.ByOutcome,
		TimeoutRate:   stats.TimeoutRate,
		AvgDurationMs: stats.AvgDurationMs,
		Period:        since.String(),
		Timestamp:     time.Now().Format(time.RFC3339),
	})
}

// handleLookups handles GET /api/lookups?limit=&offset=&node=
func (s *Server) handleLookups(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Storage not available")
		return
	}

	q := r.URL.Query()
	limit := defaultLookupLimit
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= maxLookupLimit {
		limit = l
	}
	offset := 0
	if o, err := strconv.Atoi(q.Get("offset")); err == nil && o >= 0 {
		offset = o
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	node := q.Get("node")
	var err error
	response := LookupsResponse{Limit: limit, Offset: offset, Lookups: []LookupResponse{}}
	if node != "" {
		response.Offset = 0
		logs, lerr := s.storage.GetLookupsByNode(ctx, node, limit)
		err = lerr
		for _, l := range logs {
			response.Lookups = append(response.Lookups, toLookupResponse(l))
		}
	} else {
		logs, lerr := s.storage.GetRecentLookups(ctx, limit, offset)
		err = lerr
		for _, l := range logs {
			response.Lookups = append(response.Lookups, toLookupResponse(l))
		}
	}
	if err != nil {
		s.logger.Error("Failed to get lookups", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve lookups")
		return
	}
	response.Total = len(response.Lookups)

	s.writeJSON(w, http.StatusOK, response)
}

func parseFamily(s string) (int, bool) {
	switch strings.ToLower(s) {
	case "", "any":
		return gai.AFUnspec, true
	case "4", "ipv4":
		return gai.AFInet, true
	case "6", "ipv6":
		return gai.AFInet6, true
	default:
		return 0, false
	}
}
