package api

import (
	"time"

	"gaiwait/pkg/gai"
	"gaiwait/pkg/storage"
)

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status         string `json:"status"`
	Uptime         string `json:"uptime"`
	Version        string `json:"version"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	InFlight       int    `json:"in_flight"`
	Orphaned       int64  `json:"orphaned_workers"`
	LateResults    uint64 `json:"late_results"`
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status string `json:"status"` // "alive"
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status string            `json:"status"` // "ready" or "not_ready"
	Checks map[string]string `json:"checks"`
}

// ResolveResponse is the outcome of one bounded lookup
type ResolveResponse struct {
	Name       string   `json:"name"`
	Service    string   `json:"service,omitempty"`
	Family     int      `json:"family"`
	Addresses  []string `json:"addresses,omitempty"`
	CanonName  string   `json:"canon_name,omitempty"`
	ResultCode int      `json:"result_code"`
	CodeName   string   `json:"code_name,omitempty"`
	TimedOut   bool     `json:"timed_out"`
	Message    string   `json:"message,omitempty"`
	DurationMs float64  `json:"duration_ms"`
}

// InFlightEntry describes one registered lookup
type InFlightEntry struct {
	WorkerID uint64  `json:"worker_id"`
	Node     string  `json:"node"`
	Service  string  `json:"service,omitempty"`
	Family   int     `json:"family"`
	Status   string  `json:"status"`
	AgeMs    float64 `json:"age_ms"`
}

// InFlightResponse lists the registry
type InFlightResponse struct {
	Lookups  []InFlightEntry `json:"lookups"`
	Orphaned int64           `json:"orphaned_workers"`
	Late     uint64          `json:"late_results"`
}

// StatsResponse represents journal statistics
type StatsResponse struct {
	TotalLookups  int64            `json:"total_lookups"`
	Succeeded     int64            `json:"succeeded"`
	TimedOut      int64            `json:"timed_out"`
	LateResults   int64            `json:"late_results"`
	UniqueNodes   int64            `json:"unique_nodes"`
	ByOutcome     map[string]int64 `json:"by_outcome"`
	TimeoutRate   float64          `json:"timeout_rate"` // Percentage
	AvgDurationMs float64          `json:"avg_duration_ms"`
	Period        string           `json:"period"`
	Timestamp     string           `json:"timestamp"` // ISO 8601 format
}

// LookupResponse represents a single journal entry
type LookupResponse struct {
	ID         int64   `json:"id"`
	Timestamp  string  `json:"timestamp"` // ISO 8601 format
	WorkerID   uint64  `json:"worker_id"`
	Node       string  `json:"node"`
	Service    string  `json:"service,omitempty"`
	Family     int     `json:"family"`
	Outcome    string  `json:"outcome"`
	Code       int     `json:"code"`
	Addrs      int     `json:"addrs"`
	DurationMs float64 `json:"duration_ms"`
	Late       bool    `json:"late"`
}

// LookupsResponse represents paginated journal entries
type LookupsResponse struct {
	Lookups []LookupResponse `json:"lookups"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

func toLookupResponse(l *storage.LookupLog) LookupResponse {
	return LookupResponse{
		ID:         l.ID,
		Timestamp:  l.Timestamp.UTC().Format(time.RFC3339Nano),
		WorkerID:   l.WorkerID,
		Node:       l.Node,
		Service:    l.Service,
		Family:     l.Family,
		Outcome:    l.Outcome,
		Code:       l.Code,
		Addrs:      l.Addrs,
		DurationMs: l.DurationMs,
		Late:       l.Late,
	}
}

func toInFlightEntry(i gai.ItemInfo) InFlightEntry {
	return InFlightEntry{
		WorkerID: uint64(i.ID),
		Node:     i.Node,
		Service:  i.Service,
		Family:   i.Hints.Family,
		Status:   i.Status.String(),
		AgeMs:    float64(i.Age.Microseconds()) / 1000,
	}
}
