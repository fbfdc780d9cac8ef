package handlers

import (
	"github.com/jmylchreest/tvstream/internal/mediaserver"
	"github.com/jmylchreest/tvstream/internal/telemetry"
)

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status            string            `json:"status" doc:"healthy, degraded or maintenance"`
	Timestamp         string            `json:"timestamp"`
	Version           string            `json:"version"`
	Uptime            string            `json:"uptime"`
	UptimeSeconds     float64           `json:"uptime_seconds"`
	Clients           int               `json:"clients" doc:"Connected websocket clients"`
	Maintenance       bool              `json:"maintenance"`
	DatabaseLatencyMS float64           `json:"database_latency_ms,omitempty"`
	CPU               CPUInfo           `json:"cpu"`
	Memory            MemoryInfo        `json:"memory"`
	Checks            map[string]string `json:"checks"`
}

// CPUInfo describes host CPU load.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo describes host and process memory.
type MemoryInfo struct {
	TotalMB     float64 `json:"total_mb"`
	UsedMB      float64 `json:"used_mb"`
	AvailableMB float64 `json:"available_mb"`
	ProcessMB   float64 `json:"process_mb"`
	Goroutines  int     `json:"goroutines"`
}

// ChannelListResponse is the body of GET /api/v1/channels.
type ChannelListResponse struct {
	Channels []mediaserver.ChannelInfo `json:"channels"`
	Clients  int                       `json:"clients"`
}

// MaintenanceBody toggles maintenance mode.
type MaintenanceBody struct {
	Enabled bool `json:"enabled" doc:"Reject new sessions with server-error maintenance"`
}

// SummaryResponse is the body of GET /api/v1/telemetry/summary.
type SummaryResponse struct {
	Window  string            `json:"window"`
	Summary telemetry.Summary `json:"summary"`
}
