// Package handlers implements the huma operations of the REST API.
package handlers

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jmylchreest/tvstream/internal/observability"
)

// Pinger checks a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ClientCounter reports connected streaming clients.
type ClientCounter interface {
	ClientCount() int
	Maintenance() bool
}

// HealthHandler reports service and host health.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        Pinger
	clients   ClientCounter
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(version string, clients ClientCounter) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		clients:   clients,
	}
}

// WithDB enables the database check.
func (h *HealthHandler) WithDB(db Pinger) *HealthHandler {
	h.db = db
	return h
}

// HealthInput is the input for the health endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health route.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/api/v1/health",
		Summary:     "Health check",
		Description: "Returns service status, connected clients and host load",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service. A failing database
// degrades the status but the endpoint still answers 200 so streaming
// remains observable.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPU:           cpuInfo(),
		Memory:        memoryInfo(),
		Checks:        map[string]string{},
	}
	if h.clients != nil {
		resp.Clients = h.clients.ClientCount()
		resp.Maintenance = h.clients.Maintenance()
		if resp.Maintenance {
			resp.Status = "maintenance"
		}
	}

	resp.Checks["database"] = "not_configured"
	if h.db != nil {
		start := time.Now()
		err := h.db.Ping(ctx)
		resp.DatabaseLatencyMS = float64(time.Since(start).Microseconds()) / 1000
		if err != nil {
			observability.LoggerFromContext(ctx).Warn("database ping failed", slog.String("error", err.Error()))
			resp.Checks["database"] = "error"
			resp.Status = "degraded"
		} else {
			resp.Checks["database"] = "ok"
		}
	}

	return &HealthOutput{Body: resp}, nil
}

func cpuInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}
	avg, err := load.Avg()
	if err != nil || avg == nil {
		return info
	}
	info.Load1Min, info.Load5Min, info.Load15Min = avg.Load1, avg.Load5, avg.Load15
	if info.Cores > 0 {
		info.LoadPercentage1Min = avg.Load1 / float64(info.Cores) * 100
	}
	return info
}

func memoryInfo() MemoryInfo {
	var info MemoryInfo
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		info.TotalMB = toMB(vm.Total)
		info.UsedMB = toMB(vm.Used)
		info.AvailableMB = toMB(vm.Available)
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if pm, err := proc.MemoryInfo(); err == nil && pm != nil {
			info.ProcessMB = toMB(pm.RSS)
		}
	}
	info.Goroutines = runtime.NumGoroutine()
	return info
}

func toMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
