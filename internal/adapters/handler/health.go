package handler

import (
	"context"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"syncbridge/internal/core/services"
)

const healthCheckTimeout = 2 * time.Second

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueStats exposes the depth of the in-memory queues
type QueueStats interface {
	Pending() int
}

// DispatchStats exposes the outbound queue depth
type DispatchStats interface {
	QueueDepth() int
}

// GateReader reports whether outbound dispatch is paused
type GateReader interface {
	Status() services.GateStatus
}

// HealthHandler serves liveness and dependency health
type HealthHandler struct {
	db        Pinger
	redis     Pinger // nil when Redis is disabled
	ingest    QueueStats
	dispatch  DispatchStats
	gate      GateReader
	version   string
	startedAt time.Time
}

// HealthResponse is the /health payload
type HealthResponse struct {
	Status         string  `json:"status"` // "healthy" | "degraded"
	Database       string  `json:"database"`
	Redis          string  `json:"redis"`
	IngestPending  int     `json:"ingest_pending"`
	DispatchQueue  int     `json:"dispatch_queue"`
	DispatchPaused bool    `json:"dispatch_paused"`
	CPUPercent     float64 `json:"cpu_percent"`
	RAMPercent     float64 `json:"ram_percent"`
	Goroutines     int     `json:"goroutines"`
	Uptime         string  `json:"uptime"`
	Version        string  `json:"version"`
}

// NewHealthHandler creates a health handler. redis may be nil.
func NewHealthHandler(db, redis Pinger, ingest QueueStats, dispatch DispatchStats, gate GateReader, version string) *HealthHandler {
	return &HealthHandler{
		db:        db,
		redis:     redis,
		ingest:    ingest,
		dispatch:  dispatch,
		gate:      gate,
		version:   version,
		startedAt: time.Now(),
	}
}

// Ping answers liveness probes
// GET /ping
func (h *HealthHandler) Ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

// Health reports dependency status, queue depths and a host snapshot
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:     "healthy",
		Database:   "up",
		Redis:      "disabled",
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(h.startedAt).Round(time.Second).String(),
		Version:    h.version,
	}

	if err := h.db.Ping(ctx); err != nil {
		slog.Error("Health check: database unreachable", "error", err)
		resp.Database = "down"
		resp.Status = "degraded"
	}
	if h.redis != nil {
		resp.Redis = "up"
		if err := h.redis.Ping(ctx); err != nil {
			// The ledger falls back to the database, so Redis alone does not degrade
			slog.Warn("Health check: redis unreachable", "error", err)
			resp.Redis = "down"
		}
	}
	if h.ingest != nil {
		resp.IngestPending = h.ingest.Pending()
	}
	if h.dispatch != nil {
		resp.DispatchQueue = h.dispatch.QueueDepth()
	}
	if h.gate != nil {
		resp.DispatchPaused = h.gate.Status().Paused
	}

	// Zero interval compares against the previous call and does not block
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		resp.CPUPercent = roundTo2Decimals(percents[0])
	}
	if memStat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.RAMPercent = roundTo2Decimals(memStat.UsedPercent)
	}

	if resp.Status != "healthy" {
		c.JSON(http.StatusServiceUnavailable, APIResponse{Code: http.StatusServiceUnavailable, Message: "Degraded", Data: resp})
		return
	}
	respond(c, NewSuccessResponse(resp))
}

func roundTo2Decimals(val float64) float64 {
	return float64(int(val*100)) / 100
}
