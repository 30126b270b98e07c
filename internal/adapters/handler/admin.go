package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"

	"syncbridge/internal/core/domain"
	"syncbridge/internal/core/services"
)

// AdminSecretHeader authenticates operator endpoints
const AdminSecretHeader = "X-Admin-Secret"

const (
	defaultSyncLogLimit = 50
	maxSyncLogLimit     = 500
)

// Gate pauses and resumes outbound dispatch
type Gate interface {
	GateReader
	Pause(reason, pausedBy string)
	Resume(resumedBy string)
}

// SyncLogReader lists recent audit rows
type SyncLogReader interface {
	RecentSyncLogs(ctx context.Context, limit int) ([]domain.SyncLog, error)
}

// AgentReader lists mapped agents and their canonical status
type AgentReader interface {
	List(ctx context.Context) ([]domain.Agent, error)
	CurrentStatus(ctx context.Context, agentID uint64) (domain.PresenceStatus, error)
}

// AdminHandler serves operator endpoints
type AdminHandler struct {
	gate     Gate
	syncLogs SyncLogReader
	agents   AgentReader
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(gate Gate, syncLogs SyncLogReader, agents AgentReader) *AdminHandler {
	return &AdminHandler{gate: gate, syncLogs: syncLogs, agents: agents}
}

// AgentStatus is one row of GET /admin/agents. The embedded agent carries the
// values last pushed to each platform.
type AgentStatus struct {
	domain.Agent
	Status domain.PresenceStatus `json:"status"`
}

// PauseRequest is the body of POST /admin/dispatch/pause
type PauseRequest struct {
	Reason string `json:"reason" binding:"required"`
	By     string `json:"by"`
}

// ResumeRequest is the body of POST /admin/dispatch/resume
type ResumeRequest struct {
	By string `json:"by"`
}

// DispatchStatus returns the gate state
// GET /admin/dispatch
func (h *AdminHandler) DispatchStatus(c *gin.Context) {
	respond(c, NewSuccessResponse(h.gate.Status()))
}

// PauseDispatch holds outbound pushes
// POST /admin/dispatch/pause
func (h *AdminHandler) PauseDispatch(c *gin.Context) {
	var req PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, BadRequestResponse("reason is required"))
		return
	}
	h.gate.Pause(req.Reason, operator(req.By))
	respond(c, NewSuccessResponse(h.gate.Status()))
}

// ResumeDispatch releases held pushes
// POST /admin/dispatch/resume
func (h *AdminHandler) ResumeDispatch(c *gin.Context) {
	var req ResumeRequest
	// An empty body is fine
	_ = c.ShouldBindJSON(&req)
	h.gate.Resume(operator(req.By))
	respond(c, NewSuccessResponse(h.gate.Status()))
}

// SyncLogs lists the newest audit rows
// GET /admin/sync-logs?limit=50
func (h *AdminHandler) SyncLogs(c *gin.Context) {
	limit := defaultSyncLogLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respond(c, BadRequestResponse("limit must be a positive integer"))
			return
		}
		limit = min(n, maxSyncLogLimit)
	}

	logs, err := h.syncLogs.RecentSyncLogs(c.Request.Context(), limit)
	if err != nil {
		slog.Error("Failed to list sync logs", "error", err)
		respond(c, InternalErrorResponse("Failed to load sync logs"))
		return
	}
	respond(c, NewSuccessResponse(logs))
}

// Agents lists every mapped agent with its canonical status
// GET /admin/agents
func (h *AdminHandler) Agents(c *gin.Context) {
	ctx := c.Request.Context()
	agents, err := h.agents.List(ctx)
	if err != nil {
		slog.Error("Failed to list agents", "error", err)
		respond(c, InternalErrorResponse("Failed to load agents"))
		return
	}

	out := make([]AgentStatus, 0, len(agents))
	for _, agent := range agents {
		status, err := h.agents.CurrentStatus(ctx, agent.ID)
		if err != nil {
			slog.Error("Failed to load agent presence", "agent_id", agent.ID, "error", err)
			respond(c, InternalErrorResponse("Failed to load agent presence"))
			return
		}
		out = append(out, AgentStatus{Agent: agent, Status: status})
	}
	respond(c, NewSuccessResponse(out))
}

// requireAdminSecret guards operator routes. With no secret configured they stay closed.
func requireAdminSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(AdminSecretHeader)
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			slog.Warn("Unauthorized admin request",
				"path", c.Request.URL.Path,
				"remote_addr", c.ClientIP(),
			)
			abort(c, UnauthorizedResponse("Invalid or missing admin secret"))
			return
		}
		c.Next()
	}
}

func operator(by string) string {
	if by == "" {
		return "admin"
	}
	return by
}

var (
	_ Gate        = (*services.DispatchGate)(nil)
	_ AgentReader = (*services.AgentDirectory)(nil)
)
