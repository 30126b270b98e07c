package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader correlates a request across logs
const RequestIDHeader = "X-Request-ID"

// RouterDeps holds the handlers mounted on the router
type RouterDeps struct {
	Webhooks    *WebhookHandler
	Health      *HealthHandler
	Admin       *AdminHandler
	Feed        http.HandlerFunc // websocket upgrade; optional
	AdminSecret string
}

// NewRouter wires every route. Callers choose the gin mode.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), requestLogger())

	router.GET("/ping", deps.Health.Ping)
	router.GET("/health", deps.Health.Health)

	webhooks := router.Group("/webhooks")
	webhooks.POST("/livechat", deps.Webhooks.HandleLiveChat)
	webhooks.POST("/ringcentral", deps.Webhooks.HandleRingCentral)

	if deps.Feed != nil {
		router.GET("/ws/sync", gin.WrapF(deps.Feed))
	}

	admin := router.Group("/admin", requireAdminSecret(deps.AdminSecret))
	admin.GET("/dispatch", deps.Admin.DispatchStatus)
	admin.POST("/dispatch/pause", deps.Admin.PauseDispatch)
	admin.POST("/dispatch/resume", deps.Admin.ResumeDispatch)
	admin.GET("/sync-logs", deps.Admin.SyncLogs)
	admin.GET("/agents", deps.Admin.Agents)

	return router
}

// requestID reuses the caller's X-Request-ID or assigns a new one
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// requestLogger logs one line per request; probes are logged at debug
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			level = slog.LevelError
		case c.Request.URL.Path == "/ping" || c.Request.URL.Path == "/health":
			level = slog.LevelDebug
		}
		slog.Log(c.Request.Context(), level, "HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString("request_id"),
		)
	}
}
