package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mailfred-go/internal/repository"
	"mailfred-go/internal/service"
	"mailfred-go/internal/trigger"
)

const (
	ownerKey = "owner"

	// TriggerSecretHeader carries the shared secret of the operator routes.
	TriggerSecretHeader = "X-Trigger-Secret"
)

// OAuthFlow runs the authorization code grant for an owner.
type OAuthFlow interface {
	AuthCodeURL(owner string) (string, error)
	Complete(ctx context.Context, code, state string) (string, error)
}

// Deps are the collaborators of the HTTP handlers. OAuth may be nil when the
// mailbox backend does not use per-owner grants. An empty TriggerSecret
// leaves the processing and trigger routes open.
type Deps struct {
	Schedules   *repository.ScheduleRepository
	Scheduler   *service.Scheduler
	Reconciler  *service.Reconciler
	Trigger     *trigger.Trigger
	OAuth       OAuthFlow
	OwnerHeader   string
	TriggerSecret string
	Now           func() time.Time
}

// Handlers contains all HTTP handlers
type Handlers struct {
	schedules   *repository.ScheduleRepository
	scheduler   *service.Scheduler
	reconciler  *service.Reconciler
	trigger     *trigger.Trigger
	oauth       OAuthFlow
	ownerHeader   string
	triggerSecret string
	now           func() time.Time
}

// NewHandlers creates new HTTP handlers
func NewHandlers(d Deps) *Handlers {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Handlers{
		schedules:   d.Schedules,
		scheduler:   d.Scheduler,
		reconciler:  d.Reconciler,
		trigger:     d.Trigger,
		oauth:       d.OAuth,
		ownerHeader:   d.OwnerHeader,
		triggerSecret: d.TriggerSecret,
		now:           now,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)

	oauth := router.Group("/oauth2")
	{
		oauth.GET("/setup", h.requireOwner, h.OAuthSetup)
		oauth.GET("/callback", h.OAuthCallback)
	}

	api := router.Group("/api/v1")
	{
		owned := api.Group("", h.requireOwner)
		owned.GET("/schedule", h.Schedule)
		owned.POST("/schedule", h.Schedule)
		owned.DELETE("/schedule/:messageRef", h.CancelSchedule)
		owned.GET("/schedules", h.ListSchedules)
		owned.POST("/reconcile", h.Reconcile)

		operator := api.Group("", h.requireTriggerSecret)
		operator.GET("/process", h.Process)
		operator.POST("/trigger/start", h.StartTrigger)
		operator.POST("/trigger/stop", h.StopTrigger)
		operator.GET("/trigger/status", h.TriggerStatus)
	}
}

// requireOwner reads the owner identity set by the fronting auth layer.
func (h *Handlers) requireOwner(c *gin.Context) {
	owner := c.GetHeader(h.ownerHeader)
	if owner == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ScheduleResponse{
			Success: false,
			Error:   service.CodeAuthMissing,
		})
		return
	}
	c.Set(ownerKey, owner)
	c.Next()
}

// requireTriggerSecret guards the routes an external scheduler or an
// operator calls.
func (h *Handlers) requireTriggerSecret(c *gin.Context) {
	if h.triggerSecret == "" {
		c.Next()
		return
	}
	given := c.GetHeader(TriggerSecretHeader)
	if subtle.ConstantTimeCompare([]byte(given), []byte(h.triggerSecret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "missing or invalid " + TriggerSecretHeader + " header",
			Code:    http.StatusUnauthorized,
		})
		return
	}
	c.Next()
}

func owner(c *gin.Context) string {
	return c.GetString(ownerKey)
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: h.now().UTC(),
		Database:  "ok",
		Trigger:   "stopped",
		Metrics:   make(map[string]string),
	}

	ctx := c.Request.Context()
	if err := h.schedules.Ping(ctx); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	} else if pending, err := h.schedules.CountPending(ctx); err == nil {
		response.Metrics["pending_schedules"] = strconv.FormatInt(pending, 10)
	}

	if h.trigger.IsRunning() {
		response.Trigger = "running"
		response.Metrics["next_run"] = h.trigger.GetNextRun().Format(time.RFC3339)
		response.Metrics["last_run"] = h.trigger.GetLastRun().Format(time.RFC3339)
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}
