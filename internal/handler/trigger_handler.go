package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Process runs one batch over every due schedule
func (h *Handlers) Process(c *gin.Context) {
	summary, err := h.trigger.RunOnce(c.Request.Context())
	if err != nil {
		logrus.WithError(err).Error("Processing run failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "processing_error",
			Message: "Failed to process due schedules",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, ProcessResponse{Success: true, Summary: summary})
}

// StartTrigger starts the periodic processing trigger
func (h *Handlers) StartTrigger(c *gin.Context) {
	if err := h.trigger.Start(); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "trigger_error",
			Message: err.Error(),
			Code:    http.StatusConflict,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Trigger started successfully",
		"status":  "running",
	})
}

// StopTrigger stops the periodic processing trigger
func (h *Handlers) StopTrigger(c *gin.Context) {
	if err := h.trigger.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "trigger_error",
			Message: "Failed to stop trigger",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Trigger stopped successfully",
		"status":  "stopped",
	})
}

// TriggerStatus returns the current trigger status
func (h *Handlers) TriggerStatus(c *gin.Context) {
	status := "stopped"
	if h.trigger.IsRunning() {
		status = "running"
	}

	c.JSON(http.StatusOK, TriggerStatusResponse{
		Status:      status,
		NextRun:     h.trigger.GetNextRun(),
		LastRun:     h.trigger.GetLastRun(),
		LastSummary: h.trigger.LastSummary(),
	})
}
