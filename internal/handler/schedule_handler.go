package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mailfred-go/internal/mailbox"
	"mailfred-go/internal/model"
	"mailfred-go/internal/service"
)

// Schedule creates a schedule for a message. Parameters come from the query
// string or a form body.
func (h *Handlers) Schedule(c *gin.Context) {
	ref := param(c, "messageRef")
	if ref == "" {
		ref = param(c, "msgId")
	}

	var opts []model.Option
	for _, o := range model.AllOptions {
		if flag(c, string(o)) {
			opts = append(opts, o)
		}
	}

	rec, err := h.scheduler.ScheduleMessage(c.Request.Context(), h.now(), service.ScheduleRequest{
		Owner:      owner(c),
		MessageRef: ref,
		When:       param(c, "when"),
		Options:    model.NewOptionSet(opts...),
	})
	if err != nil {
		respondScheduleError(c, err)
		return
	}

	c.JSON(http.StatusOK, ScheduleResponse{Success: true, Error: false, Schedule: rec})
}

// CancelSchedule cancels the pending schedule of a message and restores it
func (h *Handlers) CancelSchedule(c *gin.Context) {
	canceled, err := h.scheduler.CancelSchedule(c.Request.Context(), h.now(), owner(c), c.Param("messageRef"))
	if err != nil {
		respondScheduleError(c, err)
		return
	}

	c.JSON(http.StatusOK, ScheduleResponse{Success: true, Error: false, Canceled: canceled})
}

// ListSchedules returns the owner's schedule records with pagination
func (h *Handlers) ListSchedules(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	pendingOnly, _ := strconv.ParseBool(c.DefaultQuery("pending", "false"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	records, total, err := h.schedules.ListForOwner(c.Request.Context(), owner(c), pendingOnly, (page-1)*limit, limit)
	if err != nil {
		logrus.WithError(err).WithField("owner", owner(c)).Error("Failed to list schedules")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch schedules",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, ScheduleListResponse{
		Schedules:  records,
		Pagination: Pagination{Page: page, Limit: limit, Total: total},
	})
}

func respondScheduleError(c *gin.Context, err error) {
	code := service.ErrorCode(err)
	status := statusFor(err)

	entry := logrus.WithError(err).WithFields(logrus.Fields{"owner": owner(c), "code": code})
	if status >= http.StatusInternalServerError {
		entry.Error("Schedule request failed")
	} else {
		entry.Info("Schedule request rejected")
	}

	c.JSON(status, ScheduleResponse{Success: false, Error: code})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrAuthMissing), errors.Is(err, mailbox.ErrUnauthorized):
		return http.StatusUnauthorized
	case service.IsInputError(err):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrMessageNotFound), errors.Is(err, service.ErrNoPendingSchedule):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func param(c *gin.Context, key string) string {
	if v, ok := c.GetQuery(key); ok {
		return v
	}
	return c.PostForm(key)
}

// flag treats a bare parameter as true.
func flag(c *gin.Context, key string) bool {
	v, ok := c.GetQuery(key)
	if !ok {
		v, ok = c.GetPostForm(key)
	}
	if !ok {
		return false
	}
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
