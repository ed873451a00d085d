package handler

import (
	"time"

	"mailfred-go/internal/model"
	"mailfred-go/internal/service"
)

// ScheduleResponse is returned by the schedule endpoints. Error carries the
// error code, or false on success.
type ScheduleResponse struct {
	Success  bool                    `json:"success"`
	Error    interface{}             `json:"error"`
	Schedule *model.ScheduleRecord   `json:"schedule,omitempty"`
	Canceled []*model.ScheduleRecord `json:"canceled,omitempty"`
}

// ScheduleListResponse is a page of an owner's schedule records
type ScheduleListResponse struct {
	Schedules  []model.ScheduleRecord `json:"schedules"`
	Pagination Pagination             `json:"pagination"`
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

// ProcessResponse reports one processing run
type ProcessResponse struct {
	Success bool                `json:"success"`
	Summary *service.RunSummary `json:"summary"`
}

// TriggerStatusResponse describes the periodic trigger
type TriggerStatusResponse struct {
	Status      string              `json:"status"`
	NextRun     time.Time           `json:"next_run"`
	LastRun     time.Time           `json:"last_run"`
	LastSummary *service.RunSummary `json:"last_summary,omitempty"`
}

// AuthorizedResponse is returned once the OAuth2 callback stored a grant
type AuthorizedResponse struct {
	Success        bool                     `json:"success"`
	Owner          string                   `json:"owner"`
	Reconcile      *service.ReconcileResult `json:"reconcile,omitempty"`
	ReconcileError string                   `json:"reconcile_error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Trigger   string            `json:"trigger"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
