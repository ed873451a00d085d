package service

import (
	"errors"

	"mailfred-go/internal/mailbox"
)

var (
	ErrAuthMissing         = errors.New("owner is not authenticated")
	ErrInvalidReference    = errors.New("message reference is invalid")
	ErrMessageNotFound     = errors.New("message not found")
	ErrNoActionSpecified   = errors.New("no visibility option selected")
	ErrNoScheduleTime      = errors.New("no schedule time given")
	ErrInvalidScheduleTime = errors.New("schedule time is invalid")
	ErrStoringFailed       = errors.New("failed to store schedule")
	ErrSchedulingFailed    = errors.New("failed to mark message as scheduled")
	ErrNoPendingSchedule   = errors.New("message has no pending schedule")
)

// Error codes returned to API clients.
const (
	CodeAuthMissing         = "authMissing"
	CodeMessageIDInvalid    = "MessageIdInvalid"
	CodeMessageNotFound     = "MessageNotFound"
	CodeNoActionSpecified   = "NoActionSpecified"
	CodeNoScheduleTime      = "NoScheduleTime"
	CodeInvalidScheduleTime = "InvalidScheduleTime"
	CodeNoPendingSchedule   = "NoPendingSchedule"
	CodeStoringFailed       = "StoringFailed"
)

// ErrorCode maps an error returned by this package to its client code.
// Anything unrecognized is reported as a storing failure.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAuthMissing), errors.Is(err, mailbox.ErrUnauthorized):
		return CodeAuthMissing
	case errors.Is(err, ErrInvalidReference):
		return CodeMessageIDInvalid
	case errors.Is(err, ErrMessageNotFound):
		return CodeMessageNotFound
	case errors.Is(err, ErrNoActionSpecified):
		return CodeNoActionSpecified
	case errors.Is(err, ErrNoScheduleTime):
		return CodeNoScheduleTime
	case errors.Is(err, ErrInvalidScheduleTime):
		return CodeInvalidScheduleTime
	case errors.Is(err, ErrNoPendingSchedule):
		return CodeNoPendingSchedule
	default:
		return CodeStoringFailed
	}
}

// IsInputError reports whether err was caused by the request itself.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, ErrNoActionSpecified) ||
		errors.Is(err, ErrNoScheduleTime) ||
		errors.Is(err, ErrInvalidScheduleTime)
}
