package model

import "fmt"

// Status is the terminal outcome of a schedule record.
type Status string

const (
	// StatusPending is the zero value carried while a record is unprocessed.
	StatusPending      Status = ""
	StatusProcessedOK  Status = "processed-ok"
	StatusAnswered     Status = "answered"
	StatusNotFound     Status = "not-found"
	StatusLabelRemoved Status = "label-removed"
	StatusErrored      Status = "errored"
	StatusCanceled     Status = "canceled"
)

// TerminalStatuses lists every status a processed record can carry.
var TerminalStatuses = []Status{
	StatusProcessedOK,
	StatusAnswered,
	StatusNotFound,
	StatusLabelRemoved,
	StatusErrored,
	StatusCanceled,
}

// ParseStatus validates a terminal status key.
func ParseStatus(s string) (Status, error) {
	for _, st := range TerminalStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown process status %q", s)
}

// IsTerminal reports whether the status finalizes a record.
func (s Status) IsTerminal() bool {
	for _, st := range TerminalStatuses {
		if st == s {
			return true
		}
	}
	return false
}
