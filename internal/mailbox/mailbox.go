// Package mailbox defines the label store capability the scheduling core
// talks to and the Applier that manages the marker labels on top of it.
package mailbox

import (
	"context"
	"errors"
	"regexp"
)

// System label ids understood by every backend.
const (
	LabelInbox   = "INBOX"
	LabelUnread  = "UNREAD"
	LabelStarred = "STARRED"
)

var (
	// ErrNotFound means the addressed message, thread or label does not exist.
	ErrNotFound = errors.New("not found")
	// ErrMalformed means the mailbox rejected the request as invalid.
	ErrMalformed = errors.New("malformed request")
	// ErrUnauthorized means the owner's grant is missing, expired or revoked.
	ErrUnauthorized = errors.New("mailbox access not authorized")
	// ErrUnavailable means the call was refused locally because the backend
	// is failing. Retrying later may succeed.
	ErrUnavailable = errors.New("mailbox temporarily unavailable")
)

var messageRefPattern = regexp.MustCompile(`^[0-9a-fA-F]{16}$`)

// IsValidMessageRef reports whether ref has the shape of a Gmail message id.
func IsValidMessageRef(ref string) bool {
	return messageRefPattern.MatchString(ref)
}

// Label is a mailbox label.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is the metadata of a message needed for scheduling decisions.
type Message struct {
	Ref      string   `json:"ref"`
	ThreadID string   `json:"thread_id"`
	LabelIDs []string `json:"label_ids"`
	Subject  string   `json:"subject,omitempty"`
}

// HasLabel reports whether the message currently carries labelID.
func (m *Message) HasLabel(labelID string) bool {
	for _, id := range m.LabelIDs {
		if id == labelID {
			return true
		}
	}
	return false
}

// LabelStore is the mailbox of one owner. Implementations return errors
// wrapping ErrNotFound, ErrMalformed or ErrUnauthorized where applicable.
type LabelStore interface {
	ListLabels(ctx context.Context) ([]Label, error)
	CreateLabel(ctx context.Context, name string) (Label, error)
	GetMessage(ctx context.Context, ref string) (*Message, error)
	// GetThread returns the refs of the thread's messages, oldest first.
	GetThread(ctx context.Context, threadID string) ([]string, error)
	// ModifyMessage adds and removes labels in a single request.
	ModifyMessage(ctx context.Context, ref string, add, remove []string) error
	// ListMessages returns the refs of every message carrying labelID.
	ListMessages(ctx context.Context, labelID string) ([]string, error)
}

// Factory opens the mailbox of an owner.
type Factory interface {
	ForOwner(ctx context.Context, owner string) (LabelStore, error)
}
