package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mailfred-go/internal/model"
)

// LabelNames are the display names of the two marker labels.
type LabelNames struct {
	Base      string
	Scheduled string
}

// Applier resolves the marker labels of one mailbox and applies label
// changes to its messages. The label listing is cached for the lifetime of
// the Applier.
type Applier struct {
	store LabelStore
	names LabelNames

	mu     sync.Mutex
	labels []Label
	loaded bool
}

// NewApplier creates an Applier with an empty label cache.
func NewApplier(store LabelStore, names LabelNames) *Applier {
	return &Applier{store: store, names: names}
}

// EnsureLabel returns the id of the label called name, creating it when the
// mailbox has none.
func (a *Applier) EnsureLabel(ctx context.Context, name string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded {
		labels, err := a.store.ListLabels(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list labels: %w", err)
		}
		a.labels = labels
		a.loaded = true
	}

	for _, l := range a.labels {
		if l.Name == name {
			return l.ID, nil
		}
	}

	created, err := a.store.CreateLabel(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to create label %q: %w", name, err)
	}
	a.labels = append([]Label{created}, a.labels...)
	return created.ID, nil
}

// BaseLabelID returns the id of the base marker label.
func (a *Applier) BaseLabelID(ctx context.Context) (string, error) {
	return a.EnsureLabel(ctx, a.names.Base)
}

// ScheduledLabelID returns the id of the scheduled marker label.
func (a *Applier) ScheduledLabelID(ctx context.Context) (string, error) {
	return a.EnsureLabel(ctx, a.names.Scheduled)
}

// ApplySchedule marks a message as scheduled, archiving it when asked to.
func (a *Applier) ApplySchedule(ctx context.Context, ref string, archive bool) error {
	baseID, err := a.BaseLabelID(ctx)
	if err != nil {
		return err
	}
	scheduledID, err := a.ScheduledLabelID(ctx)
	if err != nil {
		return err
	}

	var remove []string
	if archive {
		remove = []string{LabelInbox}
	}
	if err := a.store.ModifyMessage(ctx, ref, []string{baseID, scheduledID}, remove); err != nil {
		return fmt.Errorf("failed to apply schedule labels: %w", err)
	}
	return nil
}

// ApplyProcessing restores a scheduled message: the base label and the
// markers selected by opts are added and scheduledID is removed, all in one
// mutation.
func (a *Applier) ApplyProcessing(ctx context.Context, ref string, opts model.OptionSet, scheduledID string) error {
	baseID, err := a.BaseLabelID(ctx)
	if err != nil {
		return err
	}

	add := []string{baseID}
	if opts.Has(model.OptionMarkUnread) {
		add = append(add, LabelUnread)
	}
	if opts.Has(model.OptionMoveToInbox) {
		add = append(add, LabelInbox)
	}
	if opts.Has(model.OptionStar) {
		add = append(add, LabelStarred)
	}

	if err := a.store.ModifyMessage(ctx, ref, add, []string{scheduledID}); err != nil {
		return fmt.Errorf("failed to apply processing labels: %w", err)
	}
	return nil
}

// Restore removes scheduledID from a message and puts it back in the inbox.
func (a *Applier) Restore(ctx context.Context, ref, scheduledID string) error {
	if err := a.store.ModifyMessage(ctx, ref, []string{LabelInbox}, []string{scheduledID}); err != nil {
		return fmt.Errorf("failed to restore message: %w", err)
	}
	return nil
}

// GetMessage fetches a message. found is false when the message does not
// exist; a request the mailbox rejects as malformed is returned as an error
// wrapping ErrMalformed.
func (a *Applier) GetMessage(ctx context.Context, ref string) (msg *Message, found bool, err error) {
	msg, err = a.store.GetMessage(ctx, ref)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get message %s: %w", ref, err)
	}
	return msg, true, nil
}

// IsLastInThread reports whether msg is the newest message of its thread.
func (a *Applier) IsLastInThread(ctx context.Context, msg *Message) (bool, error) {
	refs, err := a.store.GetThread(ctx, msg.ThreadID)
	if err != nil {
		return false, fmt.Errorf("failed to get thread %s: %w", msg.ThreadID, err)
	}
	if len(refs) == 0 {
		return true, nil
	}
	return refs[len(refs)-1] == msg.Ref, nil
}

// ListLabeled returns the refs of every message carrying labelID.
func (a *Applier) ListLabeled(ctx context.Context, labelID string) ([]string, error) {
	refs, err := a.store.ListMessages(ctx, labelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages with label %s: %w", labelID, err)
	}
	return refs, nil
}
