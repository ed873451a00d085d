package mailbox_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailfred-go/internal/mailbox"
	"mailfred-go/internal/mailbox/mailboxtest"
	"mailfred-go/internal/model"
)

const ref = "18c0a1b2c3d4e5f6"

var names = mailbox.LabelNames{Base: "MailFred", Scheduled: "MailFred/Scheduled"}

func TestIsValidMessageRef(t *testing.T) {
	tests := []struct {
		ref   string
		valid bool
	}{
		{"18c0a1b2c3d4e5f6", true},
		{"18C0A1B2C3D4E5F6", true},
		{"18c0a1b2c3d4e5f", false},
		{"18c0a1b2c3d4e5f67", false},
		{"18c0a1b2c3d4e5fg", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.Equal(t, tt.valid, mailbox.IsValidMessageRef(tt.ref))
		})
	}
}

func TestEnsureLabelCachesAndCreatesOnce(t *testing.T) {
	store := mailboxtest.New()
	existing := store.AddLabel("MailFred")
	a := mailbox.NewApplier(store, names)
	ctx := context.Background()

	id, err := a.EnsureLabel(ctx, "MailFred")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, id)

	first, err := a.EnsureLabel(ctx, "MailFred/Scheduled")
	require.NoError(t, err)
	second, err := a.EnsureLabel(ctx, "MailFred/Scheduled")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.CreateLabelCalls)
	assert.Equal(t, 1, store.ListLabelsCalls)
}

func TestEnsureLabelPropagatesErrors(t *testing.T) {
	store := mailboxtest.New()
	boom := errors.New("network down")
	store.FailOn(mailboxtest.OpListLabels, "", boom)

	_, err := mailbox.NewApplier(store, names).EnsureLabel(context.Background(), "MailFred")
	assert.ErrorIs(t, err, boom)
}

func TestApplySchedule(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps inbox", func(t *testing.T) {
		store := mailboxtest.New()
		store.AddMessage(ref, "t1", mailbox.LabelInbox)
		a := mailbox.NewApplier(store, names)

		require.NoError(t, a.ApplySchedule(ctx, ref, false))

		base, _ := store.LabelByName("MailFred")
		scheduled, _ := store.LabelByName("MailFred/Scheduled")
		assert.True(t, store.HasLabel(ref, base.ID))
		assert.True(t, store.HasLabel(ref, scheduled.ID))
		assert.True(t, store.HasLabel(ref, mailbox.LabelInbox))
	})

	t.Run("archives", func(t *testing.T) {
		store := mailboxtest.New()
		store.AddMessage(ref, "t1", mailbox.LabelInbox)
		a := mailbox.NewApplier(store, names)

		require.NoError(t, a.ApplySchedule(ctx, ref, true))
		assert.False(t, store.HasLabel(ref, mailbox.LabelInbox))
	})
}

func TestApplyProcessingIsSingleIdempotentMutation(t *testing.T) {
	store := mailboxtest.New()
	store.AddMessage(ref, "t1")
	a := mailbox.NewApplier(store, names)
	ctx := context.Background()

	require.NoError(t, a.ApplySchedule(ctx, ref, true))
	scheduledID, err := a.ScheduledLabelID(ctx)
	require.NoError(t, err)
	baseID, err := a.BaseLabelID(ctx)
	require.NoError(t, err)

	opts := model.NewOptionSet(model.OptionMarkUnread, model.OptionMoveToInbox, model.OptionStar)
	before := len(store.ModifyCalls)
	require.NoError(t, a.ApplyProcessing(ctx, ref, opts, scheduledID))
	assert.Len(t, store.ModifyCalls, before+1)

	want := []string{baseID, mailbox.LabelInbox, mailbox.LabelStarred, mailbox.LabelUnread}
	assert.ElementsMatch(t, want, store.Labels(ref))

	require.NoError(t, a.ApplyProcessing(ctx, ref, opts, scheduledID))
	assert.ElementsMatch(t, want, store.Labels(ref))
}

func TestApplyProcessingOnlySelectedMarkers(t *testing.T) {
	store := mailboxtest.New()
	store.AddMessage(ref, "t1")
	a := mailbox.NewApplier(store, names)
	ctx := context.Background()

	require.NoError(t, a.ApplySchedule(ctx, ref, true))
	scheduledID, err := a.ScheduledLabelID(ctx)
	require.NoError(t, err)

	require.NoError(t, a.ApplyProcessing(ctx, ref, model.OptionSet{model.OptionStar}, scheduledID))
	assert.True(t, store.HasLabel(ref, mailbox.LabelStarred))
	assert.False(t, store.HasLabel(ref, mailbox.LabelUnread))
	assert.False(t, store.HasLabel(ref, mailbox.LabelInbox))
	assert.False(t, store.HasLabel(ref, scheduledID))
}

func TestGetMessageOutcomes(t *testing.T) {
	store := mailboxtest.New()
	store.AddMessage(ref, "t1", mailbox.LabelInbox)
	a := mailbox.NewApplier(store, names)
	ctx := context.Background()

	msg, found, err := a.GetMessage(ctx, ref)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, msg.HasLabel(mailbox.LabelInbox))

	_, found, err = a.GetMessage(ctx, "ffffffffffffffff")
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = a.GetMessage(ctx, "nope")
	assert.ErrorIs(t, err, mailbox.ErrMalformed)

	store.FailOn(mailboxtest.OpGetMessage, ref, mailbox.ErrUnauthorized)
	_, _, err = a.GetMessage(ctx, ref)
	assert.ErrorIs(t, err, mailbox.ErrUnauthorized)
}

func TestIsLastInThread(t *testing.T) {
	store := mailboxtest.New()
	store.AddMessage("0000000000000001", "t1")
	store.AddMessage("0000000000000002", "t1")
	a := mailbox.NewApplier(store, names)
	ctx := context.Background()

	first, _, err := a.GetMessage(ctx, "0000000000000001")
	require.NoError(t, err)
	last, _, err := a.GetMessage(ctx, "0000000000000002")
	require.NoError(t, err)

	isLast, err := a.IsLastInThread(ctx, first)
	require.NoError(t, err)
	assert.False(t, isLast)

	isLast, err = a.IsLastInThread(ctx, last)
	require.NoError(t, err)
	assert.True(t, isLast)
}

func TestListLabeledAndRestore(t *testing.T) {
	store := mailboxtest.New()
	store.AddMessage("0000000000000001", "t1")
	store.AddMessage("0000000000000002", "t2")
	a := mailbox.NewApplier(store, names)
	ctx := context.Background()

	require.NoError(t, a.ApplySchedule(ctx, "0000000000000001", true))
	scheduledID, err := a.ScheduledLabelID(ctx)
	require.NoError(t, err)

	refs, err := a.ListLabeled(ctx, scheduledID)
	require.NoError(t, err)
	assert.Equal(t, []string{"0000000000000001"}, refs)

	require.NoError(t, a.Restore(ctx, "0000000000000001", scheduledID))
	assert.True(t, store.HasLabel("0000000000000001", mailbox.LabelInbox))
	assert.False(t, store.HasLabel("0000000000000001", scheduledID))
}
