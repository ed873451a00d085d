package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailfred-go/internal/config"
	"mailfred-go/internal/mailbox"
	"mailfred-go/internal/mailbox/mailboxtest"
	"mailfred-go/internal/model"
)

// orphan labels a message as scheduled without a backing record.
func (f *fixture) orphan(t *testing.T, o, msg string) {
	t.Helper()
	box := f.mailbox(o)
	box.AddMessage(msg, msg)
	require.NoError(t, box.ModifyMessage(context.Background(), msg,
		[]string{f.baseLabel(t, o), f.scheduledLabel(t, o)}, nil))
}

func TestReconcileRestoresOrphans(t *testing.T) {
	f := newFixture(t)
	box := f.mailbox(owner)

	box.AddMessage(ref(1), "t1", mailbox.LabelInbox)
	f.schedule(t, owner, ref(1), time.Hour, model.OptionArchiveAfterScheduling)
	f.orphan(t, owner, ref(2))
	f.orphan(t, owner, ref(3))
	scheduledID := f.scheduledLabel(t, owner)

	result, err := f.reconciler.ReconcileAfterReauth(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Labeled)
	assert.Equal(t, 1, result.Pending)
	assert.Equal(t, 2, result.Orphaned)
	assert.Equal(t, 2, result.Restored)
	assert.Equal(t, 0, result.Failed)

	for _, msg := range []string{ref(2), ref(3)} {
		assert.True(t, box.HasLabel(msg, mailbox.LabelInbox))
		assert.False(t, box.HasLabel(msg, scheduledID))
	}
	assert.True(t, box.HasLabel(ref(1), scheduledID), "pending message untouched")
	assert.False(t, box.HasLabel(ref(1), mailbox.LabelInbox))

	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.Reconciled.WithLabelValues("restored")))
}

func TestReconcileContinuesAfterFailures(t *testing.T) {
	f := newFixture(t)
	f.reconciler = NewReconciler(f.repo, f.mailboxes, testLabels, config.ReconcileConfig{BatchSize: 2}, f.metrics)
	box := f.mailbox(owner)

	for i := 1; i <= 7; i++ {
		f.orphan(t, owner, ref(i))
	}
	box.FailOn(mailboxtest.OpModify, ref(2), errors.New("rate limited"))

	result, err := f.reconciler.ReconcileAfterReauth(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, 7, result.Orphaned)
	assert.Equal(t, 6, result.Restored)
	assert.Equal(t, 1, result.Failed)
	assert.True(t, box.HasLabel(ref(7), mailbox.LabelInbox))
}

func TestReconcileStopsWhenCanceled(t *testing.T) {
	f := newFixture(t)
	f.reconciler = NewReconciler(f.repo, f.mailboxes, testLabels, config.ReconcileConfig{BatchSize: 1, BatchesPerSecond: 0.001}, f.metrics)
	for i := 1; i <= 3; i++ {
		f.orphan(t, owner, ref(i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	result, err := f.reconciler.ReconcileAfterReauth(ctx, owner)
	assert.Error(t, err)
	assert.Equal(t, 1, result.Restored, "only the first group fits in the burst")
}

// cancelAfterModify cancels the reconciliation context once the first
// message has been modified.
type cancelAfterModify struct {
	*mailboxtest.Factory
	cancel context.CancelFunc
}

func (c *cancelAfterModify) ForOwner(ctx context.Context, o string) (mailbox.LabelStore, error) {
	store, err := c.Factory.ForOwner(ctx, o)
	if err != nil {
		return nil, err
	}
	return &cancelingStore{LabelStore: store, cancel: c.cancel}, nil
}

type cancelingStore struct {
	mailbox.LabelStore
	cancel context.CancelFunc
}

func (s *cancelingStore) ModifyMessage(ctx context.Context, ref string, add, remove []string) error {
	defer s.cancel()
	return s.LabelStore.ModifyMessage(ctx, ref, add, remove)
}

func TestReconcileStopsWithinGroupWhenCanceled(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 3; i++ {
		f.orphan(t, owner, ref(i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mailboxes := &cancelAfterModify{Factory: f.mailboxes, cancel: cancel}
	reconciler := NewReconciler(f.repo, mailboxes, testLabels, config.ReconcileConfig{BatchSize: 5}, f.metrics)

	result, err := reconciler.ReconcileAfterReauth(ctx, owner)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, result.Orphaned)
	assert.Equal(t, 1, result.Restored)
	assert.Equal(t, 0, result.Failed)
}

func TestReconcileUnauthorized(t *testing.T) {
	f := newFixture(t)
	f.mailboxes.FailFor(owner, mailbox.ErrUnauthorized)

	_, err := f.reconciler.ReconcileAfterReauth(context.Background(), owner)
	assert.ErrorIs(t, err, mailbox.ErrUnauthorized)

	_, err = f.reconciler.ReconcileAfterReauth(context.Background(), "")
	assert.ErrorIs(t, err, ErrAuthMissing)
}
