package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"mailfred-go/internal/config"
	"mailfred-go/internal/mailbox"
	"mailfred-go/internal/metrics"
	"mailfred-go/internal/model"
)

const defaultReconcileBatchSize = 5

// PendingStore lists an owner's unprocessed records.
type PendingStore interface {
	FindUnprocessedForOwner(ctx context.Context, owner string) ([]*model.ScheduleRecord, error)
}

// ReconcileResult reports what a reconciliation did.
type ReconcileResult struct {
	Owner    string `json:"owner"`
	Labeled  int    `json:"labeled"`
	Pending  int    `json:"pending"`
	Orphaned int    `json:"orphaned"`
	Restored int    `json:"restored"`
	Failed   int    `json:"failed"`
}

// Reconciler restores messages that still carry the scheduled label although
// no pending record refers to them.
type Reconciler struct {
	store     PendingStore
	mailboxes mailbox.Factory
	labels    mailbox.LabelNames
	batchSize int
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
}

// NewReconciler creates a Reconciler. Restores run in groups of
// cfg.BatchSize, at most cfg.BatchesPerSecond groups per second.
func NewReconciler(store PendingStore, mailboxes mailbox.Factory, labels mailbox.LabelNames, cfg config.ReconcileConfig, m *metrics.Metrics) *Reconciler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultReconcileBatchSize
	}
	limit := rate.Inf
	if cfg.BatchesPerSecond > 0 {
		limit = rate.Limit(cfg.BatchesPerSecond)
	}

	return &Reconciler{
		store:     store,
		mailboxes: mailboxes,
		labels:    labels,
		batchSize: batchSize,
		limiter:   rate.NewLimiter(limit, 1),
		metrics:   m,
	}
}

// ReconcileAfterReauth restores the owner's orphaned scheduled messages.
// Failures on single messages are logged and counted; the remaining groups
// still run.
func (r *Reconciler) ReconcileAfterReauth(ctx context.Context, owner string) (*ReconcileResult, error) {
	log := logrus.WithField("owner", owner)
	result := &ReconcileResult{Owner: owner}

	if owner == "" {
		return result, ErrAuthMissing
	}

	store, err := r.mailboxes.ForOwner(ctx, owner)
	if err != nil {
		return result, fmt.Errorf("failed to open mailbox: %w", err)
	}
	applier := mailbox.NewApplier(store, r.labels)

	scheduledID, err := applier.ScheduledLabelID(ctx)
	if err != nil {
		return result, err
	}
	labeled, err := applier.ListLabeled(ctx, scheduledID)
	if err != nil {
		return result, err
	}
	result.Labeled = len(labeled)

	pending, err := r.store.FindUnprocessedForOwner(ctx, owner)
	if err != nil {
		return result, fmt.Errorf("failed to load pending records: %w", err)
	}
	result.Pending = len(pending)

	stillPending := make(map[string]struct{}, len(pending))
	for _, rec := range pending {
		stillPending[rec.MessageRef] = struct{}{}
	}

	var orphans []string
	for _, ref := range labeled {
		if _, ok := stillPending[ref]; !ok {
			orphans = append(orphans, ref)
		}
	}
	result.Orphaned = len(orphans)

	for start := 0; start < len(orphans); start += r.batchSize {
		if err := r.limiter.Wait(ctx); err != nil {
			return result, err
		}

		end := min(start+r.batchSize, len(orphans))
		for _, ref := range orphans[start:end] {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if err := applier.Restore(ctx, ref, scheduledID); err != nil {
				log.WithError(err).WithField("message_ref", ref).Warn("Failed to restore orphaned message")
				result.Failed++
				r.metrics.Reconciled.WithLabelValues("failed").Inc()
				continue
			}
			result.Restored++
			r.metrics.Reconciled.WithLabelValues("restored").Inc()
		}
	}

	log.WithFields(logrus.Fields{
		"labeled":  result.Labeled,
		"pending":  result.Pending,
		"restored": result.Restored,
		"failed":   result.Failed,
	}).Info("Reconciliation completed")
	return result, nil
}
