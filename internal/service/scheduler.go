package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"mailfred-go/internal/mailbox"
	"mailfred-go/internal/metrics"
	"mailfred-go/internal/model"
	"mailfred-go/internal/repository"
)

// ScheduleRequest is a client's request to snooze a message.
type ScheduleRequest struct {
	Owner      string
	MessageRef string
	// When is epoch milliseconds or "delta:<millis>".
	When    string
	Options model.OptionSet
}

// Scheduler creates and cancels schedules. Each new schedule supersedes
// every pending schedule of the same (owner, message) pair.
type Scheduler struct {
	store     *repository.ScheduleRepository
	mailboxes mailbox.Factory
	labels    mailbox.LabelNames
	metrics   *metrics.Metrics
}

// NewScheduler creates a new Scheduler
func NewScheduler(store *repository.ScheduleRepository, mailboxes mailbox.Factory, labels mailbox.LabelNames, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		store:     store,
		mailboxes: mailboxes,
		labels:    labels,
		metrics:   m,
	}
}

func (s *Scheduler) applierFor(ctx context.Context, owner string) (*mailbox.Applier, error) {
	store, err := s.mailboxes.ForOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to open mailbox: %w", err)
	}
	return mailbox.NewApplier(store, s.labels), nil
}

// ScheduleMessage validates the request, replaces any pending schedule of
// the pair with a new record and labels the message as scheduled. The store
// transaction is rolled back when the label change fails.
func (s *Scheduler) ScheduleMessage(ctx context.Context, now time.Time, req ScheduleRequest) (*model.ScheduleRecord, error) {
	now = now.UTC()
	log := logrus.WithFields(logrus.Fields{
		"owner":       req.Owner,
		"message_ref": req.MessageRef,
	})

	if req.Owner == "" {
		return nil, ErrAuthMissing
	}
	if !mailbox.IsValidMessageRef(req.MessageRef) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReference, req.MessageRef)
	}

	applier, err := s.applierFor(ctx, req.Owner)
	if err != nil {
		return nil, err
	}

	_, found, err := applier.GetMessage(ctx, req.MessageRef)
	if errors.Is(err, mailbox.ErrMalformed) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReference, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchedulingFailed, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, req.MessageRef)
	}

	opts := model.NewOptionSet(req.Options...)
	if !opts.HasAction() {
		return nil, ErrNoActionSpecified
	}

	dueAt, err := ParseWhen(req.When, now)
	if err != nil {
		return nil, err
	}

	record := model.NewScheduleRecord(req.Owner, req.MessageRef, now, dueAt, opts)
	var canceled []*model.ScheduleRecord

	err = s.store.Transaction(ctx, func(tx *repository.ScheduleRepository) error {
		pending, err := tx.FindUnprocessed(ctx, req.Owner, req.MessageRef)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStoringFailed, err)
		}

		batch := make([]*model.ScheduleRecord, 0, len(pending)+1)
		for _, old := range pending {
			if err := old.Finalize(model.StatusCanceled, now); err != nil {
				return fmt.Errorf("%w: %w", ErrStoringFailed, err)
			}
			batch = append(batch, old)
		}
		batch = append(batch, record)

		if err := tx.WriteAll(ctx, batch); err != nil {
			return fmt.Errorf("%w: %w", ErrStoringFailed, err)
		}

		if err := applier.ApplySchedule(ctx, req.MessageRef, opts.Has(model.OptionArchiveAfterScheduling)); err != nil {
			return fmt.Errorf("%w: %w", ErrSchedulingFailed, err)
		}

		canceled = pending
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("Failed to schedule message")
		return nil, err
	}

	s.metrics.SchedulesCreated.Inc()
	s.metrics.SchedulesCanceled.Add(float64(len(canceled)))
	s.metrics.PendingSchedules.Add(float64(1 - len(canceled)))

	log.WithFields(logrus.Fields{
		"record_id":  record.ID,
		"due_at":     record.DueAt,
		"options":    record.Options.String(),
		"superseded": len(canceled),
	}).Info("Message scheduled")
	return record, nil
}

// CancelSchedule cancels the pending schedule of a message and puts the
// message back in the inbox.
func (s *Scheduler) CancelSchedule(ctx context.Context, now time.Time, owner, messageRef string) ([]*model.ScheduleRecord, error) {
	now = now.UTC()
	log := logrus.WithFields(logrus.Fields{
		"owner":       owner,
		"message_ref": messageRef,
	})

	if owner == "" {
		return nil, ErrAuthMissing
	}
	if !mailbox.IsValidMessageRef(messageRef) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReference, messageRef)
	}

	applier, err := s.applierFor(ctx, owner)
	if err != nil {
		return nil, err
	}

	var canceled []*model.ScheduleRecord
	err = s.store.Transaction(ctx, func(tx *repository.ScheduleRepository) error {
		pending, err := tx.FindUnprocessed(ctx, owner, messageRef)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStoringFailed, err)
		}
		if len(pending) == 0 {
			return ErrNoPendingSchedule
		}

		for _, rec := range pending {
			if err := rec.Finalize(model.StatusCanceled, now); err != nil {
				return fmt.Errorf("%w: %w", ErrStoringFailed, err)
			}
		}
		if err := tx.WriteAll(ctx, pending); err != nil {
			return fmt.Errorf("%w: %w", ErrStoringFailed, err)
		}

		scheduledID, err := applier.ScheduledLabelID(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSchedulingFailed, err)
		}
		err = applier.Restore(ctx, messageRef, scheduledID)
		if errors.Is(err, mailbox.ErrNotFound) {
			log.Info("Canceled schedule of a message that no longer exists")
			err = nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSchedulingFailed, err)
		}

		canceled = pending
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNoPendingSchedule) {
			log.WithError(err).Warn("Failed to cancel schedule")
		}
		return nil, err
	}

	s.metrics.SchedulesCanceled.Add(float64(len(canceled)))
	s.metrics.PendingSchedules.Sub(float64(len(canceled)))

	log.WithField("canceled", len(canceled)).Info("Schedule canceled")
	return canceled, nil
}
