package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mailfred-go/internal/mailbox"
	"mailfred-go/internal/metrics"
	"mailfred-go/internal/model"
	"mailfred-go/internal/repository"
)

// DueStore is the part of the schedule store a processing run needs.
type DueStore interface {
	FindDueUnprocessed(ctx context.Context, asOf time.Time) iter.Seq2[*model.ScheduleRecord, error]
	WriteAll(ctx context.Context, records []*model.ScheduleRecord) error
	CountPending(ctx context.Context) (int64, error)
}

// RunSummary describes one processing run.
type RunSummary struct {
	RunID         string               `json:"run_id"`
	Attempted     int                  `json:"attempted"`
	ByStatus      map[model.Status]int `json:"by_status"`
	WriteFailures int                  `json:"write_failures"`
	LostRaces     int                  `json:"lost_races"`
	Deferred      int                  `json:"deferred"`
	Duration      time.Duration        `json:"duration"`
}

// Processor executes due schedules.
type Processor struct {
	store     DueStore
	mailboxes mailbox.Factory
	labels    mailbox.LabelNames
	metrics   *metrics.Metrics
}

// NewProcessor creates a new Processor
func NewProcessor(store DueStore, mailboxes mailbox.Factory, labels mailbox.LabelNames, m *metrics.Metrics) *Processor {
	return &Processor{
		store:     store,
		mailboxes: mailboxes,
		labels:    labels,
		metrics:   m,
	}
}

type ownerMailbox struct {
	applier *mailbox.Applier
	err     error
}

// RunDueProcessing handles every record due at now. A failure on one record,
// including failing to store its outcome, is logged and never stops the run.
// The returned error is only set when the due records could not be queried.
func (p *Processor) RunDueProcessing(ctx context.Context, now time.Time) (*RunSummary, error) {
	now = now.UTC()
	start := time.Now()
	summary := &RunSummary{
		RunID:    uuid.NewString(),
		ByStatus: make(map[model.Status]int),
	}
	log := logrus.WithField("run_id", summary.RunID)
	log.WithField("as_of", now).Info("Starting processing run")

	defer func() {
		summary.Duration = time.Since(start)
		p.metrics.RunDuration.Observe(summary.Duration.Seconds())
	}()

	// Appliers live for one run so each owner's labels are listed once.
	mailboxes := make(map[string]*ownerMailbox)

	for rec, err := range p.store.FindDueUnprocessed(ctx, now) {
		if err != nil {
			log.WithError(err).Error("Failed to query due records")
			return summary, fmt.Errorf("failed to query due records: %w", err)
		}
		summary.Attempted++

		recLog := log.WithFields(logrus.Fields{
			"record_id":   rec.ID,
			"owner":       rec.Owner,
			"message_ref": rec.MessageRef,
		})

		status, procErr := p.processRecord(ctx, rec, mailboxes)
		if errors.Is(procErr, mailbox.ErrUnavailable) {
			// Left pending; the next run retries it.
			recLog.WithError(procErr).Warn("Mailbox unavailable, record deferred")
			summary.Deferred++
			p.metrics.Deferred.Inc()
			continue
		}
		if procErr != nil {
			recLog.WithError(procErr).Warn("Failed to process record")
		}

		if err := rec.Finalize(status, now); err != nil {
			recLog.WithError(err).Error("Failed to finalize record")
			summary.WriteFailures++
			p.metrics.WriteFailures.Inc()
			continue
		}

		err := p.store.WriteAll(ctx, []*model.ScheduleRecord{rec})
		switch {
		case errors.Is(err, repository.ErrAlreadyFinalized):
			recLog.WithField("status", status).Warn("Record was finalized concurrently, outcome discarded")
			summary.LostRaces++
			p.metrics.LostRaces.Inc()
			continue
		case err != nil:
			recLog.WithError(err).WithField("status", status).Error("Failed to store processing outcome")
			summary.WriteFailures++
			p.metrics.WriteFailures.Inc()
			continue
		}

		summary.ByStatus[status]++
		p.metrics.Processed.WithLabelValues(string(status)).Inc()
		recLog.WithField("status", status).Info("Record processed")
	}

	if pending, err := p.store.CountPending(ctx); err != nil {
		log.WithError(err).Warn("Failed to count pending records")
	} else {
		p.metrics.PendingSchedules.Set(float64(pending))
	}

	log.WithFields(logrus.Fields{
		"attempted":      summary.Attempted,
		"by_status":      summary.ByStatus,
		"write_failures": summary.WriteFailures,
		"lost_races":     summary.LostRaces,
		"deferred":       summary.Deferred,
	}).Info("Processing run completed")
	return summary, nil
}

func (p *Processor) mailboxFor(ctx context.Context, owner string, cache map[string]*ownerMailbox) (*mailbox.Applier, error) {
	if mb, ok := cache[owner]; ok {
		return mb.applier, mb.err
	}

	mb := &ownerMailbox{}
	store, err := p.mailboxes.ForOwner(ctx, owner)
	if err != nil {
		mb.err = fmt.Errorf("failed to open mailbox: %w", err)
	} else {
		mb.applier = mailbox.NewApplier(store, p.labels)
	}
	cache[owner] = mb
	return mb.applier, mb.err
}

// processRecord decides the terminal status of one due record. Every error,
// and any panic, maps to errored. Callers must check for
// mailbox.ErrUnavailable first: such records get no terminal status.
func (p *Processor) processRecord(ctx context.Context, rec *model.ScheduleRecord, cache map[string]*ownerMailbox) (status model.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			status = model.StatusErrored
			err = fmt.Errorf("panic while processing record: %v", r)
		}
	}()

	applier, err := p.mailboxFor(ctx, rec.Owner, cache)
	if err != nil {
		return model.StatusErrored, err
	}

	msg, found, err := applier.GetMessage(ctx, rec.MessageRef)
	if err != nil {
		return model.StatusErrored, err
	}
	if !found {
		return model.StatusNotFound, nil
	}

	scheduledID, err := applier.ScheduledLabelID(ctx)
	if err != nil {
		return model.StatusErrored, err
	}
	if !msg.HasLabel(scheduledID) {
		return model.StatusLabelRemoved, nil
	}

	if rec.Options.Has(model.OptionOnlyIfNoReply) {
		last, err := applier.IsLastInThread(ctx, msg)
		if err != nil {
			return model.StatusErrored, err
		}
		if !last {
			return model.StatusAnswered, nil
		}
	}

	if err := applier.ApplyProcessing(ctx, rec.MessageRef, rec.Options, scheduledID); err != nil {
		return model.StatusErrored, err
	}
	return model.StatusProcessedOK, nil
}
