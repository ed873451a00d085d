package service

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"mailfred-go/internal/config"
	"mailfred-go/internal/db"
	"mailfred-go/internal/mailbox"
	"mailfred-go/internal/mailbox/mailboxtest"
	"mailfred-go/internal/metrics"
	"mailfred-go/internal/model"
	"mailfred-go/internal/repository"
)

const owner = "alice@example.com"

var (
	testNow    = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	testLabels = mailbox.LabelNames{Base: "MailFred", Scheduled: "MailFred/Scheduled"}
)

type fixture struct {
	repo       *repository.ScheduleRepository
	mailboxes  *mailboxtest.Factory
	metrics    *metrics.Metrics
	scheduler  *Scheduler
	processor  *Processor
	reconciler *Reconciler
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	conn, err := db.Init(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "service.db"),
	})
	require.NoError(t, err)

	f := &fixture{
		repo:      repository.NewScheduleRepository(conn),
		mailboxes: mailboxtest.NewFactory(),
		metrics:   metrics.NewMetrics(prometheus.NewRegistry()),
	}
	f.scheduler = NewScheduler(f.repo, f.mailboxes, testLabels, f.metrics)
	f.processor = NewProcessor(f.repo, f.mailboxes, testLabels, f.metrics)
	f.reconciler = NewReconciler(f.repo, f.mailboxes, testLabels, config.ReconcileConfig{BatchSize: 5}, f.metrics)
	return f
}

func (f *fixture) mailbox(o string) *mailboxtest.Store {
	return f.mailboxes.Store(o)
}

// scheduledLabel returns the id of the scheduled label in owner's mailbox,
// creating it like the Applier would.
func (f *fixture) scheduledLabel(t testing.TB, o string) string {
	t.Helper()
	id, err := mailbox.NewApplier(f.mailbox(o), testLabels).ScheduledLabelID(context.Background())
	require.NoError(t, err)
	return id
}

func (f *fixture) baseLabel(t testing.TB, o string) string {
	t.Helper()
	id, err := mailbox.NewApplier(f.mailbox(o), testLabels).BaseLabelID(context.Background())
	require.NoError(t, err)
	return id
}

func (f *fixture) schedule(t testing.TB, o, ref string, due time.Duration, opts ...model.Option) *model.ScheduleRecord {
	t.Helper()
	rec, err := f.scheduler.ScheduleMessage(context.Background(), testNow, ScheduleRequest{
		Owner:      o,
		MessageRef: ref,
		When:       delta(due),
		Options:    opts,
	})
	require.NoError(t, err)
	return rec
}

func (f *fixture) pending(t testing.TB, o, ref string) []*model.ScheduleRecord {
	t.Helper()
	recs, err := f.repo.FindUnprocessed(context.Background(), o, ref)
	require.NoError(t, err)
	return recs
}

func (f *fixture) all(t testing.TB, o string) map[uint]model.ScheduleRecord {
	t.Helper()
	recs, _, err := f.repo.ListForOwner(context.Background(), o, false, 0, 1000)
	require.NoError(t, err)
	out := make(map[uint]model.ScheduleRecord, len(recs))
	for _, r := range recs {
		out[r.ID] = r
	}
	return out
}

func delta(d time.Duration) string {
	return fmt.Sprintf("delta:%d", d.Milliseconds())
}

func ref(i int) string {
	return fmt.Sprintf("%016x", 0x18c0000000000000+i)
}
