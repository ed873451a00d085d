package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"mailfred-go/internal/model"
)

func TestNewMetricsRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SchedulesCreated.Inc()
	m.Processed.WithLabelValues(string(model.StatusAnswered)).Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SchedulesCreated))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Processed.WithLabelValues(string(model.StatusAnswered))))
	assert.Equal(t, len(model.TerminalStatuses), testutil.CollectAndCount(m.Processed))

	// A second set on a fresh registry must not collide.
	assert.NotPanics(t, func() { NewMetrics(prometheus.NewRegistry()) })
}
