// Package metrics はバッチ実行の進行状況を Prometheus のメトリクスとして公開します。
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shop1gableo-creator/dropetsy-studio/pkg/batch"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/domain"
)

const namespace = "studio"

// Collector はスケジューラのイベントを受け取ってメトリクスを更新する batch.Observer です。
type Collector struct {
	batches  prometheus.Counter
	waves    prometheus.Counter
	tasks    *prometheus.CounterVec
	inFlight prometheus.Gauge
	duration prometheus.Histogram
}

// NewCollector はメトリクスを生成して reg に登録します。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Number of batches started.",
		}),
		waves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waves_total",
			Help:      "Number of scheduler waves started.",
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Number of settled task units by status.",
		}, []string{"status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Number of task units currently awaiting the image API.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall-clock duration of a batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	reg.MustRegister(c.batches, c.waves, c.tasks, c.inFlight, c.duration)
	return c
}

func (c *Collector) BatchStarted(context.Context, string, int) {
	c.batches.Inc()
}

func (c *Collector) WaveStarted(context.Context, string, batch.Wave) {
	c.waves.Inc()
}

func (c *Collector) UnitStarted(_ context.Context, _ string, _ domain.TaskUnit, inFlight int) {
	c.inFlight.Set(float64(inFlight))
}

func (c *Collector) UnitSettled(_ context.Context, _ string, result domain.TaskResult, inFlight int) {
	c.tasks.WithLabelValues(string(result.Status)).Inc()
	c.inFlight.Set(float64(inFlight))
}

func (c *Collector) BatchFinished(_ context.Context, _ string, s batch.Summary) {
	c.duration.Observe(s.Duration.Seconds())
	c.inFlight.Set(0)
}

var _ batch.Observer = (*Collector)(nil)
