package infra

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	log "github.com/sirupsen/logrus"
)

const (
	metricsNamespace = "simba"
	metricsSubsystem = "submission"
)

// Outcome routes, used as the "route" label
const (
	routeConfirmed        = "confirmed"
	routeTransactionError = "transaction_error"
	routeQueueError       = "queue_error"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Submissions  prometheus.Counter
	Conflicts    prometheus.Counter
	OuterRetries prometheus.Counter
	Outcomes     *prometheus.CounterVec
	QueueDepth   prometheus.Gauge
	WaitDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		Submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "signed_submissions_total",
			Help:      "Signed payloads submitted to the service.",
		}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "nonce_conflicts_total",
			Help:      "Submissions rejected with a nonce conflict.",
		}),
		OuterRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "descriptor_retries_total",
			Help:      "Fresh descriptors requested after a conflict.",
		}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "queued_outcomes_total",
			Help:      "Handler invocations of the ordered queue by route.",
		}, []string{"route"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "queue_depth",
			Help:      "Calls waiting in the ordered queue.",
		}),
		WaitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "state_wait_seconds",
			Help:      "Time spent waiting for a transaction to reach its target state.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}),
	}
}

// Register registers every collector with r
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.Submissions, m.Conflicts, m.OuterRetries, m.Outcomes, m.QueueDepth, m.WaitDuration,
	} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) addSubmission() {
	if m != nil {
		m.Submissions.Inc()
	}
}

func (m *Metrics) addConflict() {
	if m != nil {
		m.Conflicts.Inc()
	}
}

func (m *Metrics) addOuterRetry() {
	if m != nil {
		m.OuterRetries.Inc()
	}
}

func (m *Metrics) addOutcome(route string) {
	if m != nil {
		m.Outcomes.WithLabelValues(route).Inc()
	}
}

func (m *Metrics) setQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

func (m *Metrics) observeWait(seconds float64) {
	if m != nil {
		m.WaitDuration.Observe(seconds)
	}
}

// Outcome returns how many queued calls ended on the given route
func (m *Metrics) Outcome(route string) float64 {
	if m == nil {
		return 0
	}
	return getMetricVal(m.Outcomes.WithLabelValues(route))
}

func getMetricVal(collector prometheus.Collector) float64 {
	collectorChannel := make(chan prometheus.Metric, 1)
	collector.Collect(collectorChannel)
	metric := dto.Metric{}
	if err := (<-collectorChannel).Write(&metric); err != nil {
		log.Errorf("error writing metric: %s", err)
	}
	if metric.Counter != nil {
		return metric.Counter.GetValue()
	} else if metric.Gauge != nil {
		return metric.Gauge.GetValue()
	}
	return 0
}
