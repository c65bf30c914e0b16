package runtime

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/haltalk/internal/runtime/engine"
	"github.com/drblury/haltalk/internal/wire"
)

const metricsNamespace = "haltalk"

// metricsObserver exports engine activity to Prometheus.
type metricsObserver struct {
	broadcasts   *prometheus.CounterVec
	requests     *prometheus.CounterVec
	activeTopics *prometheus.GaugeVec
	scanDuration *prometheus.HistogramVec
	cachedItems  prometheus.Gauge
}

func newMetricsObserver(reg prometheus.Registerer) (*metricsObserver, error) {
	m := &metricsObserver{
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcasts_total",
			Help:      "Envelopes published on status topics.",
		}, []string{"channel", "type"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Command requests served, by message type and result.",
		}, []string{"type", "result"}),
		activeTopics: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_topics",
			Help:      "Topics with at least one subscriber.",
		}, []string{"channel"}),
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "scan_duration_seconds",
			Help:      "Time spent comparing watched items against the store.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		}, []string{"channel"}),
		cachedItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "cached_items",
			Help:      "Items in the name and handle cache.",
		}),
	}

	var err error
	m.broadcasts = register(reg, m.broadcasts, &err)
	m.requests = register(reg, m.requests, &err)
	m.activeTopics = register(reg, m.activeTopics, &err)
	m.scanDuration = register(reg, m.scanDuration, &err)
	m.cachedItems = register(reg, m.cachedItems, &err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing a collector that is already registered
// under the same description. The first failure sticks in errp.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if *errp != nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errp = err
	}
	return c
}

func (m *metricsObserver) Broadcast(ch engine.Channel, mt wire.MessageType) {
	m.broadcasts.WithLabelValues(string(ch), mt.String()).Inc()
}

func (m *metricsObserver) Request(mt wire.MessageType, result string) {
	m.requests.WithLabelValues(mt.String(), result).Inc()
}

func (m *metricsObserver) ActiveTopics(ch engine.Channel, n int) {
	m.activeTopics.WithLabelValues(string(ch)).Set(float64(n))
}

func (m *metricsObserver) ScanDuration(ch engine.Channel, d time.Duration) {
	m.scanDuration.WithLabelValues(string(ch)).Observe(d.Seconds())
}

func (m *metricsObserver) CachedItems(n int) {
	m.cachedItems.Set(float64(n))
}
