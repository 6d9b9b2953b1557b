// Package metrics bundles the Prometheus collectors of the E2SM-NTN
// function. Every recording method is nil-safe so components can run
// without a collector in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Control message outcomes.
const (
	OutcomeAccepted        = "accepted"
	OutcomeDecodeError     = "decode_error"
	OutcomeValidationError = "validation_error"
	OutcomeExecuted        = "executed"
	OutcomeExecutionError  = "execution_error"
)

// Collector holds the E2SM-NTN metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	Indications         *prometheus.CounterVec
	ControlMessages     *prometheus.CounterVec
	SuppressedCycles    prometheus.Counter
	EvictedSessions     prometheus.Counter
	TransportFailures   prometheus.Counter
	ActiveSessions      prometheus.Gauge
	ActiveSubscriptions prometheus.Gauge
	EncodeDurations     *prometheus.HistogramVec
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil. Registering twice against the same registry returns
// the existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	indications, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "e2sm_ntn_indications_total",
		Help: "Indications emitted, labeled by report style, wire format and trigger.",
	}, []string{"style", "format", "trigger"}), "e2sm_ntn_indications_total")
	if err != nil {
		return nil, err
	}

	controlMessages, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "e2sm_ntn_control_messages_total",
		Help: "Inbound control messages, labeled by outcome.",
	}, []string{"outcome"}), "e2sm_ntn_control_messages_total")
	if err != nil {
		return nil, err
	}

	suppressed, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "e2sm_ntn_suppressed_cycles_total",
		Help: "Measurement cycles suppressed because the serving satellite was below the minimum elevation.",
	}), "e2sm_ntn_suppressed_cycles_total")
	if err != nil {
		return nil, err
	}

	evicted, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "e2sm_ntn_evicted_sessions_total",
		Help: "UE sessions removed by the idle timeout.",
	}), "e2sm_ntn_evicted_sessions_total")
	if err != nil {
		return nil, err
	}

	transportFailures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "e2sm_ntn_transport_failures_total",
		Help: "Encoded indications the transport failed to deliver.",
	}), "e2sm_ntn_transport_failures_total")
	if err != nil {
		return nil, err
	}

	sessions, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "e2sm_ntn_active_sessions",
		Help: "Currently registered UE sessions.",
	}), "e2sm_ntn_active_sessions")
	if err != nil {
		return nil, err
	}

	subscriptions, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "e2sm_ntn_active_subscriptions",
		Help: "Subscriptions that are subscribed or reporting.",
	}), "e2sm_ntn_active_subscriptions")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "e2sm_ntn_encode_duration_seconds",
		Help:    "Time spent encoding one indication.",
		Buckets: []float64{0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.005},
	}, []string{"format"}), "e2sm_ntn_encode_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:            gatherer,
		Indications:         indications,
		ControlMessages:     controlMessages,
		SuppressedCycles:    suppressed,
		EvictedSessions:     evicted,
		TransportFailures:   transportFailures,
		ActiveSessions:      sessions,
		ActiveSubscriptions: subscriptions,
		EncodeDurations:     durations,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (collector *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if collector != nil && collector.gatherer != nil {
		gatherer = collector.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveIndication counts one emitted indication and its encode time.
func (collector *Collector) ObserveIndication(style, format, trigger string, encodeTime time.Duration) {
	if collector == nil {
		return
	}
	collector.Indications.WithLabelValues(style, format, trigger).Inc()
	collector.EncodeDurations.WithLabelValues(format).Observe(encodeTime.Seconds())
}

// ObserveControl counts one control message outcome.
func (collector *Collector) ObserveControl(outcome string) {
	if collector == nil {
		return
	}
	collector.ControlMessages.WithLabelValues(outcome).Inc()
}

// ObserveSuppressed counts a below-minimum-elevation cycle.
func (collector *Collector) ObserveSuppressed() {
	if collector == nil {
		return
	}
	collector.SuppressedCycles.Inc()
}

// ObserveEvicted counts idle sessions removed in one sweep.
func (collector *Collector) ObserveEvicted(count int) {
	if collector == nil || count <= 0 {
		return
	}
	collector.EvictedSessions.Add(float64(count))
}

// ObserveTransportFailure counts one failed delivery.
func (collector *Collector) ObserveTransportFailure() {
	if collector == nil {
		return
	}
	collector.TransportFailures.Inc()
}

// SetActiveCounts updates the session and subscription gauges.
func (collector *Collector) SetActiveCounts(sessions, subscriptions int) {
	if collector == nil {
		return
	}
	collector.ActiveSessions.Set(float64(sessions))
	collector.ActiveSubscriptions.Set(float64(subscriptions))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, errors.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, errors.Wrapf(err, "register %s", name)
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, errors.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, errors.Wrapf(err, "register %s", name)
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, errors.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, errors.Wrapf(err, "register %s", name)
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, errors.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, errors.Wrapf(err, "register %s", name)
	}
	return gauge, nil
}
