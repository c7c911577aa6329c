package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"ErrandDispatchPlatform/pkg/metrics"
)

// DispatchMetrics содержит метрики диспетчеризации поверх базовых HTTP метрик
type DispatchMetrics struct {
	base *metrics.Metrics

	transitions     *prometheus.CounterVec
	casConflicts    prometheus.Counter
	positionReports *prometheus.CounterVec
	onlineWorkers   prometheus.Gauge
	events          *prometheus.CounterVec
}

// NewDispatchMetrics регистрирует метрики в reg
func NewDispatchMetrics(serviceName string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *DispatchMetrics {
	m := &DispatchMetrics{
		base: metrics.NewMetrics(serviceName, reg, gatherer),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: serviceName,
				Subsystem: "dispatch",
				Name:      "transitions_total",
				Help:      "Task status transitions by result",
			},
			[]string{"from", "to", "result"},
		),
		casConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: serviceName,
				Subsystem: "dispatch",
				Name:      "cas_conflicts_total",
				Help:      "Conditional task writes lost to a concurrent writer",
			},
		),
		positionReports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: serviceName,
				Subsystem: "location",
				Name:      "position_reports_total",
				Help:      "Worker position reports by result",
			},
			[]string{"result"},
		),
		onlineWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: serviceName,
				Subsystem: "location",
				Name:      "online_workers",
				Help:      "Approximate number of online workers seen by this instance",
			},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: serviceName,
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Task events sent to the notification channel by result",
			},
			[]string{"routing_key", "result"},
		),
	}

	m.transitions = metrics.MustRegister(reg, m.transitions)
	m.casConflicts = metrics.MustRegister(reg, m.casConflicts)
	m.positionReports = metrics.MustRegister(reg, m.positionReports)
	m.onlineWorkers = metrics.MustRegister(reg, m.onlineWorkers)
	m.events = metrics.MustRegister(reg, m.events)

	return m
}

// Base возвращает базовые HTTP метрики и трейсер
func (m *DispatchMetrics) Base() *metrics.Metrics {
	return m.base
}

func (m *DispatchMetrics) RecordTransition(from, to, result string) {
	m.transitions.WithLabelValues(from, to, result).Inc()
}

func (m *DispatchMetrics) RecordConflict() {
	m.casConflicts.Inc()
}

func (m *DispatchMetrics) RecordPositionReport(result string) {
	m.positionReports.WithLabelValues(result).Inc()
}

// WorkerOnlineChanged сдвигает gauge при смене признака онлайн
func (m *DispatchMetrics) WorkerOnlineChanged(wasOnline, isOnline bool) {
	switch {
	case !wasOnline && isOnline:
		m.onlineWorkers.Inc()
	case wasOnline && !isOnline:
		m.onlineWorkers.Dec()
	}
}

func (m *DispatchMetrics) RecordEvent(routingKey, result string) {
	m.events.WithLabelValues(routingKey, result).Inc()
}
