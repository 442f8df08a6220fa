package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for the call intake pipeline.
// All methods tolerate a nil receiver so wiring stays optional in tests.
type PipelineMetrics struct {
	routeDecisions *prometheus.CounterVec
	transcriptions *prometheus.CounterVec
	reminders      *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		routeDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flynn",
			Subsystem: "intake",
			Name:      "route_decisions_total",
			Help:      "Inbound call routing decisions",
		}, []string{"route", "reason"}),
		transcriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flynn",
			Subsystem: "intake",
			Name:      "transcriptions_total",
			Help:      "Recording transcription outcomes",
		}, []string{"outcome"}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flynn",
			Subsystem: "reminders",
			Name:      "dispatch_total",
			Help:      "Reminder dispatch outcomes",
		}, []string{"outcome"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flynn",
			Subsystem: "intake",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of telephony webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.routeDecisions, m.transcriptions, m.reminders, m.webhookLatency)
	return m
}

func (m *PipelineMetrics) ObserveRoute(route, reason string) {
	if m == nil {
		return
	}
	m.routeDecisions.WithLabelValues(route, reason).Inc()
}

func (m *PipelineMetrics) ObserveTranscription(outcome string) {
	if m == nil {
		return
	}
	m.transcriptions.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) ObserveReminder(outcome string) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) ObserveWebhookLatency(endpoint string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(endpoint).Observe(seconds)
}
