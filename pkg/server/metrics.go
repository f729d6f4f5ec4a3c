package server

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "udpchat"

// Metrics holds the server's Prometheus collectors. Each Server owns its
// own registry so tests can run servers side by side.
type Metrics struct {
	startTime time.Time
	registry  *prometheus.Registry

	FramesIn        prometheus.Counter
	BytesIn         prometheus.Counter
	FramesOut       prometheus.Counter
	FramesDropped   *prometheus.CounterVec // by reason
	SendErrors      prometheus.Counter
	Evictions       prometheus.Counter
	SessionsCreated prometheus.Counter
	SessionsExpired prometheus.Counter
	Disconnects     prometheus.Counter

	AuthAttempts   *prometheus.CounterVec // by action, result
	ChatMessages   prometheus.Counter
	DirectMessages *prometheus.CounterVec // by outcome
	GroupMessages  prometheus.Counter
	GroupChanges   *prometheus.CounterVec // by action, result
	FileOffers     *prometheus.CounterVec // by state
}

// NewMetrics creates the collectors and registers them on a fresh registry.
func NewMetrics() *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help}, labels)
	}

	m := &Metrics{
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),

		FramesIn:        counter("frames_in_total", "Datagrams received."),
		BytesIn:         counter("bytes_in_total", "Bytes received over UDP."),
		FramesOut:       counter("frames_out_total", "Datagrams sent."),
		FramesDropped:   counterVec("frames_dropped_total", "Datagrams dropped without a reply.", "reason"),
		SendErrors:      counter("send_errors_total", "Datagram sends that failed."),
		Evictions:       counter("evictions_total", "Sessions removed after a failed send."),
		SessionsCreated: counter("sessions_created_total", "Sessions registered."),
		SessionsExpired: counter("sessions_expired_total", "Sessions removed by the liveness sweep."),
		Disconnects:     counter("disconnects_total", "Explicit client disconnects."),

		AuthAttempts:   counterVec("auth_attempts_total", "Auth requests.", "action", "result"),
		ChatMessages:   counter("chat_messages_total", "All-chat messages relayed."),
		DirectMessages: counterVec("direct_messages_total", "Direct messages by outcome.", "outcome"),
		GroupMessages:  counter("group_messages_total", "Group messages fanned out."),
		GroupChanges:   counterVec("group_changes_total", "Group create/manage requests.", "action", "result"),
		FileOffers:     counterVec("file_offers_total", "File offers by state transition.", "state"),
	}

	m.registry.MustRegister(
		m.FramesIn, m.BytesIn, m.FramesOut, m.FramesDropped, m.SendErrors, m.Evictions,
		m.SessionsCreated, m.SessionsExpired, m.Disconnects,
		m.AuthAttempts, m.ChatMessages, m.DirectMessages, m.GroupMessages, m.GroupChanges, m.FileOffers,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "uptime_seconds", Help: "Server uptime in seconds.",
		}, func() float64 { return time.Since(m.startTime).Seconds() }),
	)
	return m
}

// observe registers gauges that read live state from the registry and coordinator.
func (m *Metrics) observe(reg *Registry, offers *Coordinator) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "sessions_active", Help: "Live sessions.",
		}, func() float64 { return float64(reg.Count()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "file_offers_pending", Help: "Unanswered file offers.",
		}, func() float64 { return float64(offers.Pending()) }),
	)
}

// Registry exposes the Prometheus registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Totals gathers every metric family and sums its samples, keyed by the
// family name without the namespace prefix.
func (m *Metrics) Totals() map[string]float64 {
	families, err := m.registry.Gather()
	if err != nil {
		slog.Warn("gather metrics", "err", err)
	}
	out := make(map[string]float64, len(families))
	for _, mf := range families {
		var sum float64
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				sum += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				sum += metric.GetGauge().GetValue()
			}
		}
		out[mf.GetName()[len(metricsNamespace)+1:]] = sum
	}
	return out
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	t := m.Totals()
	slog.Info("metrics",
		"uptime", time.Since(m.startTime).Truncate(time.Second).String(),
		"sessions", int64(t["sessions_active"]),
		"frames_in", int64(t["frames_in_total"]),
		"frames_out", int64(t["frames_out_total"]),
		"frames_dropped", int64(t["frames_dropped_total"]),
		"evictions", int64(t["evictions_total"]),
		"chat_msgs", int64(t["chat_messages_total"]),
		"dms", int64(t["direct_messages_total"]),
		"offers_pending", int64(t["file_offers_pending"]),
	)
}
