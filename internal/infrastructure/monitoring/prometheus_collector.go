package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exposes bridge metrics. It satisfies both the
// signaling relay's and the coordinator's metrics interfaces.
type PrometheusCollector struct {
	sessionsActive    prometheus.Gauge
	sessionsTotal     prometheus.Counter
	candidatesDropped prometheus.Counter
	signalsRelayed    *prometheus.CounterVec

	pollCyclesTotal   *prometheus.CounterVec
	pollCycleDuration prometheus.Histogram
	reauthsTotal      prometheus.Counter

	deviceCommandsTotal *prometheus.CounterVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvmbridge_signal_sessions_active",
			Help: "Number of open video signaling sessions",
		}),

		sessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvmbridge_signal_sessions_total",
			Help: "Total number of video signaling sessions opened",
		}),

		candidatesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvmbridge_signal_candidates_dropped_total",
			Help: "ICE candidates dropped because the pending queue was full",
		}),

		signalsRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kvmbridge_signal_messages_relayed_total",
			Help: "Signaling messages relayed between viewers and the device",
		}, []string{"event"}),

		pollCyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kvmbridge_poll_cycles_total",
			Help: "Device poll cycles by outcome",
		}, []string{"result"}),

		pollCycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvmbridge_poll_cycle_duration_seconds",
			Help:    "Duration of successful device poll cycles",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		reauthsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvmbridge_device_reauthentications_total",
			Help: "Device sessions reestablished after token expiry",
		}),

		deviceCommandsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kvmbridge_device_commands_total",
			Help: "Control commands issued to the device by outcome",
		}, []string{"command", "result"}),
	}
}

func (p *PrometheusCollector) SessionOpened() {
	p.sessionsActive.Inc()
	p.sessionsTotal.Inc()
}

func (p *PrometheusCollector) SessionClosed() {
	p.sessionsActive.Dec()
}

func (p *PrometheusCollector) CandidateDropped() {
	p.candidatesDropped.Inc()
}

func (p *PrometheusCollector) SignalRelayed(event string) {
	p.signalsRelayed.WithLabelValues(event).Inc()
}

func (p *PrometheusCollector) CycleSucceeded(duration time.Duration) {
	p.pollCyclesTotal.WithLabelValues("success").Inc()
	p.pollCycleDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) CycleFailed() {
	p.pollCyclesTotal.WithLabelValues("failure").Inc()
}

func (p *PrometheusCollector) Reauthenticated() {
	p.reauthsTotal.Inc()
}

func (p *PrometheusCollector) RecordDeviceCommand(command string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	p.deviceCommandsTotal.WithLabelValues(command, result).Inc()
}
