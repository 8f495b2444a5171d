// Package metrics exposes Prometheus collectors for the bot.
//
// *Metrics satisfies the observer interfaces of registry, dispatch, command
// and transport, so components stay unaware of Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"meshmate/internal/schedule"
)

const namespace = "meshmate"

type Metrics struct {
	BotInfo *prometheus.GaugeVec

	MessagesReceived *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	SendFailures     *prometheus.CounterVec

	CommandsProcessed *prometheus.CounterVec
	CommandsFailed    *prometheus.CounterVec
	CommandDuration   *prometheus.HistogramVec

	TransportConnected prometheus.Gauge

	ScheduledActive   prometheus.Gauge
	ScheduledExecuted *prometheus.CounterVec
	StoreFailures     *prometheus.CounterVec
	DispatchTick      prometheus.Histogram

	HTTPRequests *prometheus.CounterVec
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer, version string) (*Metrics, error) {
	m := &Metrics{
		BotInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "bot_info",
			Help: "MeshMate bot information.",
		}, []string{"version", "name"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_received_total",
			Help: "Total number of messages received.",
		}, []string{"channel"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_sent_total",
			Help: "Total number of messages sent.",
		}, []string{"channel"}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "send_failures_total",
			Help: "Total number of failed sends.",
		}, []string{"channel"}),
		CommandsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_processed_total",
			Help: "Total number of commands processed.",
		}, []string{"command"}),
		CommandsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_failed_total",
			Help: "Total number of failed commands.",
		}, []string{"command"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "command_duration_seconds",
			Help:    "Time spent processing commands.",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 20},
		}, []string{"command"}),
		TransportConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "transport_connected",
			Help: "Radio transport status (1=connected, 0=disconnected).",
		}),
		ScheduledActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "scheduled_tasks_total",
			Help: "Number of active scheduled tasks.",
		}),
		ScheduledExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "scheduled_tasks_executed_total",
			Help: "Total number of executed scheduled tasks.",
		}, []string{"kind", "result"}),
		StoreFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "store_failures_total",
			Help: "Total number of schedule persistence failures.",
		}, []string{"op"}),
		DispatchTick: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "dispatch_tick_seconds",
			Help:    "Duration of one dispatch loop tick.",
			Buckets: []float64{.001, .01, .1, .5, 1, 5, 30, 60},
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "Total number of HTTP API requests.",
		}, []string{"endpoint", "method", "status"}),
	}

	for _, c := range []prometheus.Collector{
		m.BotInfo, m.MessagesReceived, m.MessagesSent, m.SendFailures,
		m.CommandsProcessed, m.CommandsFailed, m.CommandDuration,
		m.TransportConnected, m.ScheduledActive, m.ScheduledExecuted,
		m.StoreFailures, m.DispatchTick, m.HTTPRequests,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	m.BotInfo.WithLabelValues(version, "MeshMate").Set(1)
	return m, nil
}

func channelLabel(ch int) string { return "channel_" + strconv.Itoa(ch) }

func (m *Metrics) MessageReceived(channel int) {
	m.MessagesReceived.WithLabelValues(channelLabel(channel)).Inc()
}

func (m *Metrics) MessageSent(channel int, err error) {
	if err != nil {
		m.SendFailures.WithLabelValues(channelLabel(channel)).Inc()
		return
	}
	m.MessagesSent.WithLabelValues(channelLabel(channel)).Inc()
}

func (m *Metrics) CommandHandled(name string, took time.Duration, err error) {
	m.CommandsProcessed.WithLabelValues(name).Inc()
	m.CommandDuration.WithLabelValues(name).Observe(took.Seconds())
	if err != nil {
		m.CommandsFailed.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) StoreFailure(op string) { m.StoreFailures.WithLabelValues(op).Inc() }

func (m *Metrics) ActiveSchedules(n int) { m.ScheduledActive.Set(float64(n)) }

func (m *Metrics) TickObserved(took time.Duration) { m.DispatchTick.Observe(took.Seconds()) }

func (m *Metrics) Executed(d schedule.Due, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ScheduledExecuted.WithLabelValues(d.Content.Kind.String(), result).Inc()
}

func (m *Metrics) SetConnected(ok bool) {
	if ok {
		m.TransportConnected.Set(1)
		return
	}
	m.TransportConnected.Set(0)
}

func (m *Metrics) HTTPRequest(endpoint, method string, status int) {
	m.HTTPRequests.WithLabelValues(endpoint, method, strconv.Itoa(status)).Inc()
}
