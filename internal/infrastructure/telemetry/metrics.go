// Package telemetry provides Prometheus metrics and OpenTelemetry tracing helpers.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	FramesParsed     *prometheus.CounterVec
	FramesRejected   prometheus.Counter
	CommandsExecuted *prometheus.CounterVec
	CommandDenials   *prometheus.CounterVec
	PubSubReconnects prometheus.Counter
	PubSubMessages   *prometheus.CounterVec
	HandlerPanics    prometheus.Counter
	BusDrops         *prometheus.CounterVec
	TaskDrops        *prometheus.CounterVec

	// Histograms (seconds)
	RateLimitWait *prometheus.HistogramVec

	// Gauges
	ActivePolls  prometheus.Gauge
	ActiveTimers prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		FramesParsed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_irc_frames_total", Help: "Inbound IRC frames by event kind"}, []string{"kind"})
		FramesRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_irc_frames_rejected_total", Help: "Inbound IRC frames dropped for exceeding the size limit"})
		CommandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_commands_executed_total", Help: "Commands executed by full name"}, []string{"command"})
		CommandDenials = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_command_denials_total", Help: "Command invocations rejected by a gate"}, []string{"reason"})
		PubSubReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_pubsub_reconnects_total", Help: "PubSub reconnect attempts"})
		PubSubMessages = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_pubsub_messages_total", Help: "PubSub messages by kind"}, []string{"kind"})
		HandlerPanics = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_handler_panics_total", Help: "Recovered panics in handler tasks"})
		BusDrops = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_bus_drops_total", Help: "Event bus messages dropped for slow subscribers"}, []string{"topic"})
		TaskDrops = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_task_drops_total", Help: "Handler tasks dropped before running"}, []string{"reason"})
		RateLimitWait = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "bot_ratelimit_wait_seconds", Help: "Time spent waiting for outbound capacity", Buckets: prometheus.DefBuckets}, []string{"queue"})
		ActivePolls = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_active_polls", Help: "Polls currently running"})
		ActiveTimers = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_active_timers", Help: "Message timers currently running"})
	})
}

// The helpers below are no-ops until Init has run, so packages and tests can
// call them unconditionally.

func ObserveFrame(kind string) {
	if FramesParsed != nil {
		FramesParsed.WithLabelValues(kind).Inc()
	}
}

func FrameRejected() {
	if FramesRejected != nil {
		FramesRejected.Inc()
	}
}

func CommandExecuted(name string) {
	if CommandsExecuted != nil {
		CommandsExecuted.WithLabelValues(name).Inc()
	}
}

func CommandDenied(reason string) {
	if CommandDenials != nil {
		CommandDenials.WithLabelValues(reason).Inc()
	}
}

func PubSubReconnect() {
	if PubSubReconnects != nil {
		PubSubReconnects.Inc()
	}
}

func PubSubMessage(kind string) {
	if PubSubMessages != nil {
		PubSubMessages.WithLabelValues(kind).Inc()
	}
}

func HandlerPanic() {
	if HandlerPanics != nil {
		HandlerPanics.Inc()
	}
}

func BusDrop(topic string) {
	if BusDrops != nil {
		BusDrops.WithLabelValues(topic).Inc()
	}
}

func TaskDropped(reason string) {
	if TaskDrops != nil {
		TaskDrops.WithLabelValues(reason).Inc()
	}
}

func ObserveRateLimitWait(queue string, d time.Duration) {
	if RateLimitWait != nil {
		RateLimitWait.WithLabelValues(queue).Observe(d.Seconds())
	}
}

func SetActivePolls(n int) {
	if ActivePolls != nil {
		ActivePolls.Set(float64(n))
	}
}

func SetActiveTimers(n int) {
	if ActiveTimers != nil {
		ActiveTimers.Set(float64(n))
	}
}
