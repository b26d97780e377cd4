package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is served at /metrics.
var Registry = prometheus.NewRegistry()

var (
	// FetchTotal counts finished fetches by stream and outcome
	// (updated, skipped_cached, fetch_failed).
	FetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bydpoller_fetch_total",
			Help: "Finished provider fetches by stream and outcome.",
		},
		[]string{"stream", "outcome"},
	)

	// FetchLatency records provider fetch duration.
	FetchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bydpoller_fetch_duration_seconds",
			Help:    "Duration of provider fetches.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stream"},
	)

	// CanonicalAdvanceTotal counts canonical freshness timestamp advances.
	CanonicalAdvanceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bydpoller_canonical_advance_total",
			Help: "Number of material changes that advanced a canonical timestamp.",
		},
		[]string{"stream"},
	)

	// InflightSkipTotal counts due-checks that found the stream still fetching.
	InflightSkipTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bydpoller_inflight_skip_total",
			Help: "Ticks skipped because a fetch for the stream was still in flight.",
		},
		[]string{"stream"},
	)

	// PollInterval exposes the effective interval per vehicle stream.
	PollInterval = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bydpoller_poll_interval_seconds",
			Help: "Effective polling interval per vehicle stream.",
		},
		[]string{"vehicle", "stream"},
	)

	// CommandTotal counts relayed remote commands.
	CommandTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bydpoller_command_total",
			Help: "Remote commands relayed to the provider by result.",
		},
		[]string{"command", "result"}, // result: success/failed/unsupported
	)

	// NotifyDroppedTotal counts updates dropped by a full sink queue.
	NotifyDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bydpoller_notify_dropped_total",
			Help: "Updates dropped because the notification queue was full.",
		},
		[]string{"sink"},
	)

	// MQTTConnected is 1 while the MQTT client is connected.
	MQTTConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bydpoller_mqtt_connected",
			Help: "MQTT broker connectivity (1=connected, 0=disconnected).",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		FetchTotal,
		FetchLatency,
		CanonicalAdvanceTotal,
		InflightSkipTotal,
		PollInterval,
		CommandTotal,
		NotifyDroppedTotal,
		MQTTConnected,
	)
}
