package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the MSX bridge.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	streamsStartedTotal prometheus.Counter
	streamBytesTotal    prometheus.Counter
	pushSentTotal       prometheus.Counter
	pushReceivedTotal   prometheus.Counter
	registeredRenderers prometheus.Gauge
	openAudioSessions   prometheus.Gauge
	errorsTotal         prometheus.Counter
}

// New creates and registers Prometheus metrics for the bridge.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msx_requests_total",
		Help: "Total number of HTTP requests received",
	})
	streamsStartedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msx_streams_started_total",
		Help: "Total number of audio stream sessions started",
	})
	streamBytesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msx_stream_bytes_total",
		Help: "Total encoded audio bytes written to renderers",
	})
	pushSentTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msx_push_messages_sent_total",
		Help: "Total outbound push messages sent over notification channels",
	})
	pushReceivedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msx_push_messages_received_total",
		Help: "Total inbound messages accepted from renderers",
	})
	registeredRenderers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "msx_registered_renderers",
		Help: "Number of currently registered renderers",
	})
	openAudioSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "msx_open_audio_sessions",
		Help: "Number of currently open audio relay sessions",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msx_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		requestsTotal,
		streamsStartedTotal,
		streamBytesTotal,
		pushSentTotal,
		pushReceivedTotal,
		registeredRenderers,
		openAudioSessions,
		errorsTotal,
	)

	return &Metrics{
		registry:            registry,
		requestsTotal:       requestsTotal,
		streamsStartedTotal: streamsStartedTotal,
		streamBytesTotal:    streamBytesTotal,
		pushSentTotal:       pushSentTotal,
		pushReceivedTotal:   pushReceivedTotal,
		registeredRenderers: registeredRenderers,
		openAudioSessions:   openAudioSessions,
		errorsTotal:         errorsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncStreamsStarted increments the stream session counter.
func (m *Metrics) IncStreamsStarted() {
	m.streamsStartedTotal.Inc()
}

// AddStreamBytes adds n to the streamed-bytes counter.
func (m *Metrics) AddStreamBytes(n int) {
	m.streamBytesTotal.Add(float64(n))
}

// IncPushSent increments the outbound push message counter.
func (m *Metrics) IncPushSent() {
	m.pushSentTotal.Inc()
}

// IncPushReceived increments the inbound push message counter.
func (m *Metrics) IncPushReceived() {
	m.pushReceivedTotal.Inc()
}

// SetRegisteredRenderers sets the registered renderers gauge.
func (m *Metrics) SetRegisteredRenderers(n int) {
	m.registeredRenderers.Set(float64(n))
}

// SetOpenAudioSessions sets the open audio sessions gauge.
func (m *Metrics) SetOpenAudioSessions(n int) {
	m.openAudioSessions.Set(float64(n))
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
