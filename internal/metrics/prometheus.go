package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the recognition service
type Metrics struct {
	// Decode metrics
	ChunksAccepted prometheus.Counter
	BytesAccepted  prometheus.Counter
	Utterances     prometheus.Counter
	DecodeErrors   prometheus.Counter
	AcceptDuration prometheus.Histogram

	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsClosed   prometheus.Counter
	SessionsExpired  prometheus.Counter
	SessionDuration  prometheus.Histogram

	// Model metrics
	ModelsLoaded   prometheus.Gauge
	ModelLoadTime  prometheus.Histogram
	VocabLookups   prometheus.Counter

	// Batch transcription metrics
	BatchRequests prometheus.Counter
	BatchDuration prometheus.Histogram
	BatchBytes    prometheus.Histogram

	// Publisher metrics
	PublishRequests  prometheus.Counter
	PublishSuccesses prometheus.Counter
	PublishFailures  prometheus.Counter
	PublishRetries   prometheus.Counter
	PublishDuration  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Decode metrics
		ChunksAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voskd_chunks_accepted_total",
			Help: "Total number of audio chunks fed to the decoder",
		}),
		BytesAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voskd_bytes_accepted_total",
			Help: "Total audio bytes fed to the decoder",
		}),
		Utterances: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voskd_utterances_total",
			Help: "Total number of utterance boundaries detected",
		}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voskd_decode_errors_total",
			Help: "Total number of chunk decode failures reported by the engine",
		}),
		AcceptDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voskd_accept_duration_seconds",
			Help:    "Time spent decoding one audio chunk",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),

		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voskd_active_sessions",
			Help: "Current number of open recognition sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voskd_sessions_created_total",
			Help: "Total number of recognition sessions created",
		}),
		SessionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voskd_sessions_closed_total",
			Help: "Total number of recognition sessions closed",
		}),
		SessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voskd_sessions_expired_total",
			Help: "Total number of sessions reaped by the idle timeout",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voskd_session_duration_seconds",
			Help:    "Lifetime of recognition sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Model metrics
		ModelsLoaded: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voskd_models_loaded",
			Help: "Current number of loaded acoustic models",
		}),
		ModelLoadTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voskd_model_load_duration_seconds",
			Help:    "Time spent loading an acoustic model from disk",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		VocabLookups: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voskd_vocab_lookups_total",
			Help: "Total number of vocabulary word lookups",
		}),

		// Batch transcription metrics
		BatchRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voskd_batch_requests_total",
			Help: "Total number of batch transcription requests",
		}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voskd_batch_duration_seconds",
			Help:    "End-to-end duration of batch transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		BatchBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voskd_batch_audio_bytes",
			Help:    "Size of batch transcription audio payloads in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to ~256MB
		}),

		// Publisher metrics
		PublishRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voskd_publish_requests_total",
			Help: "Total number of transcript webhook deliveries attempted",
		}),
		PublishSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voskd_publish_successes_total",
			Help: "Total number of successful transcript deliveries",
		}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voskd_publish_failures_total",
			Help: "Total number of failed transcript deliveries",
		}),
		PublishRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voskd_publish_retries_total",
			Help: "Total number of transcript delivery retries",
		}),
		PublishDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voskd_publish_duration_seconds",
			Help:    "Duration of transcript webhook requests",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~1 minute
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voskd_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voskd_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voskd_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordChunkAccepted records one decoded audio chunk
func (m *Metrics) RecordChunkAccepted(sizeBytes int, durationSeconds float64) {
	m.ChunksAccepted.Inc()
	m.BytesAccepted.Add(float64(sizeBytes))
	m.AcceptDuration.Observe(durationSeconds)
}

// RecordUtterance increments the utterance boundary counter
func (m *Metrics) RecordUtterance() {
	m.Utterances.Inc()
}

// RecordDecodeError increments the decode error counter
func (m *Metrics) RecordDecodeError() {
	m.DecodeErrors.Inc()
}

// SetActiveSessions sets the current number of open sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionClosed increments the sessions closed counter and records lifetime
func (m *Metrics) RecordSessionClosed(durationSeconds float64) {
	m.SessionsClosed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionExpired records an idle-timeout reap. The closed counter and
// session lifetime are recorded separately by the removal path.
func (m *Metrics) RecordSessionExpired() {
	m.SessionsExpired.Inc()
}

// SetModelsLoaded sets the loaded model gauge
func (m *Metrics) SetModelsLoaded(count int) {
	m.ModelsLoaded.Set(float64(count))
}

// RecordModelLoad records the time taken to load a model
func (m *Metrics) RecordModelLoad(durationSeconds float64) {
	m.ModelLoadTime.Observe(durationSeconds)
}

// RecordVocabLookup increments the vocabulary lookup counter
func (m *Metrics) RecordVocabLookup() {
	m.VocabLookups.Inc()
}

// RecordBatchRequest records a batch transcription request
func (m *Metrics) RecordBatchRequest(audioBytes int, durationSeconds float64) {
	m.BatchRequests.Inc()
	m.BatchBytes.Observe(float64(audioBytes))
	m.BatchDuration.Observe(durationSeconds)
}

// RecordPublishRequest increments the publish attempt counter
func (m *Metrics) RecordPublishRequest() {
	m.PublishRequests.Inc()
}

// RecordPublishSuccess records a successful transcript delivery
func (m *Metrics) RecordPublishSuccess(durationSeconds float64) {
	m.PublishSuccesses.Inc()
	m.PublishDuration.Observe(durationSeconds)
}

// RecordPublishFailure records a failed transcript delivery
func (m *Metrics) RecordPublishFailure(durationSeconds float64) {
	m.PublishFailures.Inc()
	m.PublishDuration.Observe(durationSeconds)
}

// RecordPublishRetry increments the publish retry counter
func (m *Metrics) RecordPublishRetry() {
	m.PublishRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
