package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gonzalinux/voskd/internal/audio"
	"github.com/gonzalinux/voskd/internal/config"
	"github.com/gonzalinux/voskd/internal/metrics"
	"github.com/gonzalinux/voskd/internal/publish"
	"github.com/gonzalinux/voskd/internal/stream"
)

// maxBatchBody caps batch transcription uploads.
const maxBatchBody = 256 << 20

// ModelDirectory is the model query surface the API needs. *stream.ModelSet
// satisfies it.
type ModelDirectory interface {
	Names() []string
	DefaultModel() string
	FindWord(model, word string) (int, error)
}

// HTTPServer provides the HTTP and WebSocket API
type HTTPServer struct {
	server    *http.Server
	logger    *slog.Logger
	config    *config.Config
	manager   *stream.Manager
	models    ModelDirectory
	publisher *publish.Publisher
	metrics   *metrics.Metrics
	chunker   *audio.Chunker

	startTime time.Time
}

// NewHTTPServer creates the API server. The publisher and metrics arguments
// may be nil.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, manager *stream.Manager,
	models ModelDirectory, publisher *publish.Publisher, m *metrics.Metrics) (*HTTPServer, error) {

	chunker, err := audio.NewChunker(cfg.Engine.ChunkBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid chunk size: %w", err)
	}

	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		manager:   manager,
		models:    models,
		publisher: publisher,
		metrics:   m,
		chunker:   chunker,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Minute, // batch uploads can be large
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return h, nil
}

// setupRoutes configures the API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/transcribe", h.withMetrics("/transcribe", h.handleTranscribe))
	mux.HandleFunc("/ws", h.handleWebSocket)

	mux.HandleFunc("/models", h.withMetrics("/models", h.handleModels))
	mux.HandleFunc("/models/", h.withMetrics("/models/{name}/vocab", h.handleVocab))

	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		if h.metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// batchResponse is the /transcribe response body.
type batchResponse struct {
	Model           string            `json:"model"`
	SampleRate      float64           `json:"sample_rate"`
	AudioBytes      int               `json:"audio_bytes"`
	DurationSeconds float64           `json:"duration_seconds"`
	DecodeErrors    uint64            `json:"decode_errors"`
	WAV             *audio.WAVInfo    `json:"wav,omitempty"`
	Results         []json.RawMessage `json:"results"`
}

// handleTranscribe implements POST /transcribe. The body is a mono 16-bit
// WAV file or raw PCM16LE; WAV sample rates must match the engine rate
// exactly, mismatches are rejected rather than resampled.
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	startTime := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBatchBody+1))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBatchBody {
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(body) == 0 {
		http.Error(w, "Empty request body", http.StatusBadRequest)
		return
	}

	engineRate := h.config.Engine.SampleRate

	var pcm []byte
	var wavInfo *audio.WAVInfo
	if audio.IsWAV(body) {
		info, err := audio.GetWAVInfo(body)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid WAV data: %v", err), http.StatusBadRequest)
			return
		}
		decoded, wavRate, err := audio.DecodeWAV(body)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid WAV data: %v", err), http.StatusBadRequest)
			return
		}
		if float64(wavRate) != engineRate {
			http.Error(w, fmt.Sprintf("WAV sample rate %d does not match engine rate %.0f", wavRate, engineRate), http.StatusBadRequest)
			return
		}
		pcm = decoded
		wavInfo = info
	} else {
		if err := audio.ValidatePCM(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if rateStr := r.URL.Query().Get("sample_rate"); rateStr != "" {
			rate, err := strconv.ParseFloat(rateStr, 64)
			if err != nil || rate <= 0 {
				http.Error(w, "Invalid sample_rate parameter", http.StatusBadRequest)
				return
			}
			if rate != engineRate {
				http.Error(w, fmt.Sprintf("sample rate %.0f does not match engine rate %.0f", rate, engineRate), http.StatusBadRequest)
				return
			}
		}
		pcm = body
	}

	session, err := h.manager.CreateSession(r.URL.Query().Get("model"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer h.manager.RemoveSession(session.ID)

	if err := h.configureFromQuery(session, r); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	chunks, err := h.chunker.Split(pcm)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	results := make([]json.RawMessage, 0, 1)
	for _, chunk := range chunks {
		ev, err := session.Feed(r.Context(), chunk)
		if err != nil {
			http.Error(w, fmt.Sprintf("Decode failed: %v", err), http.StatusInternalServerError)
			return
		}
		if ev.Kind == stream.EventFinal {
			results = append(results, json.RawMessage(ev.Result))
		}
	}

	final, err := session.Flush(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Decode failed: %v", err), http.StatusInternalServerError)
		return
	}
	results = append(results, json.RawMessage(final.Result))

	info := session.Info()
	if h.metrics != nil {
		h.metrics.RecordBatchRequest(len(pcm), time.Since(startTime).Seconds())
	}

	writeJSON(w, batchResponse{
		Model:           session.Model,
		SampleRate:      engineRate,
		AudioBytes:      len(pcm),
		DurationSeconds: audio.Duration(len(pcm), engineRate).Seconds(),
		DecodeErrors:    info.DecodeErrors,
		WAV:             wavInfo,
		Results:         results,
	})
}

// configureFromQuery applies recognizer options passed as query parameters.
func (h *HTTPServer) configureFromQuery(session *stream.Session, r *http.Request) error {
	q := r.URL.Query()

	var maxAlternatives *int
	if v := q.Get("max_alternatives"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid max_alternatives parameter: %q", v)
		}
		maxAlternatives = &n
	}

	var words, partialWords *bool
	if v := q.Get("words"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid words parameter: %q", v)
		}
		words = &b
	}
	if v := q.Get("partial_words"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid partial_words parameter: %q", v)
		}
		partialWords = &b
	}

	if maxAlternatives == nil && words == nil && partialWords == nil {
		return nil
	}
	return session.Configure(maxAlternatives, words, partialWords)
}

// handleModels implements GET /models
func (h *HTTPServer) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"models":        h.models.Names(),
		"default_model": h.models.DefaultModel(),
		"sample_rate":   h.config.Engine.SampleRate,
	})
}

// handleVocab implements GET /models/{name}/vocab?word=w
func (h *HTTPServer) handleVocab(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/models/")
	name, tail, found := strings.Cut(rest, "/")
	if !found || tail != "vocab" || name == "" {
		http.NotFound(w, r)
		return
	}

	word := r.URL.Query().Get("word")
	if word == "" {
		http.Error(w, "word parameter required", http.StatusBadRequest)
		return
	}

	symbol, err := h.models.FindWord(name, word)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordVocabLookup()
	}

	writeJSON(w, map[string]interface{}{
		"model":  name,
		"word":   word,
		"symbol": symbol,
		"known":  symbol >= 0,
	})
}

// handleSessions implements GET /sessions
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.manager.Sessions()
	writeJSON(w, map[string]interface{}{
		"total_sessions": len(sessions),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessions,
	})
}

// handleSessionDetail implements GET and DELETE on /sessions/{id}
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if id == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		session, exists := h.manager.GetSession(id)
		if !exists {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		writeJSON(w, session.Info())

	case http.MethodDelete:
		if !h.manager.RemoveSession(id) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "voskd",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"models": map[string]interface{}{
				"status": "running",
				"loaded": h.models.Names(),
			},
			"sessions": map[string]interface{}{
				"status":       "running",
				"active_count": h.manager.ActiveSessionCount(),
			},
		},
	}

	writeJSON(w, health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]interface{}{
			"active_count": h.manager.ActiveSessionCount(),
		},
	}
	if h.publisher != nil {
		stats["publisher"] = h.publisher.GetStats()
	}

	writeJSON(w, stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Sanitized: model paths and the publisher API key stay private.
	sanitized := map[string]interface{}{
		"engine": map[string]interface{}{
			"log_level":     h.config.Engine.LogLevel,
			"models":        h.models.Names(),
			"default_model": h.models.DefaultModel(),
			"sample_rate":   h.config.Engine.SampleRate,
			"pool_workers":  h.config.Engine.PoolWorkers,
			"chunk_bytes":   h.chunker.Size(),
			"idle_timeout":  h.config.Engine.IdleTimeout,
		},
		"http": map[string]interface{}{
			"address": h.config.HTTP.Address,
			"port":    h.config.HTTP.Port,
		},
		"websocket": map[string]interface{}{
			"max_message_bytes": h.config.WebSocket.MaxMessageBytes,
			"write_timeout":     h.config.WebSocket.WriteTimeout,
			"ping_interval":     h.config.WebSocket.PingInterval,
		},
		"publisher": map[string]interface{}{
			"enabled":        h.config.Publisher.Enabled,
			"endpoint":       h.config.Publisher.Endpoint,
			"timeout":        h.config.Publisher.Timeout,
			"max_retries":    h.config.Publisher.MaxRetries,
			"max_concurrent": h.config.Publisher.MaxConcurrent,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, sanitized)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "voskd speech recognition service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"POST /transcribe":                "Batch transcription (WAV or raw PCM16LE body)",
			"GET /ws":                         "Streaming recognition session (WebSocket)",
			"GET /models":                     "List loaded models",
			"GET /models/{name}/vocab?word=w": "Vocabulary lookup",
			"GET /sessions":                   "List active sessions",
			"GET /sessions/{id}":              "Session details",
			"DELETE /sessions/{id}":           "Close a session",
			"GET /health":                     "Service health check",
			"GET /stats":                      "Service statistics",
			"GET /config":                     "Service configuration",
			"GET /metrics":                    "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, apiDoc)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
