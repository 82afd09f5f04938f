package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gonzalinux/voskd/internal/metrics"
	"github.com/gonzalinux/voskd/internal/stream"
)

// Config contains webhook publisher configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
}

// Publisher POSTs finalized transcripts to a webhook endpoint. It satisfies
// stream.TranscriptSink.
type Publisher struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	semaphore  chan struct{}
	quit       chan struct{}

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	closed          bool

	mu sync.RWMutex
}

// Stats represents publisher delivery statistics
type Stats struct {
	TotalRequests   uint64  `json:"total_requests"`
	SuccessRequests uint64  `json:"success_requests"`
	FailedRequests  uint64  `json:"failed_requests"`
	SuccessRate     float64 `json:"success_rate"`
	TotalRetries    uint64  `json:"total_retries"`
	ActiveRequests  int     `json:"active_requests"`
}

// NewPublisher creates a webhook publisher. The metrics argument may be nil.
func NewPublisher(config Config, logger *slog.Logger, m *metrics.Metrics) (*Publisher, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Publisher{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		metrics:    m,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		quit:       make(chan struct{}),
	}, nil
}

// Publish delivers one transcript. Failures are logged and counted; a lost
// webhook delivery never disturbs the session that produced it. Transcripts
// published after Close are dropped.
func (p *Publisher) Publish(ctx context.Context, t stream.Transcript) {
	select {
	case <-p.quit:
		p.logger.Warn("Transcript dropped, publisher closed",
			slog.String("session_id", t.SessionID),
		)
		return
	default:
	}

	select {
	case p.semaphore <- struct{}{}:
		defer func() { <-p.semaphore }()
	case <-p.quit:
		return
	case <-ctx.Done():
		return
	}

	startTime := time.Now()
	p.incrementTotalRequests()
	if p.metrics != nil {
		p.metrics.RecordPublishRequest()
	}

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			p.incrementTotalRetries()
			if p.metrics != nil {
				p.metrics.RecordPublishRetry()
			}

			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				lastErr = ctx.Err()
			}
			if ctx.Err() != nil {
				break
			}
		}

		status, err := p.doRequest(ctx, t)
		if err == nil {
			p.incrementSuccessRequests()
			if p.metrics != nil {
				p.metrics.RecordPublishSuccess(time.Since(startTime).Seconds())
			}
			p.logger.Debug("Transcript delivered",
				slog.String("session_id", t.SessionID),
				slog.Duration("elapsed", time.Since(startTime)),
			)
			return
		}

		lastErr = err
		if !isRetryableStatus(status) {
			break
		}
	}

	p.incrementFailedRequests()
	if p.metrics != nil {
		p.metrics.RecordPublishFailure(time.Since(startTime).Seconds())
	}
	p.logger.Error("Transcript delivery failed",
		slog.String("session_id", t.SessionID),
		slog.Int("attempts", p.config.MaxRetries+1),
		slog.String("error", lastErr.Error()),
	)
}

// doRequest performs a single webhook POST. The returned status is zero when
// the request never reached the server.
func (p *Publisher) doRequest(ctx context.Context, t stream.Transcript) (int, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal transcript: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		// Transport errors are treated as retryable server unavailability.
		return http.StatusServiceUnavailable, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp.StatusCode, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	return resp.StatusCode, nil
}

// isRetryableStatus reports whether a delivery should be retried.
func isRetryableStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

func (p *Publisher) incrementTotalRequests() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalRequests++
}

func (p *Publisher) incrementSuccessRequests() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.successRequests++
}

func (p *Publisher) incrementFailedRequests() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failedRequests++
}

func (p *Publisher) incrementTotalRetries() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalRetries++
}

// GetStats returns current delivery statistics
func (p *Publisher) GetStats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	successRate := float64(0)
	if p.totalRequests > 0 {
		successRate = float64(p.successRequests) / float64(p.totalRequests) * 100
	}

	return Stats{
		TotalRequests:   p.totalRequests,
		SuccessRequests: p.successRequests,
		FailedRequests:  p.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    p.totalRetries,
		ActiveRequests:  len(p.semaphore),
	}
}

// Close rejects further deliveries and waits for in-flight ones to finish.
// Idempotent.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.quit)
	for i := 0; i < p.config.MaxConcurrent; i++ {
		p.semaphore <- struct{}{}
	}
	return nil
}
