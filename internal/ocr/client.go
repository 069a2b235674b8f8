// Package ocr is the HTTP client of the extraction service that turns a
// ticket image or PDF into structured purchase data.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"ticket-service/internal/apperr"
	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	processPath = "/ocr/process"
	healthPath  = "/health"

	headerAPIKey = "x-api-key"

	// maxErrorBody bounds how much of an upstream error body is kept
	maxErrorBody = 4096
)

// Config configures the extraction client
type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	Retry     RetryPolicy
	RateLimit float64 // requests per second, 0 disables client-side limiting
}

// Client calls the extraction service
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	retry   RetryPolicy
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
}

// NewClient creates a new extraction client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		retry:   cfg.Retry,
		sleep:   util.Sleep,
		logger:  util.GetLogger(),
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c
}

// ProcessTicket sends a ticket to the extraction service. Only 503 responses
// are retried, following the client's RetryPolicy.
func (c *Client) ProcessTicket(ctx context.Context, req *models.ProcessTicketRequest) (*models.Extraction, error) {
	ctx, span := util.StartSpan(ctx, "ocr.ProcessTicket")
	defer span.End()

	start := time.Now()
	defer func() {
		util.OCRRequestLatency.Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to encode extraction request")
	}

	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, apperr.Wrap(apperr.TransientUpstreamFailure, err, "extraction request cancelled")
			}
		}

		resp, err := c.do(ctx, http.MethodPost, processPath, body)
		if err != nil {
			return nil, classifyTransport(err)
		}

		if c.retry.ShouldRetry(resp.StatusCode, attempt) {
			drain(resp)
			delay := c.retry.Delay(attempt + 1)
			util.OCRRetriesTotal.Inc()
			c.logger.Warn("Extraction service unavailable, retrying",
				zap.String("ticket_id", req.TicketID),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, apperr.Wrap(apperr.TransientUpstreamFailure, err, "extraction retry cancelled")
			}
			continue
		}

		return c.decode(resp)
	}
}

// Health checks that the extraction service is reachable
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, healthPath, nil)
	if err != nil {
		return classifyTransport(err)
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, readErrorBody(resp))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(headerAPIKey, c.apiKey)
	}

	return c.http.Do(req)
}

func (c *Client) decode(resp *http.Response) (*models.Extraction, error) {
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, readErrorBody(resp))
	}

	var extraction models.Extraction
	if err := json.NewDecoder(resp.Body).Decode(&extraction); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "invalid extraction response")
	}
	return &extraction, nil
}

func classifyStatus(status int, body string) error {
	switch status {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		msg := body
		if msg == "" {
			msg = http.StatusText(status)
		}
		return apperr.New(apperr.UpstreamRejected, "%s", msg)
	case http.StatusServiceUnavailable:
		return apperr.New(apperr.TransientUpstreamFailure, "extraction service unavailable after retries")
	default:
		return apperr.New(apperr.Internal, "extraction service returned %d: %s", status, body)
	}
}

func classifyTransport(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperr.Wrap(apperr.TransientUpstreamFailure, err, "extraction request timed out")
	}
	return apperr.Wrap(apperr.Internal, err, "failed to contact extraction service")
}

func readErrorBody(resp *http.Response) string {
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
