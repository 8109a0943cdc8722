package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pulseboard/pulseboard/internal/config"
	"github.com/pulseboard/pulseboard/internal/core"
	"github.com/pulseboard/pulseboard/internal/metrics"
	"go.uber.org/zap"
)

// The provider computes the same triple for every query, in this order.
var metricNames = []string{"messages_received", "messages_sent", "avg_reply_time"}

const (
	statusDone       = "done"
	statusProcessing = "processing"
)

// Client talks to the external analytics endpoint. The provider computes
// results asynchronously: the same request is resubmitted until the reported
// status is terminal, within a bounded retry budget. Every Fetch ends in
// exactly one terminal ResultRecord; failures never surface as errors so one
// bad record cannot abort a batch.
type Client struct {
	client   *http.Client
	cfg      config.ProviderConfig
	timezone string
	logger   *zap.Logger
	metrics  *metrics.Collector
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg config.ProviderConfig, timezone string, logger *zap.Logger) *Client {
	return &Client{
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		cfg:      cfg,
		timezone: timezone,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// WithCollector attaches Prometheus instrumentation.
func (c *Client) WithCollector(m *metrics.Collector) *Client {
	c.metrics = m
	return c
}

type metricsRequest struct {
	Filter   requestFilter `json:"filter"`
	Start    int64         `json:"start"`
	End      int64         `json:"end"`
	Timezone string        `json:"timezone"`
	Metrics  []string      `json:"metrics"`
}

type requestFilter struct {
	AgentID   string `json:"agent_id"`
	ChannelID string `json:"channel_id,omitempty"`
}

type metricsResponse struct {
	Status  string    `json:"status"`
	Metrics []float64 `json:"metrics"`
	Error   string    `json:"error,omitempty"`
}

type rateLimitResponse struct {
	Error             string `json:"error,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// Fetch resolves the metric triple for one subject record over one range.
func (c *Client) Fetch(ctx context.Context, rec core.SubjectRecord, spec core.RangeSpec, credential, endpoint string) core.ResultRecord {
	result := core.ResultRecord{
		ExternalID:  rec.ExternalID,
		DisplayName: rec.DisplayName,
	}

	body, err := json.Marshal(metricsRequest{
		Filter:   requestFilter{AgentID: rec.ExternalID, ChannelID: rec.ChannelCode},
		Start:    spec.Start,
		End:      spec.End,
		Timezone: c.timezone,
		Metrics:  metricNames,
	})
	if err != nil {
		result.Error = fmt.Sprintf("failed to encode request: %v", err)
		return result
	}

	attempts := 0
	for {
		attempts++

		resp, err := c.post(ctx, endpoint, credential, body)
		if err != nil {
			result.Error = fmt.Sprintf("request failed: %v", err)
			return result
		}

		switch {
		case resp.statusCode == http.StatusTooManyRequests:
			c.metrics.RecordRateLimitHit()
			if c.cfg.CountRateLimitInBudget && attempts >= c.cfg.MaxRetries {
				result.Error = fmt.Sprintf("rate limited after %d attempts", attempts)
				return result
			}
			if !c.cfg.CountRateLimitInBudget {
				attempts--
			}
			wait := resp.retryHint(c.cfg.RateLimitFallback) + c.cfg.RateLimitMargin
			c.logger.Warn("Provider rate limited, honoring wait hint",
				zap.String("agent_id", rec.ExternalID),
				zap.Duration("wait", wait),
			)
			if err := c.sleep(ctx, wait); err != nil {
				result.Error = fmt.Sprintf("interrupted while rate limited: %v", err)
				return result
			}

		case resp.statusCode < 200 || resp.statusCode > 299:
			result.Error = fmt.Sprintf("provider returned HTTP %d", resp.statusCode)
			return result

		default:
			var parsed metricsResponse
			if err := json.Unmarshal(resp.body, &parsed); err != nil {
				result.Error = fmt.Sprintf("failed to decode response: %v", err)
				return result
			}

			switch parsed.Status {
			case statusDone:
				if len(parsed.Metrics) < len(metricNames) {
					result.Error = fmt.Sprintf("provider returned %d metrics, want %d", len(parsed.Metrics), len(metricNames))
					return result
				}
				result.Metrics = &core.Metrics{
					Received:        int64(parsed.Metrics[0]),
					Sent:            int64(parsed.Metrics[1]),
					AvgReplySeconds: parsed.Metrics[2],
				}
				return result
			case statusProcessing, "pending":
				if attempts >= c.cfg.MaxRetries {
					result.Error = fmt.Sprintf("still processing after %d attempts", attempts)
					return result
				}
				wait := c.backoff(attempts)
				c.logger.Debug("Provider still processing, backing off",
					zap.String("agent_id", rec.ExternalID),
					zap.Int("attempt", attempts),
					zap.Duration("wait", wait),
				)
				if err := c.sleep(ctx, wait); err != nil {
					result.Error = fmt.Sprintf("interrupted while waiting: %v", err)
					return result
				}
			default:
				msg := parsed.Error
				if msg == "" {
					msg = parsed.Status
				}
				result.Error = fmt.Sprintf("provider reported failure: %s", msg)
				return result
			}
		}
	}
}

type providerResponse struct {
	statusCode int
	body       []byte
	headers    http.Header
}

func (c *Client) post(ctx context.Context, endpoint, credential string, body []byte) (*providerResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return nil, err
	}

	return &providerResponse{
		statusCode: resp.StatusCode,
		body:       data,
		headers:    resp.Header,
	}, nil
}

// retryHint extracts the server-supplied wait from a 429 payload, falling
// back to the Retry-After header, then to the configured default.
func (r *providerResponse) retryHint(fallback time.Duration) time.Duration {
	var parsed rateLimitResponse
	if err := json.Unmarshal(r.body, &parsed); err == nil && parsed.RetryAfterSeconds > 0 {
		return time.Duration(parsed.RetryAfterSeconds) * time.Second
	}
	if header := r.headers.Get("Retry-After"); header != "" {
		if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

// backoff grows with the attempt number up to the configured cap.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BaseBackoff * time.Duration(attempt)
	if d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
