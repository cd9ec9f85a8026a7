// Package rest sends translated wire requests to an exchange REST API.
package rest

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/caesar-terminal/bridge/internal/adapter"
)

// DefaultTimeout bounds a single exchange round trip.
const DefaultTimeout = 10 * time.Second

// Response is the raw exchange reply, handed back to the adapter's
// ParseResponse.
type Response struct {
	Status     int
	Body       []byte
	ReceivedAt time.Time
}

// Client executes WireRequests against one REST base URL. The request is
// sent exactly as translated: the target, body, and headers are what was
// signed and must not be rewritten.
type Client struct {
	client *resty.Client
	log    *zap.Logger
}

// New creates a Client for baseURL.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout),
		log: logger,
	}
}

// Do sends wire. Non-2xx statuses are not errors: the exchange body is
// returned for the adapter to classify. Only transport failures error.
func (c *Client) Do(ctx context.Context, wire *adapter.WireRequest) (*Response, error) {
	req := c.client.R().
		SetContext(ctx).
		SetHeaderMultiValues(wire.Header)
	if wire.Body != "" {
		req.SetBody(wire.Body)
	}

	start := time.Now()
	resp, err := req.Execute(wire.Method, wire.Target)
	if err != nil {
		return nil, fmt.Errorf("rest: %s %s: %w", wire.Method, wire.Target, err)
	}

	c.log.Debug("rest: exchange reply",
		zap.String("method", wire.Method),
		zap.String("target", wire.Target),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Response{
		Status:     resp.StatusCode(),
		Body:       resp.Body(),
		ReceivedAt: resp.ReceivedAt(),
	}, nil
}
