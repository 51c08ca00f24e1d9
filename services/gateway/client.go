package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/upb/autonomy-orchestrator/config"
	"github.com/upb/autonomy-orchestrator/services"
	"github.com/upb/autonomy-orchestrator/services/proof"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/upb/autonomy-orchestrator/services/gateway")

const (
	defaultTimeout    = 10 * time.Second
	defaultRetryDelay = 500 * time.Millisecond
	maxErrorBody      = 4096
)

// Config holds webhook gateway settings
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Headers    map[string]string
}

// ConfigFromApp converts the application gateway configuration
func ConfigFromApp(c config.GatewayConfig) Config {
	return Config{
		BaseURL:    c.BaseURL,
		APIKey:     c.APIKey,
		Timeout:    c.Timeout,
		MaxRetries: c.MaxRetries,
	}
}

// Error is a non-2xx response or transport failure from the gateway
type Error struct {
	StatusCode int
	Message    string
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("gateway request failed: %s", e.Message)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap exposes the external domain error
func (e *Error) Unwrap() error {
	if e.Err != nil {
		return errors.Join(e.Err, e.kind())
	}
	return e.kind()
}

func (e *Error) kind() error {
	if e.Retryable {
		return services.ErrGatewayUnavailable
	}
	return services.ErrGatewayRejected
}

// Permanent reports whether retrying the action cannot succeed
func (e *Error) Permanent() bool {
	return !e.Retryable
}

// Client delivers messages to an HTTP webhook send gateway
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new webhook Client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// DefaultDestination returns the configured webhook URL
func (c *Client) DefaultDestination() string {
	return c.config.BaseURL
}

type deliverRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	ActionID       int64  `json:"action_id"`
	Channel        string `json:"channel"`
	Recipient      string `json:"recipient"`
	Subject        string `json:"subject,omitempty"`
	Body           string `json:"body,omitempty"`
}

type deliverResponse struct {
	ID string `json:"id"`
}

// Deliver posts msg to destination, retrying network errors and 5xx/429
// responses up to MaxRetries times
func (c *Client) Deliver(ctx context.Context, destination string, msg *proof.Message) (*proof.Delivery, error) {
	if destination == "" {
		return nil, &Error{Message: "no destination configured"}
	}

	ctx, span := tracer.Start(ctx, "gateway.deliver",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int64("action.id", msg.ActionID),
			attribute.String("channel", msg.Channel),
		))
	defer span.End()

	body, err := json.Marshal(deliverRequest{
		IdempotencyKey: msg.IdempotencyKey,
		ActionID:       msg.ActionID,
		Channel:        msg.Channel,
		Recipient:      msg.Recipient,
		Subject:        msg.Subject,
		Body:           msg.Body,
	})
	if err != nil {
		return nil, &Error{Message: "failed to marshal request", Err: err}
	}

	var lastErr *Error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &Error{Message: "context cancelled between retries", Retryable: true, Err: ctx.Err()}
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
		}

		delivery, gwErr := c.post(ctx, destination, msg.IdempotencyKey, body)
		if gwErr == nil {
			span.SetAttributes(attribute.Int("gateway.attempts", attempt+1))
			c.logger.Info("message delivered",
				zap.Int64("action_id", msg.ActionID),
				zap.String("channel", msg.Channel),
				zap.String("ref", delivery.Ref),
				zap.Int("attempt", attempt+1))
			return delivery, nil
		}
		lastErr = gwErr
		if !gwErr.Retryable {
			break
		}
		c.logger.Warn("gateway attempt failed",
			zap.Int64("action_id", msg.ActionID),
			zap.Int("attempt", attempt+1),
			zap.Int("status_code", gwErr.StatusCode),
			zap.String("error", gwErr.Message))
	}
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Message)
	return nil, lastErr
}

func (c *Client) post(ctx context.Context, destination, idempotencyKey string, body []byte) (*proof.Delivery, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Message: "failed to create request", Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Message: "HTTP request failed", Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Message: "failed to read response", Retryable: true, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(respBody)),
			Retryable:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	var parsed deliverResponse
	if len(respBody) > 0 {
		// an unparseable success body still counts as delivered
		_ = json.Unmarshal(respBody, &parsed)
	}
	ref := parsed.ID
	if ref == "" {
		ref = fmt.Sprintf("gateway:%d", resp.StatusCode)
	}
	return &proof.Delivery{Ref: ref}, nil
}
