package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/bobmcallan/toolgate/internal/common"
	"github.com/bobmcallan/toolgate/internal/config"
)

// defaultMaxResponseBytes caps the upstream response body.
const defaultMaxResponseBytes = 50 << 20 // 50MB

// Client sends operations to the upstream REST API with bounded retries.
// It is safe for concurrent use and holds no per-call state.
type Client struct {
	httpClient       *http.Client
	policy           Policy
	success          *BusinessCheck
	maxResponseBytes int64
	breakers         *Breakers
	observer         Observer
	logger           *common.Logger
	sleep            func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Timeout should be
// zero; per-attempt timeouts come from the Policy.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithObserver attaches a telemetry observer.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithBreakers enables per-endpoint circuit breaking.
func WithBreakers(b *Breakers) Option {
	return func(c *Client) { c.breakers = b }
}

// WithPolicy overrides the policy derived from configuration.
func WithPolicy(p Policy) Option {
	return func(c *Client) { c.policy = p.normalized() }
}

// NewClient creates a client from upstream configuration.
func NewClient(cfg *config.UpstreamConfig, logger *common.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient:       &http.Client{},
		policy:           PolicyFromConfig(cfg).normalized(),
		maxResponseBytes: cfg.MaxResponseBytes,
		observer:         noopObserver{},
		logger:           logger,
		sleep:            sleepContext,
	}
	if c.maxResponseBytes <= 0 {
		c.maxResponseBytes = defaultMaxResponseBytes
	}
	if cfg.StatusField != "" {
		c.success = &BusinessCheck{Field: cfg.StatusField, SuccessValues: cfg.SuccessValues}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the retry policy in effect.
func (c *Client) Policy() Policy {
	return c.policy
}

// Send executes op with the given validated arguments. It retries retryable
// failures up to the policy's cap and always returns a terminal outcome:
// KindSuccess or KindFatal.
func (c *Client) Send(ctx context.Context, op Operation, rc RequestContext, args map[string]any) Outcome {
	start := time.Now()

	var out Outcome
	req, err := op.prepare(rc.BaseURL, args)
	if err != nil {
		out = fatal(ClassInvalidRequest, 0, nil, err.Error())
	} else {
		out = c.breakers.run(op.Key(), func() Outcome {
			return c.sendWithRetry(ctx, op, rc, req)
		})
	}
	out.Duration = time.Since(start)

	c.observer.ObserveCall(CallObservation{
		Operation: op.Name,
		Method:    op.Method,
		Attempts:  out.Attempts,
		Status:    out.Status,
		Class:     out.Class,
		Success:   out.OK(),
		Duration:  out.Duration,
	})
	return out
}

func (c *Client) sendWithRetry(ctx context.Context, op Operation, rc RequestContext, req *prepared) Outcome {
	for attempt := 0; ; attempt++ {
		out := c.attempt(ctx, op, rc, req, attempt)
		out.Attempts = attempt + 1

		if out.Kind != KindRetryable {
			return out
		}
		if attempt >= c.policy.MaxRetries {
			out.Kind = KindFatal
			out.Reason = fmt.Sprintf("%s (gave up after %d attempts)", out.Reason, out.Attempts)
			return out
		}

		delay := c.policy.Delay(out, attempt)
		c.logger.Warn().
			Str("correlation_id", rc.CorrelationID).
			Str("operation", op.Name).
			Int("attempt", out.Attempts).
			Int("status", out.Status).
			Str("reason", out.Reason).
			Int64("retry_in_ms", delay.Milliseconds()).
			Msg("upstream attempt failed, retrying")

		if err := c.sleep(ctx, delay); err != nil {
			return Outcome{
				Kind:     KindFatal,
				Class:    ClassCanceled,
				Status:   out.Status,
				Reason:   "call canceled while waiting to retry: " + err.Error(),
				Attempts: out.Attempts,
			}
		}
	}
}

func (c *Client) attempt(ctx context.Context, op Operation, rc RequestContext, req *prepared, attempt int) Outcome {
	c.logger.Debug().Str("method", req.method).Str("url", req.url).Int("attempt", attempt+1).Msg("upstream request")

	start := time.Now()
	out := c.do(ctx, op, rc, req)
	duration := time.Since(start)

	c.logger.Debug().
		Str("operation", op.Name).
		Int("status", out.Status).
		Str("outcome", out.Kind.String()).
		Int64("duration_ms", duration.Milliseconds()).
		Msg("upstream response")

	c.observer.ObserveAttempt(AttemptObservation{
		Operation: op.Name,
		Method:    op.Method,
		Attempt:   attempt,
		Status:    out.Status,
		Kind:      out.Kind,
		Class:     out.Class,
		Duration:  duration,
	})
	return out
}

func (c *Client) do(ctx context.Context, op Operation, rc RequestContext, p *prepared) Outcome {
	attemptCtx, cancel := context.WithTimeout(ctx, c.policy.Timeout)
	defer cancel()

	// Tracks whether the request reached the wire, which decides if a
	// mutating call can be repeated after a transport failure.
	var wrote atomic.Bool
	attemptCtx = httptrace.WithClientTrace(attemptCtx, &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				wrote.Store(true)
			}
		},
	})

	var body io.Reader
	if p.body != nil {
		body = bytes.NewReader(p.body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, p.method, p.url, body)
	if err != nil {
		return fatal(ClassInvalidRequest, 0, nil, "build request: "+err.Error())
	}
	req.Header.Set("Accept", "application/json")
	if p.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, vals := range p.headers {
		for _, v := range vals {
			req.Header.Add(key, v)
		}
	}
	if rc.AuthHeader != "" && rc.AuthValue != "" {
		req.Header.Set(rc.AuthHeader, rc.AuthValue)
	}
	if rc.CorrelationID != "" {
		req.Header.Set(common.CorrelationIDHeader, rc.CorrelationID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classifyError(ctx, op, err, wrote.Load())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		return c.classifyError(ctx, op, err, true)
	}
	if int64(len(raw)) > c.maxResponseBytes {
		return fatal(ClassUpstream, resp.StatusCode, nil,
			fmt.Sprintf("upstream response exceeds %d bytes", c.maxResponseBytes))
	}

	return c.classifyResponse(op, resp, toPayload(raw))
}

// classifyError maps a failed round trip to an outcome. A mutating request
// that reached the upstream is never repeated.
func (c *Client) classifyError(ctx context.Context, op Operation, err error, wrote bool) Outcome {
	if ctx.Err() != nil {
		return fatal(ClassCanceled, 0, nil, "call canceled: "+context.Cause(ctx).Error())
	}

	reason := "request failed: " + err.Error()
	if isTimeout(err) {
		reason = fmt.Sprintf("timed out after %dms", c.policy.Timeout.Milliseconds())
	}

	if op.Mutating() && wrote {
		return fatal(ClassTransport, 0, nil, reason+"; not retried, the request may have been applied")
	}
	return retryable(ClassTransport, 0, nil, reason, 0)
}

func (c *Client) classifyResponse(op Operation, resp *http.Response, payload json.RawMessage) Outcome {
	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		check := op.Success
		if check == nil {
			check = c.success
		}
		if failed, reason := check.Failed(payload); failed {
			return fatal(ClassUpstream, status, payload, reason)
		}
		return success(status, payload)
	case isRetryableStatus(status):
		return retryable(ClassRateLimited, status, payload, statusReason(status, payload), parseRetryAfter(resp.Header))
	default:
		return fatal(ClassUpstream, status, payload, statusReason(status, payload))
	}
}

// statusReason describes a non-2xx answer, using the upstream's own error
// message when the body carries one.
func statusReason(status int, payload []byte) string {
	reason := fmt.Sprintf("upstream returned %d", status)
	for _, path := range []string{"error.message", "error", "message"} {
		res := gjson.GetBytes(payload, path)
		if res.Exists() && res.Type == gjson.String && res.String() != "" {
			return reason + ": " + res.String()
		}
	}
	return reason
}

// toPayload returns the body as JSON. Bodies that are not JSON are wrapped
// as {"raw": "<text>"}; an empty body becomes null.
func toPayload(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if gjson.ValidBytes(trimmed) {
		return json.RawMessage(trimmed)
	}
	wrapped, err := sjson.SetBytes([]byte(`{}`), "raw", string(raw))
	if err != nil {
		return json.RawMessage("null")
	}
	return wrapped
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
