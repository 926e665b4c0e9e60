package upstream

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/toolgate/internal/config"
)

// Policy bounds one call: per-attempt timeout, retry cap and the two backoff
// schedules. No jitter is applied, so concurrent callers that fail together
// retry together.
type Policy struct {
	Timeout          time.Duration
	MaxRetries       int
	TransportBackoff time.Duration // base for timeouts and network errors
	StatusBackoff    time.Duration // base for 429/502/503/504 without Retry-After
	MaxRetryAfter    time.Duration // cap applied to Retry-After hints
}

// PolicyFromConfig builds a Policy from upstream configuration.
func PolicyFromConfig(cfg *config.UpstreamConfig) Policy {
	return Policy{
		Timeout:          cfg.GetTimeout(),
		MaxRetries:       cfg.MaxRetries,
		TransportBackoff: cfg.GetTransportBackoff(),
		StatusBackoff:    cfg.GetStatusBackoff(),
		MaxRetryAfter:    cfg.GetMaxRetryAfter(),
	}
}

func (p Policy) normalized() Policy {
	out := p
	if out.Timeout <= 0 {
		out.Timeout = 10 * time.Second
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.TransportBackoff < 0 {
		out.TransportBackoff = 0
	}
	if out.StatusBackoff < 0 {
		out.StatusBackoff = 0
	}
	if out.MaxRetryAfter <= 0 {
		out.MaxRetryAfter = 30 * time.Second
	}
	return out
}

// Delay returns the wait before the attempt following a retryable outcome.
// attempt is the zero-based index of the attempt that just failed.
func (p Policy) Delay(out Outcome, attempt int) time.Duration {
	if out.Class == ClassRateLimited {
		if out.RetryAfter > 0 {
			return min(out.RetryAfter, p.MaxRetryAfter)
		}
		return exponential(p.StatusBackoff, attempt)
	}
	return exponential(p.TransportBackoff, attempt)
}

// Budget is the worst-case wall-clock time of one call:
// Timeout × (MaxRetries+1) plus the largest possible delay before each retry.
func (p Policy) Budget() time.Duration {
	total := p.Timeout * time.Duration(p.MaxRetries+1)
	for attempt := 0; attempt < p.MaxRetries; attempt++ {
		total += max(exponential(p.TransportBackoff, attempt), exponential(p.StatusBackoff, attempt), p.MaxRetryAfter)
	}
	return total
}

func exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt < 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	return base * time.Duration(1<<attempt)
}

// isRetryableStatus reports whether the upstream refused the request without
// processing it, so repeating it is safe for any method.
func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// parseRetryAfter reads a Retry-After header expressed in milliseconds.
func parseRetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
