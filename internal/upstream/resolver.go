package upstream

import (
	"context"
	"net/url"
	"strings"

	"github.com/bobmcallan/toolgate/internal/config"
)

// Credentials identify the gateway to the upstream on one call.
type Credentials struct {
	BaseURL    string
	AuthHeader string
	AuthValue  string
}

// RequestContext is everything a single upstream call needs besides the
// operation and its arguments. It is resolved per call and never cached.
type RequestContext struct {
	Credentials
	CorrelationID string
}

// Override carries caller-supplied values that replace the configured
// credentials for one call only.
type Override struct {
	AuthValue string
	BaseURL   string
}

// overrideContextKey is the context key for per-call credential overrides.
type overrideContextKey struct{}

// WithOverride returns a new context carrying a per-call override.
func WithOverride(ctx context.Context, o Override) context.Context {
	return context.WithValue(ctx, overrideContextKey{}, o)
}

// OverrideFromContext extracts the per-call override, if present.
func OverrideFromContext(ctx context.Context) (Override, bool) {
	o, ok := ctx.Value(overrideContextKey{}).(Override)
	return o, ok
}

// correlationContextKey is the context key for the caller's correlation ID.
type correlationContextKey struct{}

// WithCorrelationID attaches a correlation ID that is forwarded upstream.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationContextKey{}, id)
}

// CorrelationIDFromContext returns the correlation ID, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationContextKey{}).(string)
	return id
}

// Resolver produces the RequestContext for one call.
type Resolver interface {
	Resolve(ctx context.Context) (RequestContext, error)
}

// StaticResolver resolves credentials from configuration, letting a per-call
// Override replace them. It holds no mutable state.
type StaticResolver struct {
	base         Credentials
	allowBaseURL bool
}

// NewStaticResolver builds a resolver from upstream configuration.
func NewStaticResolver(cfg *config.UpstreamConfig) *StaticResolver {
	r := &StaticResolver{
		base: Credentials{
			BaseURL:    strings.TrimRight(cfg.BaseURL, "/"),
			AuthHeader: cfg.AuthHeader,
		},
		allowBaseURL: cfg.AllowBaseURLOverride,
	}
	if cfg.Token != "" {
		r.base.AuthValue = formatAuth(cfg.AuthScheme, cfg.Token)
	}
	return r
}

// Resolve returns configured credentials, replaced by any per-call override.
// An override base URL is ignored unless overrides are allowed.
func (r *StaticResolver) Resolve(ctx context.Context) (RequestContext, error) {
	rc := RequestContext{
		Credentials:   r.base,
		CorrelationID: CorrelationIDFromContext(ctx),
	}

	o, ok := OverrideFromContext(ctx)
	if !ok {
		return rc, nil
	}
	if o.AuthValue != "" {
		rc.AuthValue = o.AuthValue
	}
	if o.BaseURL != "" && r.allowBaseURL {
		u, err := url.Parse(o.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return RequestContext{}, &InvalidOverrideError{Value: o.BaseURL}
		}
		rc.BaseURL = strings.TrimRight(o.BaseURL, "/")
	}
	return rc, nil
}

// InvalidOverrideError reports an unusable per-call base URL.
type InvalidOverrideError struct {
	Value string
}

func (e *InvalidOverrideError) Error() string {
	return "invalid upstream base URL override: " + e.Value
}

func formatAuth(scheme, token string) string {
	if scheme == "" {
		return token
	}
	return scheme + " " + token
}
