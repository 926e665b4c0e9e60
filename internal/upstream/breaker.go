package upstream

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/bobmcallan/toolgate/internal/config"
)

// errCountedFailure marks an outcome the breaker should count against the endpoint.
var errCountedFailure = errors.New("upstream failure")

// BreakerSettings configures per-endpoint circuit breakers.
type BreakerSettings struct {
	FailureThreshold uint32
	Interval         time.Duration
	OpenTimeout      time.Duration
	MaxHalfOpen      uint32
}

// BreakerSettingsFromConfig returns nil when breakers are disabled.
func BreakerSettingsFromConfig(cfg *config.BreakerConfig) *BreakerSettings {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return &BreakerSettings{
		FailureThreshold: cfg.FailureThreshold,
		Interval:         cfg.GetInterval(),
		OpenTimeout:      cfg.GetOpenTimeout(),
		MaxHalfOpen:      cfg.MaxHalfOpen,
	}
}

// Breakers holds one circuit breaker per endpoint, created lazily.
type Breakers struct {
	settings BreakerSettings
	breakers sync.Map // endpoint -> *gobreaker.CircuitBreaker[Outcome]
	onChange func(endpoint string, from, to gobreaker.State)
}

// NewBreakers returns nil if settings is nil, which disables breaking.
func NewBreakers(settings *BreakerSettings, onChange func(endpoint string, from, to gobreaker.State)) *Breakers {
	if settings == nil {
		return nil
	}
	s := *settings
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.MaxHalfOpen == 0 {
		s.MaxHalfOpen = 1
	}
	return &Breakers{settings: s, onChange: onChange}
}

// Get returns the breaker for an endpoint, creating it if needed.
func (b *Breakers) Get(endpoint string) *gobreaker.CircuitBreaker[Outcome] {
	if v, ok := b.breakers.Load(endpoint); ok {
		return v.(*gobreaker.CircuitBreaker[Outcome])
	}

	settings := gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: b.settings.MaxHalfOpen,
		Interval:    b.settings.Interval,
		Timeout:     b.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.settings.FailureThreshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if b.onChange != nil {
				b.onChange(endpoint, from, to)
			}
		},
	}

	cb := gobreaker.NewCircuitBreaker[Outcome](settings)
	actual, _ := b.breakers.LoadOrStore(endpoint, cb)
	return actual.(*gobreaker.CircuitBreaker[Outcome])
}

// run executes call under the endpoint's breaker. Transport failures,
// exhausted rate limiting and 5xx answers count as failures; client errors,
// business failures and cancellations do not.
func (b *Breakers) run(endpoint string, call func() Outcome) Outcome {
	if b == nil {
		return call()
	}

	out, err := b.Get(endpoint).Execute(func() (Outcome, error) {
		out := call()
		if countsAgainstBreaker(out) {
			return out, errCountedFailure
		}
		return out, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fatal(ClassCircuitOpen, 0, nil, "circuit open for "+endpoint)
	}
	return out
}

func countsAgainstBreaker(out Outcome) bool {
	switch out.Class {
	case ClassTransport, ClassRateLimited:
		return true
	case ClassUpstream:
		return out.Status >= 500
	}
	return false
}
