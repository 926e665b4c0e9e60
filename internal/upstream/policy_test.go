package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/toolgate/internal/config"
)

func defaultPolicy() Policy {
	return Policy{
		Timeout:          10 * time.Second,
		MaxRetries:       2,
		TransportBackoff: 300 * time.Millisecond,
		StatusBackoff:    500 * time.Millisecond,
		MaxRetryAfter:    30 * time.Second,
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := defaultPolicy()
	tests := []struct {
		name    string
		out     Outcome
		attempt int
		want    time.Duration
	}{
		{"transport first", Outcome{Class: ClassTransport}, 0, 300 * time.Millisecond},
		{"transport second", Outcome{Class: ClassTransport}, 1, 600 * time.Millisecond},
		{"status first", Outcome{Class: ClassRateLimited}, 0, 500 * time.Millisecond},
		{"status second", Outcome{Class: ClassRateLimited}, 1, time.Second},
		{"retry-after wins", Outcome{Class: ClassRateLimited, RetryAfter: 1200 * time.Millisecond}, 1, 1200 * time.Millisecond},
		{"retry-after capped", Outcome{Class: ClassRateLimited, RetryAfter: time.Hour}, 0, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Delay(tt.out, tt.attempt))
		})
	}
}

func TestPolicy_Budget(t *testing.T) {
	p := defaultPolicy()
	// 3 attempts of 10s plus two waits, each at most the retry-after cap.
	assert.Equal(t, 30*time.Second+60*time.Second, p.Budget())

	p.MaxRetries = 0
	assert.Equal(t, 10*time.Second, p.Budget())
}

func TestPolicy_FromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig().Upstream
	p := PolicyFromConfig(&cfg)
	assert.Equal(t, defaultPolicy(), p)
}

func TestPolicy_Normalized(t *testing.T) {
	p := Policy{MaxRetries: -3}.normalized()
	assert.Equal(t, 0, p.MaxRetries)
	assert.Equal(t, 10*time.Second, p.Timeout)
	assert.Equal(t, 30*time.Second, p.MaxRetryAfter)
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"150", 150 * time.Millisecond},
		{" 20 ", 20 * time.Millisecond},
		{"-5", 0},
		{"Wed, 21 Oct 2015 07:28:00 GMT", 0},
	}
	for _, tt := range tests {
		h := http.Header{}
		if tt.header != "" {
			h.Set("Retry-After", tt.header)
		}
		assert.Equal(t, tt.want, parseRetryAfter(h), "header %q", tt.header)
	}
}

func TestBusinessCheck(t *testing.T) {
	check := &BusinessCheck{Field: "result.status", SuccessValues: []string{"OK"}}

	failed, _ := check.Failed([]byte(`{"result":{"status":"OK"}}`))
	assert.False(t, failed)

	failed, _ = check.Failed([]byte(`{"other":1}`))
	assert.False(t, failed, "missing field is not a failure")

	failed, reason := check.Failed([]byte(`{"result":{"status":"DENIED"},"message":"quota"}`))
	assert.True(t, failed)
	assert.Equal(t, `upstream reported result.status="DENIED": quota`, reason)

	var none *BusinessCheck
	failed, _ = none.Failed([]byte(`{"status":"FAILED"}`))
	assert.False(t, failed)
}

func TestBreakers_OpenAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var transitions atomic.Int32
	breakers := NewBreakers(&BreakerSettings{
		FailureThreshold: 2,
		Interval:         time.Minute,
		OpenTimeout:      time.Minute,
	}, func(endpoint string, from, to gobreaker.State) {
		if to == gobreaker.StateOpen {
			transitions.Add(1)
		}
	})

	c, _ := newTestClient(t, nil, WithBreakers(breakers))
	for i := 0; i < 2; i++ {
		out := c.Send(context.Background(), getIndents, rcFor(srv), nil)
		require.Equal(t, ClassUpstream, out.Class)
	}

	out := c.Send(context.Background(), getIndents, rcFor(srv), nil)
	assert.Equal(t, ClassCircuitOpen, out.Class)
	assert.Equal(t, 0, out.Attempts)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), transitions.Load())
}

func TestBreakers_ClientErrorsDoNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	breakers := NewBreakers(&BreakerSettings{FailureThreshold: 1, OpenTimeout: time.Minute}, nil)
	c, _ := newTestClient(t, nil, WithBreakers(breakers))
	for i := 0; i < 3; i++ {
		out := c.Send(context.Background(), getIndents, rcFor(srv), nil)
		assert.Equal(t, ClassUpstream, out.Class)
	}
}

func TestBreakerSettingsFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig().Upstream.Breaker
	assert.Nil(t, BreakerSettingsFromConfig(&cfg))

	cfg.Enabled = true
	s := BreakerSettingsFromConfig(&cfg)
	require.NotNil(t, s)
	assert.Equal(t, uint32(5), s.FailureThreshold)
	assert.Equal(t, 30*time.Second, s.OpenTimeout)
	assert.Nil(t, NewBreakers(nil, nil))
}
