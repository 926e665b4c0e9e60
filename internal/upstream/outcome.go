package upstream

import (
	"encoding/json"
	"time"
)

// Kind is the control decision one attempt produces for the retry loop.
type Kind int

const (
	KindSuccess Kind = iota
	KindRetryable
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// Class names the failure family of a non-successful outcome.
type Class string

const (
	ClassNone           Class = ""
	ClassTransport      Class = "transport"       // timeout, DNS, connection refused/reset
	ClassRateLimited    Class = "rate_limited"    // 429, 502, 503, 504
	ClassUpstream       Class = "upstream"        // other non-2xx, or a 2xx carrying a business failure
	ClassCanceled       Class = "canceled"        // caller went away or the call deadline passed
	ClassCircuitOpen    Class = "circuit_open"    // breaker refused the call
	ClassInvalidRequest Class = "invalid_request" // request could not be built from the arguments
)

// Outcome is the tagged result of an attempt, and of a whole Send. Send only
// ever returns KindSuccess or KindFatal; KindRetryable never leaves the loop.
type Outcome struct {
	Kind       Kind
	Class      Class
	Status     int
	Payload    json.RawMessage
	Reason     string
	RetryAfter time.Duration
	Attempts   int
	Duration   time.Duration
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Kind == KindSuccess
}

func success(status int, payload json.RawMessage) Outcome {
	return Outcome{Kind: KindSuccess, Status: status, Payload: payload}
}

func retryable(class Class, status int, payload json.RawMessage, reason string, retryAfter time.Duration) Outcome {
	return Outcome{Kind: KindRetryable, Class: class, Status: status, Payload: payload, Reason: reason, RetryAfter: retryAfter}
}

func fatal(class Class, status int, payload json.RawMessage, reason string) Outcome {
	return Outcome{Kind: KindFatal, Class: class, Status: status, Payload: payload, Reason: reason}
}
