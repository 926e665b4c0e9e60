package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/bobmcallan/toolgate/internal/schema"
	"github.com/bobmcallan/toolgate/internal/upstream"
)

// ErrorKind classifies a failed tool call.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation_error"
	KindTransport   ErrorKind = "transport_error"
	KindRateLimited ErrorKind = "rate_limited"
	KindUpstream    ErrorKind = "upstream_error"
	KindUnknownTool ErrorKind = "unknown_tool"
	KindCircuitOpen ErrorKind = "circuit_open"
	KindCanceled    ErrorKind = "canceled"
	KindInternal    ErrorKind = "internal_error"
)

// ToolError describes why a call failed, with enough upstream detail for
// the caller to diagnose it.
type ToolError struct {
	Kind           ErrorKind          `json:"kind"`
	Message        string             `json:"message"`
	UpstreamStatus int                `json:"upstreamStatus,omitempty"`
	Payload        json.RawMessage    `json:"payload,omitempty"`
	Violations     []schema.Violation `json:"violations,omitempty"`
	Attempts       int                `json:"attempts,omitempty"`
}

func (e *ToolError) Error() string {
	if e.UpstreamStatus != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.UpstreamStatus)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Result is the only shape a call produces: OK with Data, or not OK with Error.
type Result struct {
	OK    bool
	Data  any
	Error *ToolError
}

func succeeded(data any) Result {
	return Result{OK: true, Data: data}
}

func failed(err *ToolError) Result {
	return Result{OK: false, Error: err}
}

// kindForClass maps a terminal upstream outcome class to the caller-facing kind.
func kindForClass(c upstream.Class) ErrorKind {
	switch c {
	case upstream.ClassTransport:
		return KindTransport
	case upstream.ClassRateLimited:
		return KindRateLimited
	case upstream.ClassUpstream:
		return KindUpstream
	case upstream.ClassCircuitOpen:
		return KindCircuitOpen
	case upstream.ClassCanceled:
		return KindCanceled
	case upstream.ClassInvalidRequest:
		return KindValidation
	}
	return KindInternal
}

func fromOutcome(out upstream.Outcome) *ToolError {
	return &ToolError{
		Kind:           kindForClass(out.Class),
		Message:        out.Reason,
		UpstreamStatus: out.Status,
		Payload:        nonNullPayload(out.Payload),
		Attempts:       out.Attempts,
	}
}

func nonNullPayload(p json.RawMessage) json.RawMessage {
	if len(p) == 0 || string(p) == "null" {
		return nil
	}
	return p
}
