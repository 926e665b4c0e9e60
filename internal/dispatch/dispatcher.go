package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/bobmcallan/toolgate/internal/common"
	"github.com/bobmcallan/toolgate/internal/schema"
	"github.com/bobmcallan/toolgate/internal/upstream"
)

// State is the stage a call has reached.
type State string

const (
	StateValidating  State = "validating"
	StateCalling     State = "calling"
	StateNormalizing State = "normalizing"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Sender performs one upstream operation with retries. *upstream.Client
// implements it.
type Sender interface {
	Send(ctx context.Context, op upstream.Operation, rc upstream.RequestContext, args map[string]any) upstream.Outcome
}

// ToolObservation describes one finished tool call.
type ToolObservation struct {
	Tool       string
	Attempts   int
	DurationMS int64
	Success    bool
	ErrorKind  ErrorKind
	FailedIn   State
}

// Observer receives tool-level telemetry.
type Observer interface {
	ObserveTool(ToolObservation)
}

// Dispatcher runs tool calls: validate, call upstream, normalize.
// It is safe for concurrent use.
type Dispatcher struct {
	registry *Registry
	sender   Sender
	resolver upstream.Resolver
	budget   time.Duration
	logger   *common.Logger
	observer Observer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithObserver attaches tool-level telemetry.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithBudget bounds each call's total duration. Zero leaves calls bounded
// only by the caller's context and the sender's own policy.
func WithBudget(budget time.Duration) Option {
	return func(d *Dispatcher) { d.budget = budget }
}

// NewDispatcher creates a dispatcher over an immutable registry.
func NewDispatcher(registry *Registry, sender Sender, resolver upstream.Resolver, logger *common.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		sender:   sender,
		resolver: resolver,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the tool registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Execute runs the named tool with raw caller arguments. It never panics
// and never returns a transport error directly: every outcome is a Result.
func (d *Dispatcher) Execute(ctx context.Context, name string, rawArgs map[string]any) (res Result) {
	start := time.Now()
	logger := d.logger
	if id := upstream.CorrelationIDFromContext(ctx); id != "" {
		logger = logger.WithCorrelationId(id)
	}

	state := StateValidating
	attempts := 0

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("tool", name).
				Str("state", string(state)).
				Str("panic", fmt.Sprint(r)).
				Str("stack", string(debug.Stack())).
				Msg("tool call panicked")
			res = failed(&ToolError{Kind: KindInternal, Message: fmt.Sprintf("internal error while %s", state)})
		}

		failedIn := State("")
		if !res.OK {
			failedIn = state
		}
		d.report(logger, name, res, attempts, failedIn, time.Since(start))
	}()

	desc, ok := d.registry.Lookup(name)
	if !ok {
		return failed(&ToolError{Kind: KindUnknownTool, Message: fmt.Sprintf("unknown tool: %q", name)})
	}

	args, err := desc.Schema.Validate(rawArgs)
	if err != nil {
		toolErr := &ToolError{Kind: KindValidation, Message: err.Error()}
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			toolErr.Violations = verr.Violations
		}
		return failed(toolErr)
	}

	state = StateCalling
	logger.Debug().Str("tool", name).Str("state", string(state)).Msg("tool call")

	rc, err := d.resolver.Resolve(ctx)
	if err != nil {
		var invalid *upstream.InvalidOverrideError
		if errors.As(err, &invalid) {
			return failed(&ToolError{Kind: KindValidation, Message: err.Error()})
		}
		return failed(&ToolError{Kind: KindInternal, Message: fmt.Sprintf("resolve upstream credentials: %v", err)})
	}

	callCtx := ctx
	if d.budget > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.budget)
		defer cancel()
	}

	out := d.sender.Send(callCtx, desc.Operation, rc, args)
	attempts = out.Attempts
	if !out.OK() {
		return failed(fromOutcome(out))
	}

	state = StateNormalizing
	data := desc.Normalizer(out.Payload)

	state = StateDone
	return succeeded(data)
}

func (d *Dispatcher) report(logger *common.Logger, name string, res Result, attempts int, failedIn State, elapsed time.Duration) {
	obs := ToolObservation{
		Tool:       name,
		Attempts:   attempts,
		DurationMS: elapsed.Milliseconds(),
		Success:    res.OK,
		FailedIn:   failedIn,
	}

	if res.OK {
		logger.Info().
			Str("tool", name).
			Int("attempts", attempts).
			Int64("duration_ms", obs.DurationMS).
			Msg("tool call completed")
	} else {
		obs.ErrorKind = res.Error.Kind
		event := logger.Warn()
		if res.Error.Kind == KindInternal {
			event = logger.Error()
		}
		event.
			Str("tool", name).
			Str("kind", string(res.Error.Kind)).
			Str("failed_in", string(failedIn)).
			Int("status", res.Error.UpstreamStatus).
			Int("attempts", attempts).
			Int64("duration_ms", obs.DurationMS).
			Str("error", res.Error.Message).
			Msg("tool call failed")
	}

	if d.observer != nil {
		d.observer.ObserveTool(obs)
	}
}
