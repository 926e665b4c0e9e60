package upstream

import "time"

// AttemptObservation describes one HTTP attempt.
type AttemptObservation struct {
	Operation string
	Method    string
	Attempt   int // zero-based
	Status    int
	Kind      Kind
	Class     Class
	Duration  time.Duration
}

// CallObservation describes a whole Send, retries included.
type CallObservation struct {
	Operation string
	Method    string
	Attempts  int
	Status    int
	Class     Class
	Success   bool
	Duration  time.Duration
}

// Observer receives client telemetry. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	ObserveAttempt(AttemptObservation)
	ObserveCall(CallObservation)
}

type noopObserver struct{}

func (noopObserver) ObserveAttempt(AttemptObservation) {}
func (noopObserver) ObserveCall(CallObservation)       {}
