package common

import (
	"bytes"
	"os"
	"sync"
	"testing"
)

func TestNewLoggerFromConfig_ReturnsNonNil(t *testing.T) {
	logger := NewLoggerFromConfig(LoggingConfig{Level: "error", Outputs: []string{"console"}})
	if logger == nil {
		t.Fatal("NewLoggerFromConfig returned nil")
	}
}

func TestNewLoggerFromConfig_FluentAPI(t *testing.T) {
	// Must not panic; these are the event methods used across toolgate.
	logger := NewLoggerFromConfig(LoggingConfig{Level: "error", Outputs: []string{"console"}})
	logger.Info().Str("tool", "search_nodes").Msg("test message")
	logger.Warn().Int("attempt", 2).Msg("warning")
	logger.Error().Err(nil).Msg("error message")
	logger.Debug().Int64("duration_ms", 12).Bool("ok", true).Msg("debug")
}

func TestLoggerWithOutput_WritesToProvidedWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := newLoggerWithOutput("info", &buf)
	logger.Info().Str("key", "value").Msg("hello")

	if buf.String() == "" {
		t.Error("expected output to provided writer, got empty string")
	}
}

func TestNewSilentLogger_DoesNotWriteToGlobalWriters(t *testing.T) {
	var buf bytes.Buffer
	_ = newLoggerWithOutput("info", &buf)
	buf.Reset()

	silent := NewSilentLogger()
	silent.Info().Str("key", "value").Msg("this should NOT appear")
	silent.Error().Msg("this should NOT appear either")

	if buf.Len() > 0 {
		t.Errorf("silent logger wrote %d bytes to global writer: %s", buf.Len(), buf.String())
	}
}

func TestNewLoggerFromConfig_DoesNotWriteToStdout(t *testing.T) {
	// stdout is the JSON-RPC channel in stdio mode.
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	logger := NewLoggerFromConfig(LoggingConfig{Level: "info", Outputs: []string{"console"}})
	logger.Info().Str("tool", "test").Msg("this must not go to stdout")
	logger.Error().Msg("neither should this")

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	buf.ReadFrom(r)
	r.Close()

	if buf.Len() > 0 {
		t.Errorf("logger wrote %d bytes to stdout: %s", buf.Len(), buf.String())
	}
}

func TestWithCorrelationId_ReturnsNewLogger(t *testing.T) {
	logger := NewSilentLogger()
	child := logger.WithCorrelationId("corr-123")
	if child == nil {
		t.Fatal("WithCorrelationId returned nil")
	}
	if child == logger {
		t.Error("WithCorrelationId should return a new logger")
	}
	child.Info().Msg("correlated")
}

func TestConcurrentLogging_NoRaceOrPanic(t *testing.T) {
	logger := NewSilentLogger()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l := logger.WithCorrelationId("call")
			for j := 0; j < 50; j++ {
				l.Debug().Int("worker", n).Int("iteration", j).Msg("concurrent")
			}
		}(i)
	}
	wg.Wait()
}
