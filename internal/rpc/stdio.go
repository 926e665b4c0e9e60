package rpc

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	maxLineBytes       = 8 << 20
	defaultConcurrency = 16
)

// StdioOption configures Serve.
type StdioOption func(*stdioConfig)

type stdioConfig struct {
	concurrency int
}

// WithConcurrency bounds how many messages are handled at once. Reading
// pauses while the bound is reached.
func WithConcurrency(n int) StdioOption {
	return func(c *stdioConfig) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// Serve reads newline-delimited envelopes from in and writes one response
// line per request to out. Requests are handled concurrently so responses
// may be written out of order; callers match them by id. Serve returns when
// in reaches EOF or ctx is canceled, after in-flight calls have finished.
func (h *Handler) Serve(ctx context.Context, in io.Reader, out io.Writer, opts ...StdioOption) error {
	cfg := stdioConfig{concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(&cfg)
	}

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			msg := make([]byte, len(line))
			copy(msg, line)
			select {
			case lines <- msg:
			case <-done:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	w := &lineWriter{out: out}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)

	h.logger.Info().Int("concurrency", cfg.concurrency).Msg("stdio transport started")

loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case msg, ok := <-lines:
			if !ok {
				break loop
			}
			g.Go(func() error {
				resp := h.HandleMessage(gctx, msg)
				if resp == nil {
					return nil
				}
				if err := w.writeLine(resp); err != nil {
					return fmt.Errorf("failed to write response: %w", err)
				}
				return nil
			})
		}
	}

	err := g.Wait()
	if err == nil {
		select {
		case err = <-readErr:
			if err != nil {
				err = fmt.Errorf("failed to read input: %w", err)
			}
		default:
		}
	}
	h.logger.Info().Msg("stdio transport stopped")
	return err
}

// lineWriter serializes whole-line writes from concurrent handlers.
type lineWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *lineWriter) writeLine(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, b...)
	buf = append(buf, '\n')
	_, err := w.out.Write(buf)
	return err
}
