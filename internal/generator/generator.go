// Package generator talks to the text-generation service that executes work
// items.
//
// A Generator turns a prompt into a Stream of chunks. Two backends exist:
// ClaudeCLI drives the claude binary in stream-json mode, and LangChain
// wraps any langchaingo model (Anthropic and OpenAI are wired by New).
// WithRateLimit bounds how often either is called.
package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ErrTimeout is returned by a stream whose generation exceeded its timeout.
var ErrTimeout = errors.New("generation timed out")

// Options tune a single Generate call.
type Options struct {
	Model        string
	AllowedTools []string

	// Timeout bounds the whole call, including reading the stream.
	// Zero means no timeout beyond the caller's context.
	Timeout time.Duration
}

// Usage is what a generation cost.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Tokens returns input plus output tokens.
func (u Usage) Tokens() int {
	return u.InputTokens + u.OutputTokens
}

// Chunk is one piece of streamed output. Usage is set on the chunk that
// reports it, usually the last.
type Chunk struct {
	Text  string
	Usage *Usage
}

// Generator produces text for a prompt.
type Generator interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Generate starts a generation. Errors that happen before any output
	// is produced may be returned directly; later ones arrive through the
	// stream.
	Generate(ctx context.Context, prompt string, opts Options) (*Stream, error)
}

// EmitFunc hands a chunk to the consumer. It returns false once the stream
// is cancelled and the producer should stop.
type EmitFunc func(Chunk) bool

// Stream is the output of one generation. It is consumed by a single
// goroutine with Next until Next returns an error; io.EOF marks a clean end.
type Stream struct {
	ch     chan Chunk
	err    error
	cancel context.CancelFunc
	once   sync.Once
}

// NewStream runs produce in its own goroutine under timeout and streams
// what it emits. Errors caused by the deadline are reported as ErrTimeout.
func NewStream(ctx context.Context, timeout time.Duration, produce func(ctx context.Context, emit EmitFunc) error) *Stream {
	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	s := &Stream{ch: make(chan Chunk), cancel: cancel}
	emit := func(c Chunk) bool {
		select {
		case s.ch <- c:
			return true
		case <-runCtx.Done():
			return false
		}
	}

	go func() {
		defer close(s.ch)
		err := produce(runCtx, emit)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			if timeout > 0 {
				err = fmt.Errorf("%w after %s", ErrTimeout, timeout)
			} else {
				err = ErrTimeout
			}
		} else if err == nil && runCtx.Err() != nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		s.err = err
	}()
	return s
}

// Next returns the next chunk, io.EOF at the end of a successful stream, or
// the error that ended it.
func (s *Stream) Next() (Chunk, error) {
	c, ok := <-s.ch
	if ok {
		return c, nil
	}
	if s.err != nil {
		return Chunk{}, s.err
	}
	return Chunk{}, io.EOF
}

// Close cancels the generation and waits for the producer to stop. It is
// safe to call more than once and after the stream ended.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.cancel()
		for range s.ch {
		}
	})
}

// Collect reads s to the end and closes it. It returns the concatenated
// text and the last reported usage. On error the text read so far is
// returned alongside it.
func Collect(s *Stream) (string, Usage, error) {
	defer s.Close()

	var b strings.Builder
	var usage Usage
	for {
		c, err := s.Next()
		if errors.Is(err, io.EOF) {
			return b.String(), usage, nil
		}
		if err != nil {
			return b.String(), usage, err
		}
		b.WriteString(c.Text)
		if c.Usage != nil {
			usage = *c.Usage
		}
	}
}
