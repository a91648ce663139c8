package generator

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_Collect(t *testing.T) {
	s := NewStream(context.Background(), time.Second, func(ctx context.Context, emit EmitFunc) error {
		emit(Chunk{Text: "hello "})
		emit(Chunk{Text: "world", Usage: &Usage{InputTokens: 3, OutputTokens: 2}})
		return nil
	})

	text, usage, err := Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
	assert.Equal(t, 5, usage.Tokens())

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStream_ProducerError(t *testing.T) {
	boom := errors.New("connection reset")
	s := NewStream(context.Background(), 0, func(ctx context.Context, emit EmitFunc) error {
		emit(Chunk{Text: "partial"})
		return boom
	})

	text, _, err := Collect(s)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "partial", text)
}

func TestStream_Timeout(t *testing.T) {
	s := NewStream(context.Background(), 20*time.Millisecond, func(ctx context.Context, emit EmitFunc) error {
		emit(Chunk{Text: "started"})
		<-ctx.Done()
		return ctx.Err()
	})

	text, _, err := Collect(s)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "after 20ms")
	assert.Equal(t, "started", text)
}

func TestStream_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewStream(ctx, time.Minute, func(ctx context.Context, emit EmitFunc) error {
		<-ctx.Done()
		return nil
	})
	cancel()

	_, _, err := Collect(s)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestStream_CloseStopsProducer(t *testing.T) {
	stopped := make(chan struct{})
	s := NewStream(context.Background(), 0, func(ctx context.Context, emit EmitFunc) error {
		defer close(stopped)
		for emit(Chunk{Text: "x"}) {
		}
		return nil
	})

	c, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "x", c.Text)

	s.Close()
	s.Close()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("producer still running after Close")
	}
}
