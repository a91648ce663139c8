package generator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingGenerator struct {
	calls int
}

func (c *countingGenerator) Name() string { return "counting" }

func (c *countingGenerator) Generate(ctx context.Context, prompt string, opts Options) (*Stream, error) {
	c.calls++
	return NewStream(ctx, opts.Timeout, func(ctx context.Context, emit EmitFunc) error {
		emit(Chunk{Text: prompt})
		return nil
	}), nil
}

func TestWithRateLimit(t *testing.T) {
	inner := &countingGenerator{}
	assert.Same(t, inner, WithRateLimit(inner, 0, 1), "disabled limit returns the generator")

	g := WithRateLimit(inner, 1, 0)
	assert.Equal(t, "counting", g.Name())

	s, err := g.Generate(context.Background(), "first", Options{})
	require.NoError(t, err)
	text, _, err := Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "first", text)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Generate(ctx, "second", Options{})
	assert.Error(t, err, "second call within the minute must wait past the deadline")
	assert.Equal(t, 1, inner.calls)
}
