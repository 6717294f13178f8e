package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/raphaelgruber/escograph/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// stubModel satisfies langchaingo's embeddings.Embedder.
type stubModel struct {
	dim int
	err error
}

func (s stubModel) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dim)
	}
	return out, nil
}

func (s stubModel) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return make([]float32, s.dim), nil
}

func TestEmbedBatch(t *testing.T) {
	e := newEmbedder(stubModel{dim: 4}, "stub", 4)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)

	vecs, err = e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestEmbedDimensionMismatch(t *testing.T) {
	e := newEmbedder(stubModel{dim: 3}, "stub", 4)

	_, err := e.EmbedBatch(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "dimension mismatch")

	_, err = e.Embed(context.Background(), "a")
	assert.ErrorContains(t, err, "dimension mismatch")
}

func TestEmbedPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	e := newEmbedder(stubModel{err: boom}, "stub", 4)

	_, err := e.Embed(context.Background(), "a")
	assert.ErrorIs(t, err, boom)
}

func TestNewEmbedderRejectsUnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.EmbedProvider = "carrier-pigeon"

	_, err := NewEmbedder(context.Background(), cfg)
	assert.ErrorContains(t, err, "unsupported embedding provider")

	cfg.EmbedProvider = config.ProviderOpenAI
	cfg.OpenAIAPIKey = ""
	_, err = NewEmbedder(context.Background(), cfg)
	assert.ErrorContains(t, err, "API key required")
}

// countingModel returns one-dimensional vectors and counts provider calls.
type countingModel struct {
	calls *int
}

func (c countingModel) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	*c.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (c countingModel) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	*c.calls++
	return []float32{float32(len(text))}, nil
}

func TestEmbedBatchSplitsRequests(t *testing.T) {
	var calls int
	e := newEmbedder(countingModel{calls: &calls}, "counting", 1)

	texts := make([]string, maxRequestTexts+5)
	for i := range texts {
		texts[i] = "skill"
	}
	texts[len(texts)-1] = "  manage\n  staff "

	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vecs, len(texts))
	assert.Equal(t, 2, calls)
	assert.Equal(t, float32(len("manage staff")), vecs[len(vecs)-1][0], "whitespace is collapsed")
}

func TestEmbedBlankText(t *testing.T) {
	var calls int
	e := newEmbedder(countingModel{calls: &calls}, "counting", 1)

	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, float32(len(placeholderText)), vec[0])
}

func TestEmbedRespectsCanceledContext(t *testing.T) {
	var calls int
	e := newEmbedder(countingModel{calls: &calls}, "counting", 1)
	e.limiter = rate.NewLimiter(rate.Limit(1), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.EmbedBatch(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDimensionMismatchSentinel(t *testing.T) {
	e := newEmbedder(stubModel{dim: 2}, "stub", 4)
	_, err := e.Embed(context.Background(), "a")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
