// Package llm turns taxonomy text into embedding vectors through langchaingo.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/raphaelgruber/escograph/internal/config"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/embeddings/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// ErrDimensionMismatch is returned when the provider answers with vectors of
// a different size than the configured index dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// maxRequestTexts caps the texts sent to the provider per request. Skill
// batches can exceed what hosted providers accept in one call.
const maxRequestTexts = 96

// placeholderText stands in for blank labels, which some providers reject.
const placeholderText = "unlabeled concept"

// Embedder produces fixed-size vectors for occupations, skills and queries.
type Embedder struct {
	model     embeddings.Embedder
	name      string
	dimension int
	limiter   *rate.Limiter // nil when unlimited
}

// NewEmbedder builds the provider named by cfg.EmbedProvider. Bedrock
// resolves AWS credentials from the default chain.
func NewEmbedder(ctx context.Context, cfg config.Config) (*Embedder, error) {
	model, err := newProviderModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e := newEmbedder(model, cfg.EmbedModel, cfg.EmbedDimension)
	if cfg.EmbedRateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.EmbedRateLimit), 1)
	}
	slog.Info("embedder ready", "provider", cfg.EmbedProvider, "model", cfg.EmbedModel,
		"dimension", cfg.EmbedDimension, "rate_limit", cfg.EmbedRateLimit)
	return e, nil
}

func newProviderModel(ctx context.Context, cfg config.Config) (embeddings.Embedder, error) {
	switch cfg.EmbedProvider {
	case config.ProviderOllama:
		client, err := ollama.New(
			ollama.WithModel(cfg.EmbedModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		return wrapClient("ollama", client)

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("OpenAI API key required")
		}
		client, err := openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithEmbeddingModel(cfg.EmbedModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return wrapClient("openai", client)

	case config.ProviderBedrock:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		model, err := bedrock.NewBedrock(
			bedrock.WithModel(cfg.EmbedModel),
			bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock embedder: %w", err)
		}
		return model, nil

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.EmbedProvider)
	}
}

func wrapClient(provider string, client embeddings.EmbedderClient) (embeddings.Embedder, error) {
	model, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(maxRequestTexts))
	if err != nil {
		return nil, fmt.Errorf("create %s embedder: %w", provider, err)
	}
	return model, nil
}

func newEmbedder(model embeddings.Embedder, name string, dimension int) *Embedder {
	return &Embedder{model: model, name: name, dimension: dimension}
}

// Embed returns the vector for a search query.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	vec, err := e.model.EmbedQuery(ctx, normalizeText(text))
	if err != nil {
		slog.Warn("query embedding failed", "model", e.name, "text_len", len(text), "error", err)
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if err := e.check(0, vec); err != nil {
		return nil, err
	}
	slog.Debug("query embedded", "model", e.name, "text_len", len(text), "duration_ms", time.Since(start).Milliseconds())
	return vec, nil
}

// EmbedBatch returns one vector per text, in order. Texts are sent in
// requests of at most maxRequestTexts.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxRequestTexts {
		if err := e.wait(ctx); err != nil {
			return nil, err
		}
		end := min(start+maxRequestTexts, len(texts))

		chunk := make([]string, end-start)
		for i, t := range texts[start:end] {
			chunk[i] = normalizeText(t)
		}

		began := time.Now()
		vecs, err := e.model.EmbedDocuments(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("embed texts %d-%d: %w", start, end-1, err)
		}
		if len(vecs) != len(chunk) {
			return nil, fmt.Errorf("embed texts %d-%d: got %d vectors", start, end-1, len(vecs))
		}
		for i, v := range vecs {
			if err := e.check(start+i, v); err != nil {
				return nil, err
			}
		}
		out = append(out, vecs...)
		slog.Debug("texts embedded", "model", e.name, "count", len(chunk), "duration_ms", time.Since(began).Milliseconds())
	}
	return out, nil
}

// wait blocks until the limiter admits one provider request.
func (e *Embedder) wait(ctx context.Context) error {
	if e.limiter == nil {
		return ctx.Err()
	}
	return e.limiter.Wait(ctx)
}

func (e *Embedder) check(i int, v []float32) error {
	if len(v) != e.dimension {
		return fmt.Errorf("%w: text %d got %d, want %d", ErrDimensionMismatch, i, len(v), e.dimension)
	}
	return nil
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.name
}

// Dimension returns the configured vector size.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// normalizeText collapses whitespace; ESCO descriptions carry hard line breaks.
func normalizeText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return placeholderText
	}
	return s
}
