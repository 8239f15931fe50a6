// Package embedder computes text embeddings through an OpenAI-compatible
// endpoint.
package embedder

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/graphmem/pkg/config"
	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/log"
)

const maxAttempts = 3

// Client batches embedding requests and L2-normalises the result vectors so
// cosine similarity behaves regardless of the backing model.
type Client struct {
	api        openai.Client
	model      string
	dimensions int
	batchSize  int
	parallel   int
	logger     *slog.Logger
}

var _ domain.Embedder = (*Client)(nil)

func New(llm config.LLMConfig, cfg config.EmbeddingConfig) *Client {
	return &Client{
		api: openai.NewClient(
			option.WithBaseURL(llm.BaseURL),
			option.WithAPIKey(llm.APIKey),
		),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
		parallel:   cfg.Parallel,
		logger:     log.WithModule("embedder"),
	}
}

func (c *Client) Dimensions() int { return c.dimensions }

// Embed returns one normalised vector per input text, in input order.
// Batches run with bounded parallelism.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(c.parallel)

	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end
		group.Go(func() error {
			batch, err := c.embedBatch(ctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// EmbedQuery embeds a single search query.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt)
			c.logger.Warn("embedding batch retry", "attempt", attempt+1, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: c.model,
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
		})
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Data) != len(texts) {
			lastErr = domain.DependencyError("embedder", errCount{want: len(texts), got: len(resp.Data)})
			continue
		}

		vectors := make([][]float32, len(texts))
		for _, item := range resp.Data {
			vectors[item.Index] = Normalize(toFloat32(item.Embedding))
		}
		return vectors, nil
	}
	return nil, domain.DependencyError("embedder", lastErr)
}

func backoff(attempt int) time.Duration {
	base := time.Second * time.Duration(1<<attempt)
	jitter := time.Duration(rand.Int63n(int64(base / 2)))
	return base + jitter
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// Normalize scales a vector to unit length. The zero vector passes through
// unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

type errCount struct{ want, got int }

func (e errCount) Error() string {
	return "embedding count mismatch"
}
