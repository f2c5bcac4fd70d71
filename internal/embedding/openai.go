package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/hyperjump/shirabe/pkg/utils"
)

// ErrExhausted reports that every retry for one embeddings request failed.
// The engine records the affected file and moves on to the next one.
var ErrExhausted = errors.New("embedding retries exhausted")

// Options configure the embedding client.
type Options struct {
	// BaseURL points at any OpenAI-compatible server. Empty keeps the
	// library default.
	BaseURL string
	// APIKey may be empty for local servers that skip auth.
	APIKey       string
	Model        string
	Dimensions   int
	BatchSize    int
	MaxRetries   int
	RetryBackoff time.Duration
	CacheSize    int
}

// Client embeds text through an OpenAI-compatible embeddings endpoint,
// typically a local Ollama server. Vectors are L2-normalized and cached by
// exact text.
type Client struct {
	api    *openai.Client
	opts   Options
	cache  *lru.Cache[string, []float32]
	logger *zap.Logger
}

// NewClient validates opts and builds the client. Model and dimensions are
// required; the other knobs fall back to safe values.
func NewClient(opts Options, logger *zap.Logger) (*Client, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("embedding model not configured")
	}
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions not configured")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 250 * time.Millisecond
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 4096
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	cache, err := lru.New[string, []float32](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Client{
		api:    openai.NewClientWithConfig(cfg),
		opts:   opts,
		cache:  cache,
		logger: logger,
	}, nil
}

// Embed returns the embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in request batches of at most BatchSize, serving
// repeats from the cache. Results align with the input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missing []int
	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			results[i] = v
			continue
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += c.opts.BatchSize {
		end := start + c.opts.BatchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]
		inputs := make([]string, len(batch))
		for j, idx := range batch {
			inputs[j] = texts[idx]
		}
		vectors, err := c.requestEmbeddings(ctx, inputs)
		if err != nil {
			return nil, err
		}
		for j, idx := range batch {
			results[idx] = vectors[j]
			c.cache.Add(texts[idx], vectors[j])
		}
	}
	return results, nil
}

func (c *Client) requestEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: inputs,
		Model: openai.EmbeddingModel(c.opts.Model),
	}

	var resp openai.EmbeddingResponse
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = c.api.CreateEmbeddings(ctx, req)
		if err == nil {
			break
		}
		if attempt >= c.opts.MaxRetries || ctx.Err() != nil {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt+1, err)
		}
		delay := c.opts.RetryBackoff << attempt
		c.logger.Warn("embeddings request failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embeddings response has %d vectors, expected %d", len(resp.Data), len(inputs))
	}
	out := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embeddings response index %d out of range", d.Index)
		}
		if len(d.Embedding) != c.opts.Dimensions {
			return nil, fmt.Errorf("model %s returned %d dimensions, collection expects %d",
				c.opts.Model, len(d.Embedding), c.opts.Dimensions)
		}
		vec := make([]float32, len(d.Embedding))
		copy(vec, d.Embedding)
		utils.NormalizeL2(vec)
		out[d.Index] = vec
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("embeddings response missing vector for input %d", i)
		}
	}
	return out, nil
}

// Dimensions returns the configured embedding dimension.
func (c *Client) Dimensions() int {
	return c.opts.Dimensions
}

// Close is a no-op; the underlying HTTP client needs no teardown.
func (c *Client) Close() error {
	return nil
}
