// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

// Package openai implements embedding.Embedder against any
// OpenAI-compatible embeddings endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/tidemark-dev/tidemark/internal/embedding"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

const (
	// DefaultModel supports truncation to 768 dimensions.
	DefaultModel = "text-embedding-3-small"

	backendName = "openai"
)

// Config holds OpenAI backend configuration.
type Config struct {
	APIKey         string
	BaseURL        string // optional, useful for testing against a mock server
	Model          string // probed by Health
	Dimensions     int
	HealthTimeout  time.Duration
	RequestTimeout time.Duration
}

// Client implements embedding.Embedder using the OpenAI Embeddings API.
type Client struct {
	client openaisdk.Client
	config Config
}

// New creates an OpenAI client. Returns an error if the API key is missing.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, tmerr.New(tmerr.CodeEmbeddingRequestInvalid, "openai: missing api_key in config",
			tmerr.FieldBackend(backendName))
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = embedding.DefaultHealthTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = embedding.DefaultRequestTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{client: openaisdk.NewClient(opts...), config: cfg}, nil
}

func (c *Client) Name() string { return backendName }

// Health retrieves the configured model within the health timeout.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.HealthTimeout)
	defer cancel()

	if _, err := c.client.Models.Get(ctx, c.config.Model); err != nil {
		return classify(err, "openai: health probe")
	}
	return nil
}

// Embed issues one embeddings request for the whole batch.
func (c *Client) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if model == "" {
		model = c.config.Model
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	params := openaisdk.EmbeddingNewParams{
		Input:          openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          openaisdk.EmbeddingModel(model),
		EncodingFormat: openaisdk.EmbeddingNewParamsEncodingFormatFloat,
	}
	if c.config.Dimensions > 0 {
		params.Dimensions = openaisdk.Int(int64(c.config.Dimensions))
	}

	resp, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, classify(err, "openai: embed request")
	}

	// Data is documented as ordered, but each item carries its index.
	vecs := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(vecs) {
			return nil, tmerr.New(tmerr.CodeEmbeddingResponseInvalid, "openai: embedding index out of range",
				tmerr.FieldBackend(backendName), tmerr.Field("index", d.Index))
		}
		v := make([]float32, len(d.Embedding))
		for i, x := range d.Embedding {
			v[i] = float32(x)
		}
		vecs[d.Index] = v
	}
	if err := embedding.CheckVectors(backendName, vecs, len(texts), c.config.Dimensions); err != nil {
		return nil, err
	}
	return vecs, nil
}

// classify maps SDK errors onto embedding codes, keeping the HTTP status.
func classify(err error, op string) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return tmerr.Wrap(err, tmerr.CodeEmbeddingUpstreamFailure,
			fmt.Sprintf("%s returned HTTP %d", op, apiErr.StatusCode),
			tmerr.FieldBackend(backendName), tmerr.FieldStatusCode(apiErr.StatusCode))
	}
	return embedding.TransportError(err, backendName, op)
}

var _ embedding.Embedder = (*Client)(nil)
