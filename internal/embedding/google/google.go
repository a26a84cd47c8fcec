// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

// Package google implements embedding.Embedder using the Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/tidemark-dev/tidemark/internal/embedding"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

const (
	// DefaultModel supports output dimensionality reduction.
	DefaultModel = "gemini-embedding-001"

	backendName = "google"
)

// Config holds Google backend configuration.
type Config struct {
	APIKey         string
	BaseURL        string // optional, useful for testing against a mock server
	Model          string
	Dimensions     int
	HealthTimeout  time.Duration
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// Client implements embedding.Embedder using Models.EmbedContent.
type Client struct {
	client *genai.Client
	config Config
}

// New creates a Google client. Returns an error if the API key is missing.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, tmerr.New(tmerr.CodeEmbeddingRequestInvalid, "google: missing api_key in config",
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

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, tmerr.Wrapf(err, tmerr.CodeEmbeddingRequestInvalid, "google: creating client")
	}
	return &Client{client: client, config: cfg}, nil
}

func (c *Client) Name() string { return backendName }

// Health fetches the configured model's metadata within the health timeout.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.HealthTimeout)
	defer cancel()

	if _, err := c.client.Models.Get(ctx, c.config.Model, nil); err != nil {
		return classify(err, "google: health probe")
	}
	return nil
}

// Embed issues one EmbedContent call with one content per text.
func (c *Client) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if model == "" {
		model = c.config.Model
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	var cfg *genai.EmbedContentConfig
	if c.config.Dimensions > 0 {
		cfg = &genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(int32(c.config.Dimensions))}
	}

	resp, err := c.client.Models.EmbedContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, classify(err, "google: embed request")
	}

	vecs := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		if e == nil {
			return nil, tmerr.New(tmerr.CodeEmbeddingResponseInvalid, "google: nil embedding in response",
				tmerr.FieldBackend(backendName))
		}
		vecs = append(vecs, e.Values)
	}
	if err := embedding.CheckVectors(backendName, vecs, len(texts), c.config.Dimensions); err != nil {
		return nil, err
	}
	return vecs, nil
}

func classify(err error, op string) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return tmerr.Wrap(err, tmerr.CodeEmbeddingUpstreamFailure,
			fmt.Sprintf("%s returned HTTP %d: %s", op, apiErr.Code, apiErr.Message),
			tmerr.FieldBackend(backendName), tmerr.FieldStatusCode(apiErr.Code))
	}
	return embedding.TransportError(err, backendName, op)
}

var _ embedding.Embedder = (*Client)(nil)
