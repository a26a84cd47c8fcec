// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

// Package ollama implements embedding.Embedder against an Ollama-compatible
// HTTP service.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tidemark-dev/tidemark/internal/embedding"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

const (
	// DefaultPort is appended to bare host addresses.
	DefaultPort = 11434
	// DefaultModel is the 768-dimension nomic embedding model.
	DefaultModel = "nomic-embed-text"

	backendName  = "ollama"
	maxErrorBody = 4 << 10
)

// Config holds Ollama backend configuration.
type Config struct {
	// Address is a URL, an SRV name, or a host[:port].
	Address        string
	Dimensions     int
	HealthTimeout  time.Duration
	RequestTimeout time.Duration
	DNSTimeout     time.Duration
	// HTTPClient overrides the default client (for testing).
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements embedding.Embedder over the Ollama /embed endpoint.
type Client struct {
	cfg      Config
	http     *http.Client
	resolver *embedding.Resolver
	logger   *slog.Logger

	mu      sync.Mutex
	baseURL string
}

// New creates an Ollama client. The address is resolved lazily on first
// use and cached until a request fails in transport.
func New(cfg Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, tmerr.New(tmerr.CodeEmbeddingRequestInvalid, "ollama: missing address in config",
			tmerr.FieldBackend(backendName))
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = embedding.DefaultHealthTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = embedding.DefaultRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		http:     httpClient,
		resolver: embedding.NewResolver(cfg.DNSTimeout, DefaultPort),
		logger:   logger,
	}, nil
}

// WithResolver replaces the address resolver (for testing).
func (c *Client) WithResolver(r *embedding.Resolver) *Client {
	c.resolver = r
	return c
}

func (c *Client) Name() string { return backendName }

func (c *Client) base(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.baseURL != "" {
		return c.baseURL, nil
	}
	u, err := c.resolver.Resolve(ctx, c.cfg.Address)
	if err != nil {
		return "", err
	}
	c.logger.Debug("resolved embedding backend", "address", c.cfg.Address, "url", u)
	c.baseURL = u
	return u, nil
}

// forgetBase drops the cached base URL so the next call resolves again and
// follows a moved SRV target.
func (c *Client) forgetBase() {
	c.mu.Lock()
	c.baseURL = ""
	c.mu.Unlock()
}

// Health probes GET / within the health timeout.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	base, err := c.base(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/", nil)
	if err != nil {
		return tmerr.Wrap(err, tmerr.CodeEmbeddingRequestInvalid, "ollama: building health request",
			tmerr.FieldBackend(backendName))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.forgetBase()
		return embedding.TransportError(err, backendName, "ollama: health probe")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return tmerr.New(tmerr.CodeEmbeddingUpstreamFailure,
			fmt.Sprintf("ollama: health probe returned HTTP %d", resp.StatusCode),
			tmerr.FieldBackend(backendName), tmerr.FieldStatusCode(resp.StatusCode))
	}
	return nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed issues one POST /embed for the whole batch.
func (c *Client) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if model == "" {
		model = DefaultModel
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	base, err := c.base(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(embedRequest{Model: model, Input: texts})
	if err != nil {
		return nil, tmerr.Wrap(err, tmerr.CodeEmbeddingRequestInvalid, "ollama: encoding request",
			tmerr.FieldBackend(backendName))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, tmerr.Wrap(err, tmerr.CodeEmbeddingRequestInvalid, "ollama: building request",
			tmerr.FieldBackend(backendName))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.forgetBase()
		return nil, embedding.TransportError(err, backendName, "ollama: embed request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, tmerr.New(tmerr.CodeEmbeddingUpstreamFailure,
			fmt.Sprintf("ollama: embed returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg)),
			tmerr.FieldBackend(backendName), tmerr.FieldStatusCode(resp.StatusCode))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if embedding.IsTimeout(err) {
			return nil, embedding.TransportError(err, backendName, "ollama: reading response")
		}
		return nil, tmerr.Wrap(err, tmerr.CodeEmbeddingResponseInvalid, "ollama: decoding response",
			tmerr.FieldBackend(backendName))
	}
	if err := embedding.CheckVectors(backendName, out.Embeddings, len(texts), c.cfg.Dimensions); err != nil {
		return nil, err
	}
	return out.Embeddings, nil
}

var _ embedding.Embedder = (*Client)(nil)
