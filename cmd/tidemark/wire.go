// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/tidemark-dev/tidemark/internal/chunk"
	"github.com/tidemark-dev/tidemark/internal/config"
	"github.com/tidemark-dev/tidemark/internal/embedding"
	"github.com/tidemark-dev/tidemark/internal/embedding/google"
	"github.com/tidemark-dev/tidemark/internal/embedding/ollama"
	"github.com/tidemark-dev/tidemark/internal/embedding/openai"
	"github.com/tidemark-dev/tidemark/internal/indexer"
	"github.com/tidemark-dev/tidemark/internal/search"
	"github.com/tidemark-dev/tidemark/internal/secrets"
	"github.com/tidemark-dev/tidemark/internal/source/tiddlyweb"
	"github.com/tidemark-dev/tidemark/internal/store"
	_ "github.com/tidemark-dev/tidemark/internal/store/sqlite" // register sqlite backend
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

// App holds the wired subsystems of one command invocation.
type App struct {
	Config   *config.Config
	Store    store.IndexStore
	Embedder *embedding.Tracker
	Source   *tiddlyweb.Client
	Indexer  *indexer.Indexer
	Searcher *search.Searcher
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

// loadConfig resolves keyring references in the global Viper and returns
// the validated configuration.
func loadConfig() (*config.Config, error) {
	v := viper.GetViper()
	if err := secrets.ResolveViperSecrets(v, secretStoreFactory()); err != nil {
		return nil, tmerr.Wrap(err, tmerr.CodeSecretResolveFailure, "resolving config secrets")
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}
	config.WarnInsecurePermissions(v.ConfigFileUsed())
	return cfg, nil
}

// newEmbedder builds the configured embedding backend.
func newEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	switch cfg.Backend {
	case "ollama":
		return ollama.New(ollama.Config{
			Address:        cfg.Address,
			Dimensions:     cfg.Dimensions,
			HealthTimeout:  cfg.HealthTimeout,
			RequestTimeout: cfg.RequestTimeout,
			DNSTimeout:     cfg.DNSTimeout,
		})
	case "openai":
		return openai.New(openai.Config{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			Dimensions:     cfg.Dimensions,
			HealthTimeout:  cfg.HealthTimeout,
			RequestTimeout: cfg.RequestTimeout,
		})
	case "google":
		return google.New(ctx, google.Config{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			Dimensions:     cfg.Dimensions,
			HealthTimeout:  cfg.HealthTimeout,
			RequestTimeout: cfg.RequestTimeout,
		})
	default:
		return nil, tmerr.Errorf(tmerr.CodeConfigValidateInvalidValue, "unknown embedding backend %q", cfg.Backend)
	}
}

func newSource(cfg config.SourceConfig) (*tiddlyweb.Client, error) {
	return tiddlyweb.New(tiddlyweb.Config{
		URL:      cfg.URL,
		Recipe:   cfg.Recipe,
		Filter:   cfg.Filter,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	})
}

// WireApp creates every subsystem once and injects them where needed.
func WireApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, tmerr.Errorf(tmerr.CodeCLISetupFailure, "creating data directory: %w", err)
	}

	backend, err := newEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return nil, tmerr.Wrapf(err, tmerr.CodeCLISetupFailure, "creating %s embedder", cfg.Embedding.Backend)
	}
	tracker, err := embedding.NewTracker(backend, cfg.Embedding.HealthCooldown)
	if err != nil {
		return nil, tmerr.Wrapf(err, tmerr.CodeCLISetupFailure, "creating health tracker")
	}

	src, err := newSource(cfg.Source)
	if err != nil {
		return nil, tmerr.Wrapf(err, tmerr.CodeCLISetupFailure, "creating source client")
	}

	st, err := store.Open(&store.StorageConfig{
		Backend:          cfg.Storage.Backend,
		VectorDimensions: cfg.Embedding.Dimensions,
	}, cfg.DataDir)
	if err != nil {
		return nil, tmerr.Wrapf(err, tmerr.CodeCLISetupFailure, "opening index store")
	}

	ix, err := indexer.New(indexer.Config{
		Store:      st,
		Source:     src,
		Embedder:   tracker,
		Chunker:    chunk.New(nil),
		Model:      cfg.Embedding.Model,
		MaxTokens:  cfg.Embedding.MaxTokens,
		BatchSize:  cfg.Indexing.BatchSize,
		RetryAfter: cfg.Indexing.RetryAfter,
	})
	if err != nil {
		_ = st.Close()
		return nil, tmerr.Wrapf(err, tmerr.CodeCLISetupFailure, "creating indexer")
	}

	sr, err := search.New(search.Config{
		Store:        st,
		Embedder:     tracker,
		Model:        cfg.Embedding.Model,
		DefaultLimit: cfg.Search.DefaultLimit,
	})
	if err != nil {
		_ = st.Close()
		return nil, tmerr.Wrapf(err, tmerr.CodeCLISetupFailure, "creating searcher")
	}

	slog.Debug("wired tidemark",
		"data_dir", cfg.DataDir,
		"backend", cfg.Embedding.Backend,
		"dimensions", cfg.Embedding.Dimensions,
		"source", cfg.Source.URL,
	)

	return &App{
		Config:   cfg,
		Store:    st,
		Embedder: tracker,
		Source:   src,
		Indexer:  ix,
		Searcher: sr,
	}, nil
}

// wireFromViper loads the config and wires the app.
func wireFromViper(ctx context.Context) (*App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return WireApp(ctx, cfg)
}
