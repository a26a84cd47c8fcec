// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"

	"github.com/tidemark-dev/tidemark/internal/config"
	"github.com/tidemark-dev/tidemark/internal/store"
	"github.com/tidemark-dev/tidemark/internal/store/sqlite"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check the config file, the sqlite-vec extension, the index, the embedding backend, the wiki, and disk space.",
		RunE:  runDoctor,
	}
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	ctx := cmd.Context()
	dataDir := resolveDataDir()

	// A broken config still gets the environment checks.
	cfg, cfgErr := loadConfig()

	checks := []struct {
		name string
		fn   func() string
	}{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"Config", func() string { return checkConfig(cfgErr) }},
		{"sqlite-vec", checkVectorExtension},
		{"Index", func() string { return checkIndex(cfg) }},
		{"Embedding", func() string { return checkEmbedding(ctx, cfg) }},
		{"Source", func() string { return checkSource(ctx, cfg) }},
		{"Disk Space", func() string { return checkDiskSpace(dataDir) }},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}

	return nil
}

// resolveDataDir returns the data directory from viper or the default.
func resolveDataDir() string {
	if dataDir := viper.GetString("data_dir"); dataDir != "" {
		return dataDir
	}
	if dir, err := config.DefaultDataDir(); err == nil {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tidemark")
}

func checkBinary() string {
	return fmt.Sprintf("tidemark %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
}

func checkPlatform() string {
	return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkConfig(loadErr error) string {
	if loadErr != nil {
		return fmt.Sprintf("invalid: %s", loadErr)
	}
	if cfgFile := viper.ConfigFileUsed(); cfgFile != "" {
		return fmt.Sprintf("loaded from %s", cfgFile)
	}
	return "using defaults (no config file found)"
}

func checkVectorExtension() string {
	v, err := sqlite.Probe()
	if err != nil {
		return fmt.Sprintf("unavailable: %s", err)
	}
	return "loaded " + v
}

func checkIndex(cfg *config.Config) string {
	if cfg == nil {
		return "skipped (config invalid)"
	}
	path := filepath.Join(cfg.DataDir, sqlite.IndexFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Sprintf("no index at %s (run 'tidemark index')", path)
	}

	st, err := store.Open(&store.StorageConfig{
		Backend:          cfg.Storage.Backend,
		VectorDimensions: cfg.Embedding.Dimensions,
	}, cfg.DataDir)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	defer func() { _ = st.Close() }()

	stats, err := st.Stats(context.Background())
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%d vectors across %d entries (%d errored)",
		stats.TotalVectors, stats.TotalSyncedEntries, stats.CountsByStatus[store.SyncStateError])
}

func checkEmbedding(ctx context.Context, cfg *config.Config) string {
	if cfg == nil {
		return "skipped (config invalid)"
	}
	e, err := newEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	if err := e.Health(ctx); err != nil {
		return fmt.Sprintf("%s unreachable: %s", e.Name(), err)
	}
	return fmt.Sprintf("%s healthy (%d dimensions)", e.Name(), cfg.Embedding.Dimensions)
}

func checkSource(ctx context.Context, cfg *config.Config) string {
	if cfg == nil {
		return "skipped (config invalid)"
	}
	src, err := newSource(cfg.Source)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	if err := src.Ping(ctx); err != nil {
		return fmt.Sprintf("unreachable at %s: %s", cfg.Source.URL, err)
	}
	return fmt.Sprintf("reachable at %s (recipe %s)", cfg.Source.URL, cfg.Source.Recipe)
}

func checkDiskSpace(dataDir string) string {
	path := dataDir
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Fall back to home directory if data dir doesn't exist yet.
		path, _ = os.UserHomeDir()
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Sprintf("unable to check: %s", err)
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	return formatBytes(availBytes) + " available"
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
		kb = 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
