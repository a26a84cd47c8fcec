// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tidemark-dev/tidemark/internal/config"
	"github.com/tidemark-dev/tidemark/internal/secrets"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

const redacted = "********"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the merged configuration as YAML with secrets redacted",
			RunE:  runConfigShow,
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the path of the config file in use",
			RunE:  runConfigPath,
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the configuration and report every problem",
			RunE:  runConfigValidate,
		},
	)

	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	// Unresolved keyring references are shown as-is, so no keyring access
	// is needed here.
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}
	redactSecrets(cfg)

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return tmerr.Errorf(tmerr.CodeCLISetupFailure, "encoding config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	path := viper.ConfigFileUsed()
	if path == "" {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no config file in use")
		return nil
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("configuration is valid"))
	return nil
}

// redactSecrets masks every plaintext secret. Keyring references are kept.
func redactSecrets(cfg *config.Config) {
	for _, s := range []*string{
		&cfg.Embedding.APIKey,
		&cfg.Source.Password,
		&cfg.Networking.APIToken,
	} {
		if *s != "" && !secrets.IsKeyringURI(*s) {
			*s = redacted
		}
	}
}
