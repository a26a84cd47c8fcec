// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tidemark-dev/tidemark/internal/config"
	"github.com/tidemark-dev/tidemark/internal/secrets"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

// initValidateTimeout bounds the connectivity checks run by the wizard.
const initValidateTimeout = 15 * time.Second

// initWizardStep tracks which step of the wizard is active.
type initWizardStep int

const (
	stepBackend      initWizardStep = iota // select embedding backend
	stepBackendInput                       // enter address or API key
	stepSource                             // enter TiddlyWeb URL
	stepValidate                           // checking backend and wiki (spinner)
	stepDone                               // wizard complete
	stepError                              // terminal error
)

// initResult holds the collected wizard configuration.
type initResult struct {
	Backend   string
	Address   string
	APIKey    string
	SourceURL string
}

// needsAPIKey reports whether the backend is a hosted one.
func (r initResult) needsAPIKey() bool {
	return r.Backend != "ollama"
}

// --- bubbletea messages ---

type (
	validationSuccessMsg struct{}
	validationErrorMsg   struct{ err error }
)
type configWrittenMsg struct{ path string }

// --- lipgloss styles ---

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

// initModel is the bubbletea model for the init wizard.
type initModel struct {
	step           initWizardStep
	backendIdx     int
	backendInput   textinput.Model
	sourceInput    textinput.Model
	spinner        spinner.Model
	result         initResult
	validationErr  string
	configPath     string
	secretStore    secrets.Store
	errFinal       error
	skipValidate   bool
	forceOverwrite bool
}

func newInitModel(store secrets.Store) initModel {
	backendInput := textinput.New()

	src := textinput.New()
	src.Placeholder = "http://127.0.0.1:8080"

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return initModel{
		step:         stepBackend,
		backendInput: backendInput,
		sourceInput:  src,
		spinner:      sp,
		secretStore:  store,
	}
}

func (m initModel) Init() tea.Cmd {
	return nil
}

func (m initModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case validationSuccessMsg:
		return m, writeConfigCmd(m.result, m.secretStore, m.forceOverwrite)

	case validationErrorMsg:
		m.validationErr = msg.err.Error()
		m.step = stepSource
		m.sourceInput.Focus()
		return m, nil

	case configWrittenMsg:
		m.step = stepDone
		m.configPath = msg.path
		return m, tea.Quit

	case error:
		m.step = stepError
		m.errFinal = msg
		return m, tea.Quit
	}

	return m.updateInputs(msg)
}

func (m initModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.step {
	case stepBackend:
		return m.handleBackendKey(msg)
	case stepBackendInput:
		return m.handleBackendInput(msg)
	case stepSource:
		return m.handleSourceInput(msg)
	}
	return m, nil
}

func (m initModel) handleBackendKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.backendIdx > 0 {
			m.backendIdx--
		}
	case "down", "j":
		if m.backendIdx < len(config.Backends)-1 {
			m.backendIdx++
		}
	case "enter":
		m.result.Backend = config.Backends[m.backendIdx]
		m.step = stepBackendInput
		m.validationErr = ""
		m.backendInput.SetValue("")
		if m.result.needsAPIKey() {
			m.backendInput.Placeholder = "paste API key here"
			m.backendInput.EchoMode = textinput.EchoPassword
			m.backendInput.EchoCharacter = '•'
		} else {
			m.backendInput.Placeholder = "127.0.0.1:11434"
			m.backendInput.EchoMode = textinput.EchoNormal
		}
		m.backendInput.Focus()
		return m, textinput.Blink
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m initModel) handleBackendInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		value := strings.TrimSpace(m.backendInput.Value())
		if m.result.needsAPIKey() {
			if value == "" {
				m.validationErr = "API key must not be empty"
				return m, nil
			}
			m.result.APIKey = value
		} else {
			if value == "" {
				value = m.backendInput.Placeholder
			}
			m.result.Address = value
		}
		m.validationErr = ""
		m.backendInput.Blur()
		m.step = stepSource
		m.sourceInput.Focus()
		return m, textinput.Blink
	case "ctrl+c":
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.backendInput, cmd = m.backendInput.Update(msg)
	return m, cmd
}

func (m initModel) handleSourceInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		u := strings.TrimSpace(m.sourceInput.Value())
		if u == "" {
			u = m.sourceInput.Placeholder
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			m.validationErr = "wiki URL must start with http:// or https://"
			return m, nil
		}
		m.result.SourceURL = strings.TrimRight(u, "/")
		m.validationErr = ""
		if m.skipValidate {
			return m, writeConfigCmd(m.result, m.secretStore, m.forceOverwrite)
		}
		m.step = stepValidate
		return m, tea.Batch(
			m.spinner.Tick,
			validateSetupCmd(m.result),
		)
	case "ctrl+c":
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.sourceInput, cmd = m.sourceInput.Update(msg)
	return m, cmd
}

func (m initModel) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.step {
	case stepBackendInput:
		m.backendInput, cmd = m.backendInput.Update(msg)
	case stepSource:
		m.sourceInput, cmd = m.sourceInput.Update(msg)
	}
	return m, cmd
}

func (m initModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("  tidemark setup  ") + "\n\n")

	switch m.step {
	case stepBackend:
		b.WriteString(promptStyle.Render("Step 1/3: Choose an embedding backend") + "\n\n")
		for i, name := range config.Backends {
			if i == m.backendIdx {
				b.WriteString(selectedStyle.Render("  > "+name) + "\n")
			} else {
				b.WriteString(dimStyle.Render("    "+name) + "\n")
			}
		}
		b.WriteString("\n" + dimStyle.Render("↑/↓ to navigate  enter to select  q to quit"))

	case stepBackendInput:
		label := "Ollama address"
		if m.result.needsAPIKey() {
			label = m.result.Backend + " API key"
		}
		b.WriteString(promptStyle.Render("Step 2/3: "+label) + "\n\n")
		b.WriteString(m.backendInput.View() + "\n")
		m.writeValidationErr(&b)
		b.WriteString("\n" + dimStyle.Render("enter to continue  ctrl+c to quit"))

	case stepSource:
		b.WriteString(promptStyle.Render("Step 3/3: TiddlyWeb server URL") + "\n\n")
		b.WriteString(m.sourceInput.View() + "\n")
		m.writeValidationErr(&b)
		b.WriteString("\n" + dimStyle.Render("enter to continue  ctrl+c to quit"))

	case stepValidate:
		b.WriteString(m.spinner.View() + " Checking " + m.result.Backend + " and " + m.result.SourceURL + "…\n")

	case stepDone:
		b.WriteString(successStyle.Render("  Setup complete!  ") + "\n\n")
		if m.configPath != "" {
			b.WriteString(dimStyle.Render("Config written to: "+m.configPath) + "\n\n")
		}
		b.WriteString("Run " + promptStyle.Render("tidemark index") + " to build the index, then " +
			promptStyle.Render("tidemark search <query>") + ".\n")
		b.WriteString("Run " + promptStyle.Render("tidemark doctor") + " to verify setup.\n")

	case stepError:
		b.WriteString(errorStyle.Render("Setup failed: "+m.errFinal.Error()) + "\n")
	}

	return boxStyle.Render(b.String())
}

func (m initModel) writeValidationErr(b *strings.Builder) {
	if m.validationErr != "" {
		b.WriteString("\n" + errorStyle.Render("  "+m.validationErr) + "\n")
	}
}

// --- tea.Cmd factories ---

// validateSetup checks that the backend and the wiki answer. Tests replace it.
var validateSetup = func(ctx context.Context, result initResult) error {
	cfg, err := wizardConfig(result, result.APIKey)
	if err != nil {
		return err
	}
	e, err := newEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return err
	}
	if err := e.Health(ctx); err != nil {
		return tmerr.Wrapf(err, tmerr.CodeCLISetupFailure, "%s backend is not reachable", result.Backend)
	}
	src, err := newSource(cfg.Source)
	if err != nil {
		return err
	}
	if err := src.Ping(ctx); err != nil {
		return tmerr.Wrapf(err, tmerr.CodeCLISetupFailure, "wiki at %s is not reachable", result.SourceURL)
	}
	return nil
}

func validateSetupCmd(result initResult) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), initValidateTimeout)
		defer cancel()
		if err := validateSetup(ctx, result); err != nil {
			return validationErrorMsg{err: err}
		}
		return validationSuccessMsg{}
	}
}

func writeConfigCmd(result initResult, store secrets.Store, forceOverwrite bool) tea.Cmd {
	return func() tea.Msg {
		path, err := storeSecretAndWriteConfig(result, store, forceOverwrite)
		if err != nil {
			return err
		}
		return configWrittenMsg{path: path}
	}
}

// --- Config generation ---

// wizardConfig builds a complete configuration from the defaults and the
// wizard answers. apiKey is the value written to embedding.api_key.
func wizardConfig(result initResult, apiKey string) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("embedding.backend", result.Backend)
	if result.needsAPIKey() {
		// The ollama address default does not apply to hosted backends.
		v.Set("embedding.address", "")
		v.Set("embedding.api_key", apiKey)
	} else {
		v.Set("embedding.address", result.Address)
	}
	if result.SourceURL != "" {
		v.Set("source.url", result.SourceURL)
	}
	return config.FromViper(v)
}

// GenerateConfigYAML renders the wizard result as a tidemark.yaml. Hosted
// backend API keys are referenced through the keyring.
func GenerateConfigYAML(result initResult) ([]byte, error) {
	cfg, err := wizardConfig(result, secrets.URI(secrets.KeyEmbeddingAPIKey))
	if err != nil {
		return nil, err
	}
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, tmerr.Errorf(tmerr.CodeCLISetupFailure, "encoding config: %w", err)
	}
	header := "# tidemark configuration, generated by tidemark init\n" +
		"# Every key can be overridden with a TIDEMARK_* environment variable.\n\n"
	return append([]byte(header), body...), nil
}

// storeSecretAndWriteConfig saves the API key to the OS keyring and writes
// the config YAML to the default config path.
//
// An existing config file is only replaced with forceOverwrite, unless it is
// the untouched default written on first run.
func storeSecretAndWriteConfig(result initResult, store secrets.Store, forceOverwrite bool) (string, error) {
	if result.needsAPIKey() {
		if err := store.Store(secrets.Service, secrets.KeyEmbeddingAPIKey, result.APIKey); err != nil {
			return "", tmerr.Errorf(tmerr.CodeSecretStoreFailure, "storing %s API key: %w", result.Backend, err)
		}
	}

	cfgPath, err := configPathForWrite()
	if err != nil {
		return "", err
	}

	if !forceOverwrite {
		if existing, readErr := os.ReadFile(cfgPath); readErr == nil && !bytes.Equal(existing, config.DefaultConfigYAML) {
			return "", tmerr.Errorf(tmerr.CodeConfigAlreadyExists,
				"config file already exists at %s; use --force to overwrite", cfgPath)
		}
	}

	body, err := GenerateConfigYAML(result)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", tmerr.Errorf(tmerr.CodeConfigLoadReadFailure, "creating config directory %s: %w", dir, err)
	}
	if err := os.WriteFile(cfgPath, body, 0o600); err != nil {
		return "", tmerr.Errorf(tmerr.CodeConfigLoadReadFailure, "writing config to %s: %w", cfgPath, err)
	}

	return cfgPath, nil
}

// configPathForWrite returns the default config path. Tests override it.
var configPathForWrite = config.DefaultConfigPath

// --- Cobra command ---

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard",
		Long: `Run an interactive TUI wizard that walks you through:
  1. Choosing an embedding backend (ollama, openai, google)
  2. Its address or API key
  3. The TiddlyWeb server to index

API keys are stored in the OS keyring and referenced via keyring://
URIs in the config file. No secrets are written in plain text.

After completion, run:
  tidemark index    build the index
  tidemark doctor   verify your setup`,
		RunE: runInit,
	}

	cmd.Flags().Bool("skip-validate", false, "Write the config without contacting the backend or the wiki")
	cmd.Flags().Bool("force", false, "Overwrite existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !isTerminal(f) {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(),
			"tidemark init requires an interactive terminal.\n"+
				"To configure tidemark non-interactively, edit ~/.config/tidemark/tidemark.yaml directly.")
		return tmerr.New(tmerr.CodeCLISetupFailure, "tidemark init: not an interactive terminal")
	}

	skipValidate, _ := cmd.Flags().GetBool("skip-validate")
	forceOverwrite, _ := cmd.Flags().GetBool("force")

	m := newInitModel(secretStoreFactory())
	m.skipValidate = skipValidate
	m.forceOverwrite = forceOverwrite

	p := tea.NewProgram(m, tea.WithAltScreen())
	finalModel, err := p.Run()
	if err != nil {
		return tmerr.Errorf(tmerr.CodeCLISetupFailure, "init wizard error: %w", err)
	}

	fm, ok := finalModel.(initModel)
	if !ok {
		return tmerr.New(tmerr.CodeCLISetupFailure, "unexpected model type after wizard")
	}
	if fm.errFinal != nil {
		return tmerr.Errorf(tmerr.CodeCLISetupFailure, "init failed: %w", fm.errFinal)
	}
	if fm.step == stepDone {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Config written to "+fm.configPath)
	}
	return nil
}

// isTerminal reports whether f is a terminal file descriptor.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
