// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

// Package tiddlyweb reads entries from a TiddlyWeb-compatible HTTP server,
// including TiddlyWiki's built-in node server.
package tiddlyweb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidemark-dev/tidemark/internal/source"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

const (
	// DefaultRecipe is the recipe served by a stock TiddlyWiki node server.
	DefaultRecipe = "default"
	// DefaultFilter selects every non-system entry.
	DefaultFilter = "[all[tiddlers]!is[system]]"
	// DefaultTimeout bounds every source request.
	DefaultTimeout = 30 * time.Second

	maxErrorBody = 4 << 10
)

// Config holds source client configuration.
type Config struct {
	URL      string
	Recipe   string
	Filter   string
	Username string
	Password string
	Timeout  time.Duration
	// HTTPClient overrides the default client (for testing).
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements source.Source over the TiddlyWeb REST API.
type Client struct {
	base   *url.URL
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// New validates cfg and returns a client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, tmerr.New(tmerr.CodeSourceRequestInvalid, "tiddlyweb: missing url in config")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, tmerr.New(tmerr.CodeSourceRequestInvalid, "tiddlyweb: invalid url",
			tmerr.FieldAddress(cfg.URL))
	}
	if cfg.Recipe == "" {
		cfg.Recipe = DefaultRecipe
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{base: base, cfg: cfg, http: httpClient, logger: logger}, nil
}

// tiddler is the JSON shape of a TiddlyWeb tiddler. Tags arrive either as
// a JSON array (TiddlyWeb) or as a bracketed string list (TiddlyWiki).
type tiddler struct {
	Title    string  `json:"title"`
	Text     string  `json:"text"`
	Modified string  `json:"modified"`
	Created  string  `json:"created"`
	Tags     tagList `json:"tags"`
}

func (t tiddler) entry() source.Entry {
	return source.Entry{
		Title:    t.Title,
		Text:     t.Text,
		Modified: t.Modified,
		Created:  t.Created,
		Tags:     []string(t.Tags),
	}
}

type tagList []string

func (l *tagList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}
	if b[0] == '[' {
		var tags []string
		if err := json.Unmarshal(b, &tags); err != nil {
			return err
		}
		*l = tags
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*l = ParseStringList(s)
	return nil
}

// ParseStringList splits a TiddlyWiki string list: whitespace-separated
// items, where [[double brackets]] enclose items containing spaces.
func ParseStringList(s string) []string {
	var out []string
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		if s == "" {
			return out
		}
		if strings.HasPrefix(s, "[[") {
			end := strings.Index(s, "]]")
			if end < 0 {
				out = append(out, s[2:])
				return out
			}
			out = append(out, s[2:end])
			s = s[end+2:]
			continue
		}
		end := strings.IndexAny(s, " \t\r\n")
		if end < 0 {
			return append(out, s)
		}
		out = append(out, s[:end])
		s = s[end:]
	}
}

func (c *Client) recipeURL(parts ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(c.base.String(), "/"))
	b.WriteString("/recipes/")
	b.WriteString(url.PathEscape(c.cfg.Recipe))
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

// ListEntries fetches skinny tiddler metadata. An empty filter falls back
// to the configured filter, then DefaultFilter.
func (c *Client) ListEntries(ctx context.Context, filter string) ([]source.Entry, error) {
	if filter == "" {
		filter = c.cfg.Filter
	}
	if filter == "" {
		filter = DefaultFilter
	}

	endpoint := c.recipeURL("tiddlers.json") + "?" + url.Values{"filter": {filter}}.Encode()
	var tiddlers []tiddler
	found, err := c.getJSON(ctx, endpoint, &tiddlers)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, tmerr.New(tmerr.CodeSourceUpstreamFailure,
			"tiddlyweb: recipe not found: "+c.cfg.Recipe, tmerr.FieldStatusCode(http.StatusNotFound))
	}

	entries := make([]source.Entry, 0, len(tiddlers))
	for _, t := range tiddlers {
		if t.Title == "" {
			continue
		}
		e := t.entry()
		e.Text = ""
		entries = append(entries, e)
	}
	c.logger.Debug("listed source entries", "count", len(entries), "filter", filter)
	return entries, nil
}

// GetEntry fetches one tiddler with its text. A 404 means absent.
func (c *Client) GetEntry(ctx context.Context, title string) (*source.Entry, error) {
	if title == "" {
		return nil, tmerr.New(tmerr.CodeSourceRequestInvalid, "tiddlyweb: title is required")
	}

	var t tiddler
	found, err := c.getJSON(ctx, c.recipeURL("tiddlers", title), &t)
	if err != nil {
		return nil, tmerr.With(err, tmerr.FieldTitle(title))
	}
	if !found {
		return nil, nil
	}
	if t.Title == "" {
		t.Title = title
	}
	e := t.entry()
	return &e, nil
}

// Ping checks that the configured recipe answers.
func (c *Client) Ping(ctx context.Context) error {
	var status json.RawMessage
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/status"
	found, err := c.getJSON(ctx, u.String(), &status)
	if err != nil {
		return err
	}
	if !found {
		// Plain TiddlyWeb has no /status; a listing proves reachability.
		_, err = c.ListEntries(ctx, "[limit[1]]")
	}
	return err
}

// getJSON decodes a 2xx body into out. It returns found=false on 404.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, tmerr.Wrap(err, tmerr.CodeSourceRequestInvalid, "tiddlyweb: building request")
	}
	req.Header.Set("Accept", "application/json")
	// Required by TiddlyWiki's CSRF check.
	req.Header.Set("X-Requested-With", "TiddlyWiki")
	if c.cfg.Username != "" || c.cfg.Password != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if ctx.Err() != nil || (errors.As(err, &netErr) && netErr.Timeout()) {
			return false, tmerr.Wrap(err, tmerr.CodeSourceTimeout, "tiddlyweb: request timed out")
		}
		return false, tmerr.Wrap(err, tmerr.CodeSourceUpstreamFailure, "tiddlyweb: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return false, tmerr.New(tmerr.CodeSourceUpstreamFailure,
			fmt.Sprintf("tiddlyweb: HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg)),
			tmerr.FieldStatusCode(resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, tmerr.Wrap(err, tmerr.CodeSourceResponseInvalid, "tiddlyweb: decoding response")
	}
	return true, nil
}

var _ source.Source = (*Client)(nil)
