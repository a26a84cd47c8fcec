// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package embedding

import (
	"context"
	"sync"
	"time"

	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
	"github.com/tidemark-dev/tidemark/pkg/health"
)

// DefaultHealthCooldown is how long a failed probe result is reused before
// the backend is probed again.
const DefaultHealthCooldown = 30 * time.Second

// Tracker wraps an Embedder and records the outcome of every probe and
// embedding call. After a failure, Health returns the cached failure until
// the cooldown elapses, so a dead backend is not probed on every request.
type Tracker struct {
	Embedder

	mu           sync.RWMutex
	lastErr      error
	failedAt     time.Time
	cooldown     time.Duration
	failureCount int64
	nowFunc      func() time.Time
}

// NewTracker wraps e. Returns an error if cooldown is zero or negative.
func NewTracker(e Embedder, cooldown time.Duration) (*Tracker, error) {
	if cooldown <= 0 {
		return nil, tmerr.Errorf(tmerr.CodeConfigValidateInvalidValue,
			"health tracker cooldown must be positive, got %s", cooldown)
	}
	return &Tracker{Embedder: e, cooldown: cooldown, nowFunc: time.Now}, nil
}

// coolingLocked reports whether a recent failure is still within its
// cooldown. The caller MUST hold at least t.mu.RLock.
func (t *Tracker) coolingLocked() bool {
	return t.lastErr != nil && t.nowFunc().Sub(t.failedAt) < t.cooldown
}

// Health probes the backend unless a failure is still cooling down.
func (t *Tracker) Health(ctx context.Context) error {
	t.mu.RLock()
	if t.coolingLocked() {
		err := t.lastErr
		t.mu.RUnlock()
		return err
	}
	t.mu.RUnlock()

	err := t.Embedder.Health(ctx)
	t.record(err)
	return err
}

// Embed forwards to the backend and records failures that mean the backend
// itself is down. A rejected request does not mark the backend unhealthy.
func (t *Tracker) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	vecs, err := t.Embedder.Embed(ctx, model, texts)
	if IsBackendDown(err) {
		t.record(err)
	}
	return vecs, err
}

// IsBackendDown reports whether err is a timeout, a transport failure, or
// an HTTP 5xx. A 4xx answer rejects one request and reports nothing about
// the backend.
func IsBackendDown(err error) bool {
	if err == nil {
		return false
	}
	if tmerr.IsTimeout(err) {
		return true
	}
	if !tmerr.IsUpstreamFailure(err) {
		return false
	}
	status, ok := tmerr.FieldsOf(err)["status_code"].(int)
	return !ok || status >= 500
}

func (t *Tracker) record(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		t.lastErr = nil
		return
	}
	t.lastErr = err
	t.failedAt = t.nowFunc()
	t.failureCount++
}

// SetNowFunc overrides the time source (for testing).
func (t *Tracker) SetNowFunc(fn func() time.Time) {
	t.mu.Lock()
	t.nowFunc = fn
	t.mu.Unlock()
}

// Metrics returns a point-in-time snapshot of the tracked state.
func (t *Tracker) Metrics() health.Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m := health.Metrics{
		Backend:      t.Name(),
		FailureCount: t.failureCount,
		Available:    !t.coolingLocked(),
	}
	if t.failureCount > 0 {
		at := t.failedAt
		m.LastFailureAt = &at
	}
	if t.lastErr != nil {
		until := t.failedAt.Add(t.cooldown)
		m.CooldownUntil = &until
		m.LastError = t.lastErr.Error()
	}
	return m
}
