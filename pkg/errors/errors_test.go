// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package errors_test

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

// ---------------------------------------------------------------------------
// New / Errorf
// ---------------------------------------------------------------------------

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := tmerr.New(
		tmerr.CodeConfigValidateInvalidValue,
		"invalid embedding configuration",
		tmerr.FieldBackend("ollama"),
		tmerr.Field("model", "nomic-embed-text"),
	)

	require.Error(t, err)
	assert.Equal(t, tmerr.CodeConfigValidateInvalidValue, tmerr.CodeOf(err))
	assert.True(t, tmerr.HasCode(err, tmerr.CodeConfigValidateInvalidValue))

	fields := tmerr.FieldsOf(err)
	assert.Equal(t, "ollama", fields["backend"])
	assert.Equal(t, "nomic-embed-text", fields["model"])
}

func TestErrorfFormatsMessage(t *testing.T) {
	err := tmerr.Errorf(tmerr.CodeEmbeddingUpstreamFailure, "embed request to %s: status %d", "http://gpu:11434", 502)
	require.Error(t, err)
	assert.Equal(t, tmerr.CodeEmbeddingUpstreamFailure, tmerr.CodeOf(err))
	assert.Contains(t, err.Error(), "embed request to http://gpu:11434: status 502")
}

func TestErrorfWrapsInnerError(t *testing.T) {
	inner := stderrors.New("disk full")
	err := tmerr.Errorf(tmerr.CodeStoreDatabaseFailure, "write failed: %w", inner)
	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, tmerr.CodeStoreDatabaseFailure, tmerr.CodeOf(err))
}

// ---------------------------------------------------------------------------
// Wrap / Wrapf / With
// ---------------------------------------------------------------------------

func TestWrapPreservesWrappedErrorAndCode(t *testing.T) {
	root := stderrors.New("no rows")
	err := tmerr.Wrap(root, tmerr.CodeStoreEntityNotFound, "loading sync status", tmerr.FieldTitle("HelloThere"))

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.True(t, tmerr.IsNotFound(err))
	assert.Equal(t, "HelloThere", tmerr.FieldsOf(err)["title"])
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, tmerr.Wrap(nil, tmerr.CodeServerInternalFailure, "ignored"))
	assert.NoError(t, tmerr.Wrapf(nil, tmerr.CodeServerInternalFailure, "ignored %s", "arg"))
	assert.NoError(t, tmerr.With(nil, tmerr.FieldTitle("x")))
}

func TestWithOnPlainErrorDefaultsToInternalCode(t *testing.T) {
	enriched := tmerr.With(stderrors.New("something broke"), tmerr.FieldAddress("10.0.0.4:11434"))

	require.Error(t, enriched)
	assert.Equal(t, tmerr.CodeServerInternalFailure, tmerr.CodeOf(enriched))
	assert.Equal(t, "10.0.0.4:11434", tmerr.FieldsOf(enriched)["address"])
}

func TestCodeOfReturnsInnermostCodedError(t *testing.T) {
	inner := tmerr.New(tmerr.CodeStoreDatabaseFailure, "db")
	outer := tmerr.Wrap(inner, tmerr.CodeServerInternalFailure, "handler")
	assert.Equal(t, tmerr.CodeStoreDatabaseFailure, tmerr.CodeOf(outer))
}

func TestFieldsWithEmptyKeyAreIgnored(t *testing.T) {
	err := tmerr.New(tmerr.CodeStoreInvalidInput, "bad", tmerr.Field("", "dropped"), tmerr.Field("kept", 1))
	fields := tmerr.FieldsOf(err)
	assert.NotContains(t, fields, "")
	assert.Equal(t, 1, fields["kept"])
}

// ---------------------------------------------------------------------------
// Classification and HTTP status mapping
// ---------------------------------------------------------------------------

func TestClassificationAndStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		code   tmerr.Code
		check  func(error) bool
		status int
	}{
		{"not found", tmerr.CodeStoreEntityNotFound, tmerr.IsNotFound, http.StatusNotFound},
		{"conflict", tmerr.CodeStoreConflict, tmerr.IsConflict, http.StatusConflict},
		{"invalid input", tmerr.CodeSearchInvalidInput, tmerr.IsInvalidInput, http.StatusBadRequest},
		{"invalid value", tmerr.CodeConfigValidateInvalidValue, tmerr.IsInvalidInput, http.StatusBadRequest},
		{"timeout", tmerr.CodeEmbeddingTimeout, tmerr.IsTimeout, http.StatusGatewayTimeout},
		{"unreachable", tmerr.CodeSearchBackendUnreachable, tmerr.IsUnavailable, http.StatusServiceUnavailable},
		{"upstream", tmerr.CodeEmbeddingUpstreamFailure, tmerr.IsUpstreamFailure, http.StatusBadGateway},
		{"unauthorized", tmerr.CodeServerUnauthorized, tmerr.IsUnauthorized, http.StatusUnauthorized},
		{"reindex conflict", tmerr.CodeServerReindexConflict, tmerr.IsConflict, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tmerr.New(tt.code, "x")
			assert.True(t, tt.check(err))
			assert.Equal(t, tt.status, tmerr.HTTPStatus(err))
		})
	}
}

func TestClassificationOnPlainAndNilError(t *testing.T) {
	plain := stderrors.New("plain")
	assert.False(t, tmerr.IsNotFound(plain))
	assert.False(t, tmerr.IsTimeout(nil))
	assert.Equal(t, http.StatusInternalServerError, tmerr.HTTPStatus(nil))
	assert.Equal(t, http.StatusInternalServerError, tmerr.HTTPStatus(plain))
}

func TestJoinCombinesErrors(t *testing.T) {
	a := stderrors.New("a")
	b := stderrors.New("b")
	joined := tmerr.Join(a, b)

	assert.ErrorIs(t, joined, a)
	assert.ErrorIs(t, joined, b)
	assert.Equal(t, tmerr.CodeServerInternalFailure, tmerr.CodeOf(joined))
}
