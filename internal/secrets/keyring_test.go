// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package secrets_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/tidemark-dev/tidemark/internal/secrets"
	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

func init() {
	// Keep tests off the real OS keyring.
	keyring.MockInit()
}

var _ secrets.Store = secrets.NewKeyringStore()

func TestKeyringStore_StoreAndRetrieve(t *testing.T) {
	ks := secrets.NewKeyringStore()
	svc := "test-store-retrieve"

	require.NoError(t, ks.Store(svc, secrets.KeyEmbeddingAPIKey, "sk-secret-123"))

	val, err := ks.Retrieve(svc, secrets.KeyEmbeddingAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret-123", val)
}

func TestKeyringStore_NotFound(t *testing.T) {
	ks := secrets.NewKeyringStore()

	_, err := ks.Retrieve("no-such-service", "no-key")
	require.Error(t, err)
	assert.True(t, tmerr.HasCode(err, tmerr.CodeSecretNotFound), "got: %v", err)

	err = ks.Delete("no-such-service", "no-key")
	require.Error(t, err)
	assert.True(t, tmerr.IsNotFound(err), "got: %v", err)
}

func TestKeyringStore_Delete(t *testing.T) {
	ks := secrets.NewKeyringStore()
	svc := "test-delete"

	require.NoError(t, ks.Store(svc, "temp-key", "temp-value"))
	require.NoError(t, ks.Delete(svc, "temp-key"))

	_, err := ks.Retrieve(svc, "temp-key")
	require.Error(t, err)
	assert.True(t, tmerr.HasCode(err, tmerr.CodeSecretNotFound))

	keys, err := ks.List(svc)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestKeyringStore_List(t *testing.T) {
	ks := secrets.NewKeyringStore()
	svc := "test-list"

	keys, err := ks.List(svc)
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, ks.Store(svc, "key-a", "val-a"))
	require.NoError(t, ks.Store(svc, "key-b", "val-b"))
	require.NoError(t, ks.Store(svc, "key-c", "val-c"))
	require.NoError(t, ks.Delete(svc, "key-b"))

	keys, err = ks.List(svc)
	require.NoError(t, err)
	assert.Equal(t, []string{"key-a", "key-c"}, keys)
}

func TestKeyringStore_StoreOverwrite(t *testing.T) {
	ks := secrets.NewKeyringStore()
	svc := "test-overwrite"

	require.NoError(t, ks.Store(svc, "key", "old-value"))
	require.NoError(t, ks.Store(svc, "key", "new-value"))

	val, err := ks.Retrieve(svc, "key")
	require.NoError(t, err)
	assert.Equal(t, "new-value", val)

	keys, err := ks.List(svc)
	require.NoError(t, err)
	assert.Equal(t, []string{"key"}, keys)
}

func TestKeyringStore_InvalidInputs(t *testing.T) {
	ks := secrets.NewKeyringStore()

	tests := []struct {
		name    string
		service string
		key     string
	}{
		{"empty service", "", "key"},
		{"empty key", "svc", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ks.Store(tt.service, tt.key, "val")
			require.Error(t, err)
			assert.True(t, tmerr.HasCode(err, tmerr.CodeSecretInvalidInput))

			_, err = ks.Retrieve(tt.service, tt.key)
			assert.True(t, tmerr.HasCode(err, tmerr.CodeSecretInvalidInput))

			err = ks.Delete(tt.service, tt.key)
			assert.True(t, tmerr.HasCode(err, tmerr.CodeSecretInvalidInput))
		})
	}

	// An empty value is a valid secret.
	assert.NoError(t, ks.Store("svc-empty", "key", ""))
}

func TestKeyringStore_IsolatedServices(t *testing.T) {
	ks := secrets.NewKeyringStore()

	require.NoError(t, ks.Store("svc-a", "shared-key", "value-a"))
	require.NoError(t, ks.Store("svc-b", "shared-key", "value-b"))

	valA, err := ks.Retrieve("svc-a", "shared-key")
	require.NoError(t, err)
	assert.Equal(t, "value-a", valA)

	valB, err := ks.Retrieve("svc-b", "shared-key")
	require.NoError(t, err)
	assert.Equal(t, "value-b", valB)
}
