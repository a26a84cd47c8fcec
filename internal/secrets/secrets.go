// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

// Package secrets keeps credentials out of the config file. Config values of
// the form keyring://service/key are replaced with the stored secret.
package secrets

const (
	// Service is the keyring service tidemark stores its own secrets under.
	Service = "tidemark"

	// KeyEmbeddingAPIKey holds the API key of a hosted embedding backend.
	KeyEmbeddingAPIKey = "embedding-api-key"
	// KeySourcePassword holds the TiddlyWeb basic-auth password.
	KeySourcePassword = "source-password"
	// KeyAPIToken holds the bearer token guarding the HTTP API.
	KeyAPIToken = "api-token"
)

// ConfigKeys maps each well-known secret to the config key that references it.
var ConfigKeys = map[string]string{
	KeyEmbeddingAPIKey: "embedding.api_key",
	KeySourcePassword:  "source.password",
	KeyAPIToken:        "networking.api_token",
}

// Store provides secret storage operations.
type Store interface {
	// Store saves a secret value under the given service and key.
	Store(service, key, value string) error

	// Retrieve fetches the secret value for the given service and key.
	// A missing key yields tmerr.CodeSecretNotFound.
	Retrieve(service, key string) (string, error)

	// Delete removes the secret for the given service and key.
	// A missing key yields tmerr.CodeSecretNotFound.
	Delete(service, key string) error

	// List returns all key names stored under the given service.
	List(service string) ([]string, error)
}

// URI returns the keyring reference for key under Service.
func URI(key string) string {
	return keyringScheme + Service + "/" + key
}
