// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/sigil-dev/medrag/internal/config"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

const keyringScheme = "keyring://"

// IsKeyringURI reports whether value uses the keyring:// URI scheme.
func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// KeyringURI builds the reference for service and key.
func KeyringURI(service, key string) string {
	return keyringScheme + service + "/" + key
}

// ParseKeyringURI extracts service and key from a keyring://service/key URI.
func ParseKeyringURI(uri string) (service, key string, err error) {
	if !IsKeyringURI(uri) {
		return "", "", mederr.Errorf(mederr.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}

	service, key, ok := strings.Cut(strings.TrimPrefix(uri, keyringScheme), "/")
	if !ok || service == "" || key == "" {
		return "", "", mederr.Errorf(mederr.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}

	return service, key, nil
}

// ResolveKeyringURI resolves a single keyring:// URI to its secret value.
// Returns the original value unchanged if it is not a keyring URI.
func ResolveKeyringURI(store Store, value string) (string, error) {
	if !IsKeyringURI(value) {
		return value, nil
	}

	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}

	secret, err := store.Retrieve(service, key)
	if err != nil {
		return "", mederr.Wrapf(err, mederr.CodeSecretResolveFailure,
			"resolving keyring URI %q", value)
	}

	return secret, nil
}

// ResolveProviderKeys returns a copy of providers with every keyring://
// API key replaced by its stored value. Providers whose reference cannot
// be resolved are dropped with a warning so that an unused vendor never
// blocks startup; wiring reports the missing key if the provider is needed.
func ResolveProviderKeys(providers map[string]config.ProviderConfig, store Store) map[string]config.ProviderConfig {
	if providers == nil {
		return nil
	}

	out := make(map[string]config.ProviderConfig, len(providers))
	for _, name := range slices.Sorted(maps.Keys(providers)) {
		pc := providers[name]
		key, err := ResolveKeyringURI(store, pc.APIKey)
		if err != nil {
			slog.Warn("failed to resolve provider api key",
				"provider", name,
				"error", err,
			)
			continue
		}
		pc.APIKey = key
		out[name] = pc
	}
	return out
}
