// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package secrets

import (
	"strings"

	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
)

const refScheme = "keyring://"

// IsRef reports whether a config value refers to a keyring secret.
func IsRef(value string) bool {
	return strings.HasPrefix(value, refScheme)
}

// Resolve replaces a keyring://<name> reference with the stored secret.
// Plain values pass through unchanged.
func Resolve(store Store, value string) (string, error) {
	if !IsRef(value) {
		return value, nil
	}

	name := strings.TrimPrefix(value, refScheme)
	if name == "" || strings.Contains(name, "/") {
		return "", lcerr.Errorf(lcerr.CodeSecretInvalidInput,
			"invalid secret reference %q: expected keyring://<name>", value)
	}

	secret, err := store.Get(name)
	if err != nil {
		return "", lcerr.Wrapf(err, lcerr.CodeSecretResolveFailure, "resolving %q", value)
	}
	return secret, nil
}

// ResolveAll resolves each value in place, stopping at the first failure.
func ResolveAll(store Store, values ...*string) error {
	for _, v := range values {
		resolved, err := Resolve(store, *v)
		if err != nil {
			return err
		}
		*v = resolved
	}
	return nil
}
