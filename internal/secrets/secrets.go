// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

// Package secrets keeps upstream and embedding credentials out of config
// files by storing them in the OS keyring. Config values of the form
// keyring://<name> are resolved to their stored secret at load time.
package secrets

// Store provides named secret storage. Implementations may use the OS
// keyring or an in-memory map in tests.
type Store interface {
	// Set saves a secret under the given name, replacing any existing value.
	Set(name, value string) error

	// Get fetches a secret by name. A missing name yields an error
	// carrying CodeSecretNotFound.
	Get(name string) (string, error)

	// Delete removes a secret by name. A missing name yields an error
	// carrying CodeSecretNotFound.
	Delete(name string) error

	// List returns the names of all stored secrets.
	List() ([]string, error)
}
