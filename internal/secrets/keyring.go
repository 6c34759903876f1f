// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package secrets

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/zalando/go-keyring"

	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
)

// DefaultService is the keyring service name LedgerCache stores under.
const DefaultService = "ledgercache"

// indexKey is the keyring entry holding the JSON list of stored names.
// go-keyring cannot enumerate entries, so the index is maintained
// alongside the secrets themselves.
const indexKey = "::index"

// KeyringStore implements Store on the OS keyring: Keychain on macOS,
// secret-service on Linux, Credential Manager on Windows.
type KeyringStore struct {
	service string
}

// NewKeyringStore returns a KeyringStore scoped to the given service
// name, or DefaultService when empty.
func NewKeyringStore(service string) *KeyringStore {
	if service == "" {
		service = DefaultService
	}
	return &KeyringStore{service: service}
}

func (s *KeyringStore) Set(name, value string) error {
	if name == "" {
		return lcerr.New(lcerr.CodeSecretInvalidInput, "secret name must not be empty")
	}

	if err := keyring.Set(s.service, name, value); err != nil {
		return lcerr.Wrapf(err, lcerr.CodeSecretStorageFailure, "storing secret %q", name)
	}
	return s.indexAdd(name)
}

func (s *KeyringStore) Get(name string) (string, error) {
	if name == "" {
		return "", lcerr.New(lcerr.CodeSecretInvalidInput, "secret name must not be empty")
	}

	val, err := keyring.Get(s.service, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", lcerr.Errorf(lcerr.CodeSecretNotFound, "secret %q not found", name)
		}
		return "", lcerr.Wrapf(err, lcerr.CodeSecretStorageFailure, "reading secret %q", name)
	}
	return val, nil
}

func (s *KeyringStore) Delete(name string) error {
	if name == "" {
		return lcerr.New(lcerr.CodeSecretInvalidInput, "secret name must not be empty")
	}

	if err := keyring.Delete(s.service, name); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return lcerr.Errorf(lcerr.CodeSecretNotFound, "secret %q not found", name)
		}
		return lcerr.Wrapf(err, lcerr.CodeSecretStorageFailure, "deleting secret %q", name)
	}
	return s.indexRemove(name)
}

func (s *KeyringStore) List() ([]string, error) {
	return s.indexLoad()
}

func (s *KeyringStore) indexLoad() ([]string, error) {
	raw, err := keyring.Get(s.service, indexKey)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, lcerr.Wrapf(err, lcerr.CodeSecretStorageFailure, "loading secret index")
	}

	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, lcerr.Wrapf(err, lcerr.CodeSecretStorageFailure, "decoding secret index")
	}
	return names, nil
}

func (s *KeyringStore) indexSave(names []string) error {
	if len(names) == 0 {
		if err := keyring.Delete(s.service, indexKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			slog.Debug("failed to remove empty secret index", "error", err)
		}
		return nil
	}

	data, err := json.Marshal(names)
	if err != nil {
		return lcerr.Wrapf(err, lcerr.CodeSecretStorageFailure, "encoding secret index")
	}
	if err := keyring.Set(s.service, indexKey, string(data)); err != nil {
		return lcerr.Wrapf(err, lcerr.CodeSecretStorageFailure, "saving secret index")
	}
	return nil
}

func (s *KeyringStore) indexAdd(name string) error {
	names, err := s.indexLoad()
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == name {
			return nil
		}
	}
	return s.indexSave(append(names, name))
}

func (s *KeyringStore) indexRemove(name string) error {
	names, err := s.indexLoad()
	if err != nil {
		return err
	}
	kept := names[:0]
	for _, n := range names {
		if n != name {
			kept = append(kept, n)
		}
	}
	return s.indexSave(kept)
}
