// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

// Package store provides the namespaced key/value storage behind the
// plugin storage capability.
package store

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/samber/oops"
)

// Error codes.
const (
	CodeInvalidNamespace = "INVALID_NAMESPACE"
	CodeInvalidKey       = "INVALID_KEY"
	CodeValueTooLarge    = "VALUE_TOO_LARGE"
	CodeStorageFailed    = "STORAGE_FAILED"
	CodeUnknownDriver    = "UNKNOWN_DRIVER"
)

// Limits on plugin storage.
const (
	MaxNameLength = 128
	MaxKeyLength  = 256
	MaxValueBytes = 64 * 1024
)

// KVStore provides namespaced key-value storage. Get on a missing key returns
// (nil, nil), never an error.
type KVStore interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
}

// Backend is a KVStore that owns resources.
type Backend interface {
	KVStore
	Close() error
}

// ValidateNamespace rejects names that could escape a per-plugin storage
// area: empty, longer than MaxNameLength, containing "..", a path separator
// or a NUL byte.
func ValidateNamespace(ns string) error {
	if err := validateName(ns, MaxNameLength); err != nil {
		return oops.In("store").Code(CodeInvalidNamespace).With("namespace", ns).Wrap(err)
	}
	return nil
}

// ValidateKey applies the namespace rules to keys, with a longer limit.
func ValidateKey(key string) error {
	if err := validateName(key, MaxKeyLength); err != nil {
		return oops.In("store").Code(CodeInvalidKey).With("key", key).Wrap(err)
	}
	return nil
}

func validateName(name string, limit int) error {
	switch {
	case name == "":
		return oops.Errorf("name cannot be empty")
	case utf8.RuneCountInString(name) > limit:
		return oops.Errorf("name longer than %d characters", limit)
	case strings.Contains(name, ".."):
		return oops.Errorf("name cannot contain '..'")
	case strings.ContainsAny(name, "/\\\x00"):
		return oops.Errorf("name cannot contain path separators")
	}
	return nil
}

// ValidateValue enforces MaxValueBytes.
func ValidateValue(value []byte) error {
	if len(value) > MaxValueBytes {
		return oops.In("store").Code(CodeValueTooLarge).
			With("size", len(value)).
			With("limit", MaxValueBytes).
			Errorf("value exceeds %d bytes", MaxValueBytes)
	}
	return nil
}

func validateAccess(ns, key string) error {
	if err := ValidateNamespace(ns); err != nil {
		return err
	}
	return ValidateKey(key)
}

// Open creates a backend by driver name: memory, sqlite, postgres or redis.
func Open(ctx context.Context, driver, dsn string) (Backend, error) {
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(ctx, dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	case "redis":
		return OpenRedis(ctx, dsn)
	default:
		return nil, oops.In("store").Code(CodeUnknownDriver).
			With("driver", driver).
			Errorf("unknown storage driver")
	}
}
