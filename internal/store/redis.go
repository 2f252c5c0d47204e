// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

const redisKeyPrefix = "widgethost:kv:"

// Redis is a KVStore keeping one hash per namespace.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// OpenRedis connects using a redis:// URL and verifies the connection.
func OpenRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.In("store").Code(CodeStorageFailed).Wrapf(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.In("store").Code(CodeStorageFailed).With("addr", opts.Addr).Wrapf(err, "connect to redis")
	}
	return &Redis{client: client}, nil
}

func hashKey(namespace string) string {
	return redisKeyPrefix + namespace
}

// Get implements KVStore.
func (r *Redis) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := validateAccess(namespace, key); err != nil {
		return nil, err
	}
	v, err := r.client.HGet(ctx, hashKey(namespace), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.In("store").Code(CodeStorageFailed).
			With("operation", "get").With("namespace", namespace).With("key", key).
			Wrap(err)
	}
	return v, nil
}

// Set implements KVStore.
func (r *Redis) Set(ctx context.Context, namespace, key string, value []byte) error {
	if err := validateAccess(namespace, key); err != nil {
		return err
	}
	if err := ValidateValue(value); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	if err := r.client.HSet(ctx, hashKey(namespace), key, value).Err(); err != nil {
		return oops.In("store").Code(CodeStorageFailed).
			With("operation", "set").With("namespace", namespace).With("key", key).
			Wrap(err)
	}
	return nil
}

// Delete implements KVStore.
func (r *Redis) Delete(ctx context.Context, namespace, key string) error {
	if err := validateAccess(namespace, key); err != nil {
		return err
	}
	if err := r.client.HDel(ctx, hashKey(namespace), key).Err(); err != nil {
		return oops.In("store").Code(CodeStorageFailed).
			With("operation", "delete").With("namespace", namespace).With("key", key).
			Wrap(err)
	}
	return nil
}

// Close implements Backend.
func (r *Redis) Close() error {
	return r.client.Close()
}
