// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ufitools/widgethost/internal/store"
)

// sharedBehaviour runs the contract every backend must satisfy.
func sharedBehaviour(backend func() store.KVStore) {
	ctx := context.Background()

	It("returns absent for a missing key", func() {
		v, err := backend().Get(ctx, "network-info", "never-set")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(BeNil())
	})

	It("round-trips and overwrites values", func() {
		kv := backend()
		Expect(kv.Set(ctx, "network-info", "theme", []byte("dark"))).To(Succeed())
		Expect(kv.Set(ctx, "network-info", "theme", []byte("light"))).To(Succeed())

		v, err := kv.Get(ctx, "network-info", "theme")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal([]byte("light")))
	})

	It("isolates namespaces", func() {
		kv := backend()
		Expect(kv.Set(ctx, "plugin-a", "k", []byte("a"))).To(Succeed())
		Expect(kv.Set(ctx, "plugin-b", "k", []byte("b"))).To(Succeed())
		Expect(kv.Delete(ctx, "plugin-b", "k")).To(Succeed())

		v, err := kv.Get(ctx, "plugin-a", "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal([]byte("a")))
	})
}

var _ = Describe("Postgres KV store", Ordered, func() {
	var (
		kv        *store.Postgres
		container *postgres.PostgresContainer
	)

	BeforeAll(func() {
		ctx := context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("widgethost_test"),
			postgres.WithUsername("widgethost"),
			postgres.WithPassword("widgethost"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		kv, err = store.OpenPostgres(ctx, dsn)
		Expect(err).NotTo(HaveOccurred())

		m, err := store.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = m.Close() }()
		pending, err := m.Pending()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})

	AfterAll(func() {
		if kv != nil {
			_ = kv.Close()
		}
		if container != nil {
			_ = container.Terminate(context.Background())
		}
	})

	sharedBehaviour(func() store.KVStore { return kv })
})

var _ = Describe("Redis KV store", Ordered, func() {
	var (
		kv        *store.Redis
		container *tcredis.RedisContainer
	)

	BeforeAll(func() {
		ctx := context.Background()
		var err error
		container, err = tcredis.Run(ctx, "redis:7-alpine")
		Expect(err).NotTo(HaveOccurred())

		url, err := container.ConnectionString(ctx)
		Expect(err).NotTo(HaveOccurred())

		kv, err = store.OpenRedis(ctx, url)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if kv != nil {
			_ = kv.Close()
		}
		if container != nil {
			_ = container.Terminate(context.Background())
		}
	})

	sharedBehaviour(func() store.KVStore { return kv })
})
