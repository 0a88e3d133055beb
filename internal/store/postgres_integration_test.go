// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/samber/oops"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/blockhost/blockhost/internal/store"
)

var _ = Describe("PostgresURLStore", func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
		pool      *pgxpool.Pool
		urls      *store.PostgresURLStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("blockhost_test"),
			postgres.WithUsername("blockhost"),
			postgres.WithPassword("blockhost"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		pool, err = store.OpenPool(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())
		urls = store.NewPostgresURLStore(pool)
	})

	AfterEach(func() {
		pool.Close()
		_ = container.Terminate(ctx)
	})

	migrate := func() {
		m, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		defer m.Close() //nolint:errcheck // test cleanup
		Expect(m.Up()).To(Succeed())
	}

	It("reports a missing schema with a migrate hint", func() {
		_, _, err := urls.KnownURL(ctx, "pen")
		Expect(err).To(HaveOccurred())
		oopsErr, ok := oops.AsOops(err)
		Expect(ok).To(BeTrue())
		Expect(oopsErr.Code()).To(Equal("SCHEMA_MISSING"))
		Expect(oopsErr.Hint()).To(ContainSubstring("migrate up"))
	})

	It("remembers, replaces and forgets extension URLs", func() {
		migrate()

		_, ok, err := urls.KnownURL(ctx, "pen")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		Expect(urls.SaveURL(ctx, "pen", "https://libs.example/pen.lua")).To(Succeed())
		Expect(urls.SaveURL(ctx, "pen", "https://libs.example/pen-2.lua")).To(Succeed())
		Expect(urls.SaveURL(ctx, "music", "https://libs.example/music.lua")).To(Succeed())

		url, ok, err := urls.KnownURL(ctx, "pen")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(url).To(Equal("https://libs.example/pen-2.lua"))

		all, err := urls.ListURLs(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(2))

		Expect(urls.DeleteURL(ctx, "pen")).To(Succeed())
		_, ok, err = urls.KnownURL(ctx, "pen")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})
})
