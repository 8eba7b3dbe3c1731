// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/authd/internal/store"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

var _ = Describe("identities schema", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		pool      *pgxpool.Pool
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("authd_test"),
			postgres.WithUsername("authd"),
			postgres.WithPassword("authd"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err = store.Open(ctx, store.PoolConfig{URL: connStr, MaxConns: 2}, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	insert := func(email, codeHash, tokenHash *string) error {
		var codeExp, tokenExp *time.Time
		future := time.Now().Add(time.Minute)
		if codeHash != nil {
			codeExp = &future
		}
		if tokenHash != nil {
			tokenExp = &future
		}
		_, err := pool.Exec(ctx, `
			INSERT INTO identities (id, name, email, password_hash,
				recovery_code_hash, recovery_code_expires_at,
				recovery_token_hash, recovery_token_expires_at)
			VALUES ($1, 'Ann', $2, 'hash', $3, $4, $5, $6)
		`, ulid.Make().String(), *email, codeHash, codeExp, tokenHash, tokenExp)
		return err
	}
	str := func(s string) *string { return &s }

	It("accepts a normalized identity", func() {
		Expect(insert(str("ann@x.com"), nil, nil)).To(Succeed())
	})

	It("rejects a second identity with the same email", func() {
		err := insert(str("ann@x.com"), nil, nil)
		Expect(pgCode(err)).To(Equal(pgerrcode.UniqueViolation))
	})

	It("rejects an email that is not normalized", func() {
		err := insert(str(" Bob@X.com"), nil, nil)
		Expect(pgCode(err)).To(Equal(pgerrcode.CheckViolation))
	})

	It("rejects a pending code and token at the same time", func() {
		err := insert(str("cat@x.com"), str("codehash"), str("tokenhash"))
		Expect(pgCode(err)).To(Equal(pgerrcode.CheckViolation))
	})

	It("accepts a single pending secret", func() {
		Expect(insert(str("dan@x.com"), str("codehash"), nil)).To(Succeed())
		Expect(insert(str("eve@x.com"), nil, str("tokenhash"))).To(Succeed())
	})
})
