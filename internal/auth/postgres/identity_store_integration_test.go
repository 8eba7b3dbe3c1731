// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/postgres"
	"github.com/holomush/authd/internal/store"
)

var _ = Describe("IdentityStore", Ordered, func() {
	var (
		ctx       context.Context
		container *tcpostgres.PostgresContainer
		pool      *pgxpool.Pool
		ids       *postgres.IdentityStore
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		container, err = tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("authd_test"),
			tcpostgres.WithUsername("authd"),
			tcpostgres.WithPassword("authd"),
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

		pool, err = store.Open(ctx, store.PoolConfig{URL: connStr}, nil)
		Expect(err).NotTo(HaveOccurred())
		ids = postgres.NewIdentityStore(pool)
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	newIdentity := func(email string) *auth.Identity {
		identity, err := auth.NewIdentity("Ann", email, "$argon2id$hash")
		Expect(err).NotTo(HaveOccurred())
		return identity
	}

	It("pings", func() {
		Expect(ids.Ping(ctx)).To(Succeed())
	})

	It("creates and finds an identity by email", func() {
		identity := newIdentity("ann@x.com")
		Expect(ids.Create(ctx, identity)).To(Succeed())

		got, err := ids.FindByEmail(ctx, "ann@x.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(identity.ID))
		Expect(got.RecoveryState()).To(Equal(auth.RecoveryIdle))
	})

	It("reports a duplicate email", func() {
		err := ids.Create(ctx, newIdentity("ann@x.com"))
		Expect(err).To(MatchError(auth.ErrDuplicateEmail))
		Expect(auth.KindOf(err)).To(Equal(auth.KindDuplicateEmail))
	})

	It("reports a missing identity as not found", func() {
		_, err := ids.FindByEmail(ctx, "nobody@x.com")
		Expect(err).To(MatchError(auth.ErrNotFound))
	})

	It("walks the recovery lifecycle", func() {
		identity := newIdentity("bob@x.com")
		Expect(ids.Create(ctx, identity)).To(Succeed())

		now := time.Now().UTC().Truncate(time.Microsecond)
		codeHash := auth.HashSecret("4821")
		identity.IssueCode(codeHash, now.Add(10*time.Minute))
		identity.UpdatedAt = now
		Expect(ids.Save(ctx, identity)).To(Succeed())

		By("matching the code only before it expires")
		got, err := ids.FindByEmailAndCode(ctx, "bob@x.com", codeHash, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.RecoveryState()).To(Equal(auth.RecoveryCodeIssued))

		_, err = ids.FindByEmailAndCode(ctx, "bob@x.com", codeHash, now.Add(10*time.Minute))
		Expect(err).To(MatchError(auth.ErrNotFound))

		_, err = ids.FindByEmailAndCode(ctx, "ann@x.com", codeHash, now)
		Expect(err).To(MatchError(auth.ErrNotFound))

		By("swapping the code for a token")
		tokenHash := auth.HashSecret("token")
		got.IssueToken(tokenHash, now.Add(30*time.Minute))
		Expect(ids.Save(ctx, got)).To(Succeed())

		_, err = ids.FindByEmailAndCode(ctx, "bob@x.com", codeHash, now)
		Expect(err).To(MatchError(auth.ErrNotFound))

		withToken, err := ids.FindByEmailAndToken(ctx, "bob@x.com", tokenHash, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(withToken.RecoveryState()).To(Equal(auth.RecoveryTokenIssued))

		By("completing the reset")
		withToken.CompleteReset("$argon2id$new")
		Expect(ids.Save(ctx, withToken)).To(Succeed())

		final, err := ids.FindByEmail(ctx, "bob@x.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(final.PasswordHash).To(Equal("$argon2id$new"))
		Expect(final.RecoveryState()).To(Equal(auth.RecoveryIdle))
		Expect(final.RecoveryCodeExpiresAt).To(BeNil())
		Expect(final.RecoveryTokenExpiresAt).To(BeNil())
	})

	It("upgrades a password hash only while it is unchanged", func() {
		identity := newIdentity("cas@x.com")
		Expect(ids.Create(ctx, identity)).To(Succeed())
		identity.IssueToken(auth.HashSecret("tok"), time.Now().Add(time.Hour))
		Expect(ids.Save(ctx, identity)).To(Succeed())

		at := time.Now().UTC().Truncate(time.Microsecond)
		err := ids.UpdatePasswordHash(ctx, identity.ID, "$argon2id$stale", "$argon2id$new", at)
		Expect(err).To(MatchError(auth.ErrNotFound))

		Expect(ids.UpdatePasswordHash(ctx, identity.ID, "$argon2id$hash", "$argon2id$new", at)).To(Succeed())
		got, err := ids.FindByEmail(ctx, "cas@x.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.PasswordHash).To(Equal("$argon2id$new"))
		Expect(got.RecoveryState()).To(Equal(auth.RecoveryTokenIssued))
	})

	It("sweeps only expired recovery secrets", func() {
		now := time.Now().UTC().Truncate(time.Microsecond)

		stale := newIdentity("stale@x.com")
		Expect(ids.Create(ctx, stale)).To(Succeed())
		stale.IssueCode(auth.HashSecret("1234"), now.Add(-time.Minute))
		Expect(ids.Save(ctx, stale)).To(Succeed())

		fresh := newIdentity("fresh@x.com")
		Expect(ids.Create(ctx, fresh)).To(Succeed())
		fresh.IssueToken(auth.HashSecret("tok"), now.Add(time.Hour))
		Expect(ids.Save(ctx, fresh)).To(Succeed())

		n, err := ids.SweepExpiredSecrets(ctx, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeNumerically(">=", 1))

		got, err := ids.FindByEmail(ctx, "stale@x.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.RecoveryState()).To(Equal(auth.RecoveryIdle))
		Expect(got.RecoveryCodeExpiresAt).To(BeNil())

		got, err = ids.FindByEmail(ctx, "fresh@x.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.RecoveryState()).To(Equal(auth.RecoveryTokenIssued))
	})

	It("fails to save an identity that was never created", func() {
		err := ids.Save(ctx, newIdentity("ghost@x.com"))
		Expect(err).To(MatchError(auth.ErrNotFound))
	})
})
