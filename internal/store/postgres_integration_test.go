// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

//go:build integration

package store_test

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/grammata/grammata/internal/auth"
	authpg "github.com/grammata/grammata/internal/auth/postgres"
	"github.com/grammata/grammata/internal/store"
)

// setupPostgresContainer starts a PostgreSQL container, connects a pool,
// and applies all migrations.
func setupPostgresContainer() (*pgxpool.Pool, func(), error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("grammata_test"),
		postgres.WithUsername("grammata"),
		postgres.WithPassword("grammata"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		return nil, nil, err
	}
	if err := migrator.Up(); err != nil {
		return nil, nil, err
	}
	if err := migrator.Close(); err != nil {
		return nil, nil, err
	}

	pool, err := store.Connect(ctx, connStr)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return pool, cleanup, nil
}

var _ = Describe("Postgres schema", func() {
	var pool *pgxpool.Pool
	var cleanup func()

	BeforeEach(func() {
		var err error
		pool, cleanup, err = setupPostgresContainer()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		cleanup()
	})

	Describe("migrations", func() {
		It("creates the users and password_reset_tokens tables", func() {
			ctx := context.Background()
			for _, table := range []string{"users", "password_reset_tokens"} {
				var exists bool
				err := pool.QueryRow(ctx,
					`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
					table).Scan(&exists)
				Expect(err).NotTo(HaveOccurred())
				Expect(exists).To(BeTrue(), "table %s should exist", table)
			}
		})
	})

	Describe("UserStore", func() {
		var users *authpg.UserStore

		BeforeEach(func() {
			users = authpg.NewUserStore(pool)
		})

		It("creates and retrieves a user by email and ID", func() {
			ctx := context.Background()
			user, err := auth.NewUser("clerk@example.com", "argon2id-hash", time.Now())
			Expect(err).NotTo(HaveOccurred())

			Expect(users.Create(ctx, user)).To(Succeed())

			byEmail, err := users.GetByEmail(ctx, "clerk@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(byEmail.ID).To(Equal(user.ID))
			Expect(byEmail.PasswordHash).To(Equal("argon2id-hash"))

			byID, err := users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(byID.Email).To(Equal("clerk@example.com"))
		})

		It("rejects a duplicate email", func() {
			ctx := context.Background()
			first, err := auth.NewUser("dup@example.com", "hash-a", time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(users.Create(ctx, first)).To(Succeed())

			second, err := auth.NewUser("dup@example.com", "hash-b", time.Now())
			Expect(err).NotTo(HaveOccurred())
			err = users.Create(ctx, second)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, auth.ErrDuplicateEmail)).To(BeTrue())
		})

		It("increments failures atomically and resets failure state", func() {
			ctx := context.Background()
			user, err := auth.NewUser("counter@example.com", "hash", time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(users.Create(ctx, user)).To(Succeed())

			for want := 1; want <= 3; want++ {
				count, err := users.IncrementFailures(ctx, user.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(count).To(Equal(want))
			}

			until := time.Now().Add(15 * time.Minute)
			Expect(users.SetLockoutExpiry(ctx, user.ID, until)).To(Succeed())

			locked, err := users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(locked.FailedAttempts).To(Equal(3))
			Expect(locked.LockoutExpiry).NotTo(BeNil())

			Expect(users.ResetFailureState(ctx, user.ID)).To(Succeed())
			clean, err := users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(clean.FailedAttempts).To(BeZero())
			Expect(clean.LockoutExpiry).To(BeNil())
		})

		It("replaces only the password hash", func() {
			ctx := context.Background()
			user, err := auth.NewUser("rotate@example.com", "old-hash", time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(users.Create(ctx, user)).To(Succeed())

			Expect(users.UpdatePassword(ctx, user.ID, "new-hash")).To(Succeed())

			updated, err := users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.PasswordHash).To(Equal("new-hash"))
			Expect(updated.Email).To(Equal("rotate@example.com"))
		})
	})

	Describe("TokenStore", func() {
		var users *authpg.UserStore
		var tokens *authpg.TokenStore
		var owner *auth.User

		BeforeEach(func() {
			ctx := context.Background()
			users = authpg.NewUserStore(pool)
			tokens = authpg.NewTokenStore(pool)

			var err error
			owner, err = auth.NewUser("owner@example.com", "hash", time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(users.Create(ctx, owner)).To(Succeed())
		})

		It("stores and retrieves a token by hash", func() {
			ctx := context.Background()
			_, hash, err := auth.GenerateResetToken()
			Expect(err).NotTo(HaveOccurred())

			token, err := auth.NewResetToken(owner.ID, hash, time.Now(), time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(tokens.Create(ctx, token)).To(Succeed())

			got, err := tokens.GetByTokenHash(ctx, hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(token.ID))
			Expect(got.UserID).To(Equal(owner.ID))
		})

		It("deletes a token exactly once", func() {
			ctx := context.Background()
			_, hash, err := auth.GenerateResetToken()
			Expect(err).NotTo(HaveOccurred())
			token, err := auth.NewResetToken(owner.ID, hash, time.Now(), time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(tokens.Create(ctx, token)).To(Succeed())

			Expect(tokens.Delete(ctx, token.ID)).To(Succeed())
			err = tokens.Delete(ctx, token.ID)
			Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
		})

		It("sweeps only expired tokens", func() {
			ctx := context.Background()
			now := time.Now()

			_, expiredHash, err := auth.GenerateResetToken()
			Expect(err).NotTo(HaveOccurred())
			expired, err := auth.NewResetToken(owner.ID, expiredHash, now.Add(-2*time.Hour), time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(tokens.Create(ctx, expired)).To(Succeed())

			_, liveHash, err := auth.GenerateResetToken()
			Expect(err).NotTo(HaveOccurred())
			live, err := auth.NewResetToken(owner.ID, liveHash, now, time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(tokens.Create(ctx, live)).To(Succeed())

			removed, err := tokens.DeleteExpired(ctx, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(Equal(int64(1)))

			_, err = tokens.GetByTokenHash(ctx, liveHash)
			Expect(err).NotTo(HaveOccurred())
		})

		It("cascades token deletion with the owning user", func() {
			ctx := context.Background()
			_, hash, err := auth.GenerateResetToken()
			Expect(err).NotTo(HaveOccurred())
			token, err := auth.NewResetToken(owner.ID, hash, time.Now(), time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(tokens.Create(ctx, token)).To(Succeed())

			_, err = pool.Exec(ctx, "DELETE FROM users WHERE id = $1", owner.ID.String())
			Expect(err).NotTo(HaveOccurred())

			_, err = tokens.GetByTokenHash(ctx, hash)
			Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
		})
	})
})
