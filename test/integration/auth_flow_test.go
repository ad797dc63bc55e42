// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

//go:build integration

// Package integration provides end-to-end integration tests for Grammata.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/grammata/grammata/internal/auth"
	"github.com/grammata/grammata/internal/auth/authtest"
	authpg "github.com/grammata/grammata/internal/auth/postgres"
	authredis "github.com/grammata/grammata/internal/auth/redis"
	"github.com/grammata/grammata/internal/httpapi"
	"github.com/grammata/grammata/internal/store"
)

// testEnv holds all the resources needed for the end-to-end tests.
type testEnv struct {
	ctx         context.Context
	cancel      context.CancelFunc
	pgContainer testcontainers.Container
	rdContainer testcontainers.Container
	pool        *pgxpool.Pool
	redisClient *goredis.Client
	server      *httpapi.Server
	notifier    *authtest.RecordingNotifier
	baseURL     string
}

// setupTestEnv starts PostgreSQL and Redis containers, wires the full
// domain core over them, and brings up the HTTP API on a random port.
func setupTestEnv() (*testEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	env := &testEnv{
		ctx:      ctx,
		cancel:   cancel,
		notifier: &authtest.RecordingNotifier{},
	}

	pgContainer, err := postgres.Run(ctx,
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
		cancel()
		return nil, err
	}
	env.pgContainer = pgContainer

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		env.teardown()
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		env.teardown()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		env.teardown()
		return nil, err
	}
	_ = migrator.Close()

	env.pool, err = store.Connect(ctx, connStr)
	if err != nil {
		env.teardown()
		return nil, err
	}

	rdContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		env.teardown()
		return nil, err
	}
	env.rdContainer = rdContainer

	redisAddr, err := rdContainer.Endpoint(ctx, "")
	if err != nil {
		env.teardown()
		return nil, err
	}
	env.redisClient = goredis.NewClient(&goredis.Options{Addr: redisAddr})

	users := authpg.NewUserStore(env.pool)
	tokens := authpg.NewTokenStore(env.pool)

	source, err := auth.NewPasswordSource(auth.NewArgon2idHasher())
	if err != nil {
		env.teardown()
		return nil, err
	}

	clock := auth.SystemClock{}
	lockout, err := auth.NewLockoutPolicy(users, clock, 5, 15*time.Minute)
	if err != nil {
		env.teardown()
		return nil, err
	}
	validator, err := auth.NewCredentialValidator(users, source, lockout)
	if err != nil {
		env.teardown()
		return nil, err
	}

	sessions, err := auth.NewSessionManager(
		authredis.NewSessionStore(env.redisClient), clock, 30*time.Minute, 12*time.Hour)
	if err != nil {
		env.teardown()
		return nil, err
	}

	resets, err := auth.NewPasswordResetCoordinator(
		users, tokens, sessions, source, env.notifier, clock, time.Hour, slog.Default())
	if err != nil {
		env.teardown()
		return nil, err
	}

	env.server, err = httpapi.NewServer(httpapi.Config{
		Addr:       "127.0.0.1:0",
		CookieName: "grammata_session",
	}, validator, sessions, resets, nil, slog.Default())
	if err != nil {
		env.teardown()
		return nil, err
	}
	if _, err := env.server.Start(); err != nil {
		env.teardown()
		return nil, err
	}
	env.baseURL = "http://" + env.server.Addr()

	return env, nil
}

// teardown releases all test resources.
func (env *testEnv) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if env.server != nil {
		_ = env.server.Stop(ctx)
	}
	if env.redisClient != nil {
		_ = env.redisClient.Close()
	}
	if env.pool != nil {
		env.pool.Close()
	}
	if env.rdContainer != nil {
		_ = env.rdContainer.Terminate(ctx)
	}
	if env.pgContainer != nil {
		_ = env.pgContainer.Terminate(ctx)
	}
	env.cancel()
}

// newClient returns an HTTP client with its own cookie jar.
func newClient() *http.Client {
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	return &http.Client{Jar: jar, Timeout: 10 * time.Second}
}

// postJSON sends a JSON body and returns the response.
func postJSON(client *http.Client, url string, body any) *http.Response {
	payload, err := json.Marshal(body)
	Expect(err).NotTo(HaveOccurred())
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	Expect(err).NotTo(HaveOccurred())
	return resp
}

var _ = Describe("Authentication flow", func() {
	var env *testEnv

	BeforeEach(func() {
		var err error
		env, err = setupTestEnv()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		env.teardown()
	})

	register := func(client *http.Client, email, password string) {
		resp := postJSON(client, env.baseURL+"/auth/register", map[string]string{
			"email":    email,
			"password": password,
		})
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
	}

	login := func(client *http.Client, email, password string) int {
		resp := postJSON(client, env.baseURL+"/auth/login", map[string]string{
			"email":    email,
			"password": password,
		})
		defer resp.Body.Close()
		return resp.StatusCode
	}

	me := func(client *http.Client) (int, map[string]string) {
		resp, err := client.Get(env.baseURL + "/auth/me")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		var body map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return resp.StatusCode, body
	}

	It("registers an account and serves the session identity", func() {
		client := newClient()
		register(client, "reader@example.com", "correct horse battery")

		status, body := me(client)
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["email"]).To(Equal("reader@example.com"))
		Expect(body["user_id"]).To(HaveLen(26), "user_id should be a ULID")
	})

	It("rejects a duplicate registration", func() {
		client := newClient()
		register(client, "reader@example.com", "correct horse battery")

		resp := postJSON(newClient(), env.baseURL+"/auth/register", map[string]string{
			"email":    "reader@example.com",
			"password": "another password",
		})
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusConflict))
	})

	It("logs in with valid credentials and rejects invalid ones identically", func() {
		register(newClient(), "reader@example.com", "correct horse battery")

		client := newClient()
		Expect(login(client, "reader@example.com", "wrong password")).To(Equal(http.StatusUnauthorized))
		Expect(login(client, "missing@example.com", "wrong password")).To(Equal(http.StatusUnauthorized))
		Expect(login(client, "reader@example.com", "correct horse battery")).To(Equal(http.StatusOK))

		status, _ := me(client)
		Expect(status).To(Equal(http.StatusOK))
	})

	It("locks the account after repeated failures, even for the right password", func() {
		register(newClient(), "reader@example.com", "correct horse battery")

		client := newClient()
		for i := 0; i < 5; i++ {
			Expect(login(client, "reader@example.com", "wrong password")).To(Equal(http.StatusUnauthorized))
		}
		Expect(login(client, "reader@example.com", "correct horse battery")).To(Equal(http.StatusForbidden))
	})

	It("clears the session on logout", func() {
		client := newClient()
		register(client, "reader@example.com", "correct horse battery")

		resp := postJSON(client, env.baseURL+"/auth/logout", nil)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

		status, _ := me(client)
		Expect(status).To(Equal(http.StatusUnauthorized))
	})

	It("completes the password reset flow and revokes existing sessions", func() {
		client := newClient()
		register(client, "reader@example.com", "old password")

		By("requesting a reset link")
		resp := postJSON(newClient(), env.baseURL+"/auth/password-reset/request", map[string]string{
			"email": "reader@example.com",
		})
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

		sent := env.notifier.Sent()
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Email).To(Equal("reader@example.com"))
		token := sent[0].Token

		By("confirming with the token")
		resp = postJSON(newClient(), env.baseURL+"/auth/password-reset/confirm", map[string]string{
			"token":        token,
			"new_password": "new password",
		})
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

		By("revoking the pre-reset session")
		status, _ := me(client)
		Expect(status).To(Equal(http.StatusUnauthorized))

		By("accepting only the new password")
		fresh := newClient()
		Expect(login(fresh, "reader@example.com", "old password")).To(Equal(http.StatusUnauthorized))
		Expect(login(fresh, "reader@example.com", "new password")).To(Equal(http.StatusOK))

		By("rejecting token reuse")
		resp = postJSON(newClient(), env.baseURL+"/auth/password-reset/confirm", map[string]string{
			"token":        token,
			"new_password": "yet another",
		})
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("responds identically to reset requests for unknown addresses", func() {
		register(newClient(), "reader@example.com", "correct horse battery")

		known := postJSON(newClient(), env.baseURL+"/auth/password-reset/request", map[string]string{
			"email": "reader@example.com",
		})
		defer known.Body.Close()
		unknown := postJSON(newClient(), env.baseURL+"/auth/password-reset/request", map[string]string{
			"email": "stranger@example.com",
		})
		defer unknown.Body.Close()

		Expect(known.StatusCode).To(Equal(http.StatusAccepted))
		Expect(unknown.StatusCode).To(Equal(http.StatusAccepted))

		var knownBody, unknownBody map[string]any
		Expect(json.NewDecoder(known.Body).Decode(&knownBody)).To(Succeed())
		Expect(json.NewDecoder(unknown.Body).Decode(&unknownBody)).To(Succeed())
		Expect(fmt.Sprint(unknownBody)).To(Equal(fmt.Sprint(knownBody)))
	})
})
