// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Login attempt status labels.
const (
	LoginStatusSuccess = "success"
	LoginStatusFailure = "failure"
	LoginStatusLocked  = "locked"
)

// LoginAttempts counts credential validations by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var LoginAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "grammata_login_attempts_total",
		Help: "Total number of credential validation attempts",
	},
	[]string{"status"},
)

// Lockouts counts lockout windows opened by the progressive-lockout policy.
var Lockouts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "grammata_lockouts_total",
		Help: "Total number of account lockouts triggered",
	},
)

// Sessions counts session lifecycle events.
var Sessions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "grammata_sessions_total",
		Help: "Total number of sessions by lifecycle event",
	},
	[]string{"event"},
)

// ResetTokens counts password-reset token lifecycle events.
var ResetTokens = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "grammata_password_reset_tokens_total",
		Help: "Total number of password reset tokens by lifecycle event",
	},
	[]string{"event"},
)

// RegisterMetrics registers auth package metrics with the given
// Prometheus registry. Must be called at startup to make metrics
// available on /metrics. Panics if registration fails (prometheus
// convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(LoginAttempts)
	reg.MustRegister(Lockouts)
	reg.MustRegister(Sessions)
	reg.MustRegister(ResetTokens)
}

// RecordSessionCreated increments the created-session counter.
func RecordSessionCreated() {
	Sessions.WithLabelValues("created").Inc()
}

// RecordSessionDestroyed increments the destroyed-session counter.
func RecordSessionDestroyed() {
	Sessions.WithLabelValues("destroyed").Inc()
}

// RecordLoginAttempt increments the login attempt counter.
func RecordLoginAttempt(status string) {
	LoginAttempts.WithLabelValues(status).Inc()
}

// RecordLockout increments the lockout counter.
func RecordLockout() {
	Lockouts.Inc()
}

// RecordResetIssued increments the issued-token counter.
func RecordResetIssued() {
	ResetTokens.WithLabelValues("issued").Inc()
}

// RecordResetRedeemed increments the redeemed-token counter.
func RecordResetRedeemed() {
	ResetTokens.WithLabelValues("redeemed").Inc()
}
