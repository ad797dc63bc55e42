// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

// Package auth provides the authentication and session-security core
// for the Grammata backend.
//
// # Domain Types
//
// Domain types (User, SessionRecord, ResetToken) are created through
// their constructors:
//   - NewUser - creates a User with a normalized email and password hash
//   - NewSessionRecord - creates a SessionRecord bound to an Identity
//   - NewResetToken - creates a ResetToken with a fixed validity window
//
// Direct struct initialization bypasses validation and may create
// invalid state. Store implementations receive pre-validated values
// from these constructors.
//
// # Services
//
// Service types coordinate domain operations:
//   - CredentialValidator - registration and credential validation,
//     gated by the lockout policy
//   - SessionManager - session mint, rolling renewal, expiry, destroy
//   - PasswordResetCoordinator - reset-token issue and redemption
//
// Services are created with New* constructors that validate their
// dependencies. Durable state lives behind the UserStore, SessionStore
// and TokenStore interfaces; nothing in this package survives a
// process restart.
package auth
