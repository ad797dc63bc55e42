// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/samber/oops"

	"github.com/grammata/grammata/internal/auth"
	"github.com/grammata/grammata/pkg/errutil"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resetRequestBody struct {
	Email string `json:"email"`
}

type resetConfirmBody struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type identityResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decode(w, r, &req) {
		return
	}

	identity, err := s.validator.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// A session for the fresh account, rotating any presented token.
	token, err := s.sessions.Create(r.Context(), identity, s.cookieToken(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.setSessionCookie(w, token)
	s.respond(w, http.StatusCreated, identityResponse{
		UserID: identity.UserID.String(),
		Email:  identity.Email,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decode(w, r, &req) {
		return
	}

	identity, err := s.validator.Validate(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}

	token, err := s.sessions.Create(r.Context(), identity, s.cookieToken(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.setSessionCookie(w, token)
	s.respond(w, http.StatusOK, identityResponse{
		UserID: identity.UserID.String(),
		Email:  identity.Email,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := s.cookieToken(r); token != "" {
		// Destroy is idempotent; an already-gone session is still a
		// successful logout.
		if err := s.sessions.Destroy(r.Context(), token); err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		s.unauthorized(w)
		return
	}
	s.respond(w, http.StatusOK, identityResponse{
		UserID: identity.UserID.String(),
		Email:  identity.Email,
	})
}

// handleResetRequest accepts a reset request and always answers 202 for
// well-formed input. A missing account is logged, never revealed.
func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequestBody
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.resets.Issue(r.Context(), req.Email); err != nil {
		if !errors.Is(err, auth.ErrUserNotFound) {
			s.writeError(w, err)
			return
		}
		s.logger.Debug("reset requested for unknown email")
	}

	s.respond(w, http.StatusAccepted, map[string]string{
		"message": "if the address is registered, a reset link has been sent",
	})
}

func (s *Server) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmBody
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.resets.Redeem(r.Context(), req.Token, req.NewPassword); err != nil {
		s.writeError(w, err)
		return
	}

	// Redemption revoked every live session for the user, including the
	// one presented here.
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a JSON body, answering 400 on malformed input.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.respond(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("response encode failed", "error", err)
	}
}

func (s *Server) unauthorized(w http.ResponseWriter) {
	s.respond(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
}

// writeError maps core sentinels onto status codes. Infrastructure
// failures become a neutral 500; the response never distinguishes which
// credential component was wrong.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrSessionNotFound):
		s.respond(w, http.StatusUnauthorized, errorResponse{Error: "invalid email or password"})
	case errors.Is(err, auth.ErrSessionExpired):
		s.clearSessionCookie(w)
		s.respond(w, http.StatusUnauthorized, errorResponse{Error: "session expired, please sign in again"})
	case errors.Is(err, auth.ErrAccountLocked):
		s.respond(w, http.StatusForbidden, errorResponse{Error: "account temporarily locked, try again later"})
	case errors.Is(err, auth.ErrDuplicateEmail):
		s.respond(w, http.StatusConflict, errorResponse{Error: "email is already registered"})
	case errors.Is(err, auth.ErrTokenInvalid):
		s.respond(w, http.StatusBadRequest, errorResponse{Error: "invalid or expired reset token"})
	case errors.Is(err, auth.ErrEmptyPassword), hasErrorCode(err, "AUTH_INVALID_EMAIL"), hasErrorCode(err, "AUTH_INVALID_USER"):
		s.respond(w, http.StatusBadRequest, errorResponse{Error: "invalid request"})
	default:
		errutil.LogError(s.logger, "request failed", err)
		s.respond(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// hasErrorCode reports whether err carries the given structured code.
func hasErrorCode(err error, code string) bool {
	oopsErr, ok := oops.AsOops(err)
	return ok && oopsErr.Code() == code
}

// cookieToken extracts the session token from the request cookie, empty
// when absent.
func (s *Server) cookieToken(r *http.Request) string {
	c, err := r.Cookie(s.cfg.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// setSessionCookie attaches the session token as a browser-session
// cookie. No Max-Age: expiry is the server's decision alone.
func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
