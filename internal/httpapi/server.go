// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

// Package httpapi exposes the auth subsystem's produced surface over HTTP.
// It is a thin shell: all semantics live in the auth services, and the
// surrounding product's CRUD and search surfaces are not part of it.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/unirate/unirate/internal/auth"
	"github.com/unirate/unirate/internal/auth/cleanup"
	"github.com/unirate/unirate/internal/observability"
)

// Server wires the auth services into an HTTP router.
type Server struct {
	sessions *auth.SessionService
	resets   *auth.PasswordResetService
	cleaner  *cleanup.Worker
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewServer creates an HTTP server shell over the auth services.
func NewServer(sessions *auth.SessionService, resets *auth.PasswordResetService, cleaner *cleanup.Worker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{sessions: sessions, resets: resets, cleaner: cleaner, logger: logger}
}

// UseMetrics attaches request counters. Must be called before Router.
func (s *Server) UseMetrics(m *observability.Metrics) {
	s.metrics = m
}

func (s *Server) countLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Server) countRefresh(outcome string) {
	if s.metrics != nil {
		s.metrics.RefreshTotal.WithLabelValues(outcome).Inc()
	}
}

// Router builds the chi router for the auth surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", s.handleSignup)
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
		r.Post("/password-reset/request", s.handleRequestReset)
		r.Post("/password-reset/validate", s.handleValidateReset)
		r.Post("/password-reset/consume", s.handleConsumeReset)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.RequireAuth)
		r.Get("/auth/me", s.handleMe)
		r.Patch("/auth/me/username", s.handleChangeUsername)
		r.Delete("/auth/me", s.handleDeleteAccount)
	})

	r.Route("/internal/cleanup", func(r chi.Router) {
		r.Post("/run", s.handleRunCleanup)
		r.Get("/stats", s.handleCleanupStats)
	})

	return r
}

func (s *Server) handleRunCleanup(w http.ResponseWriter, r *http.Request) {
	result, err := s.cleaner.RunOnce(r.Context())
	if err != nil {
		if errors.Is(err, cleanup.ErrAlreadyRunning) {
			writeJSON(w, http.StatusConflict, map[string]string{"status": "skipped"})
			return
		}
		s.logger.Error("cleanup run failed", "error", err)
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"reset_deleted":   result.ResetDeleted,
		"refresh_deleted": result.RefreshDeleted,
	})
}

func (s *Server) handleCleanupStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cleaner.Stats())
}

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := s.sessions.Signup(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailTaken):
			writeError(w, http.StatusConflict, "email already registered")
		case errors.Is(err, auth.ErrUsernameTaken):
			writeError(w, http.StatusConflict, "username already taken")
		case errors.Is(err, auth.ErrEmptyPassword):
			writeError(w, http.StatusBadRequest, "password cannot be empty")
		default:
			if oopsErr, ok := oops.AsOops(err); ok {
				if code, isStr := oopsErr.Code().(string); isStr && strings.HasPrefix(code, "AUTH_INVALID") {
					writeError(w, http.StatusBadRequest, err.Error())
					return
				}
			}
			s.logger.Error("signup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "signup failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{
		UserID:       session.User.ID.String(),
		Username:     session.User.Username,
		Email:        session.User.Email,
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := s.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.countLogin("rejected")
			// Same message for unknown email and wrong password.
			writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		s.countLogin("error")
		s.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	s.countLogin("success")
	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:       session.User.ID.String(),
		Username:     session.User.Username,
		Email:        session.User.Email,
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := s.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			s.countRefresh("rejected")
			writeError(w, http.StatusUnauthorized, "refresh token expired")
		case errors.Is(err, auth.ErrTokenMalformed), errors.Is(err, auth.ErrTokenRevoked), errors.Is(err, auth.ErrUserNotFound):
			s.countRefresh("rejected")
			writeError(w, http.StatusUnauthorized, "refresh token rejected")
		case errors.Is(err, auth.ErrRefreshFailed):
			s.countRefresh("unavailable")
			// The old token is still valid; the client may retry.
			writeError(w, http.StatusServiceUnavailable, "refresh temporarily unavailable")
		default:
			s.countRefresh("error")
			s.logger.Error("refresh failed", "error", err)
			writeError(w, http.StatusInternalServerError, "refresh failed")
		}
		return
	}

	s.countRefresh("success")
	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.sessions.Logout(r.Context(), req.RefreshToken); err != nil {
		s.logger.Error("logout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type resetRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if s.metrics != nil {
		s.metrics.ResetRequests.Inc()
	}

	if err := s.resets.RequestReset(r.Context(), req.Email); err != nil {
		s.logger.Error("reset request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reset request failed")
		return
	}
	// Identical response whether or not the account exists.
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type resetTokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleValidateReset(w http.ResponseWriter, r *http.Request) {
	var req resetTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := s.resets.ValidateToken(r.Context(), req.Token); err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			writeError(w, http.StatusGone, "reset token expired")
		case errors.Is(err, auth.ErrTokenMalformed):
			writeError(w, http.StatusBadRequest, "reset token invalid")
		default:
			s.logger.Error("reset validation failed", "error", err)
			writeError(w, http.StatusInternalServerError, "reset validation failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type consumeResetRequest struct {
	Token           string `json:"token"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (s *Server) handleConsumeReset(w http.ResponseWriter, r *http.Request) {
	var req consumeResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.resets.Consume(r.Context(), req.Token, req.NewPassword, req.ConfirmPassword); err != nil {
		switch {
		case errors.Is(err, auth.ErrPasswordMismatch):
			writeError(w, http.StatusBadRequest, "password confirmation mismatch")
		case errors.Is(err, auth.ErrTokenExpired):
			writeError(w, http.StatusGone, "reset token expired")
		case errors.Is(err, auth.ErrTokenMalformed):
			writeError(w, http.StatusBadRequest, "reset token invalid")
		default:
			s.logger.Error("reset consume failed", "error", err)
			writeError(w, http.StatusInternalServerError, "reset failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type changeUsernameRequest struct {
	Username string `json:"username"`
}

func (s *Server) handleChangeUsername(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no identity")
		return
	}

	var req changeUsernameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.sessions.ChangeUsername(r.Context(), identity.UserID, req.Username); err != nil {
		switch {
		case errors.Is(err, auth.ErrUsernameTaken):
			writeError(w, http.StatusConflict, "username already taken")
		case errors.Is(err, auth.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		default:
			if oopsErr, ok := oops.AsOops(err); ok && oopsErr.Code() == "AUTH_INVALID_USERNAME" {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			s.logger.Error("username change failed", "error", err)
			writeError(w, http.StatusInternalServerError, "username change failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no identity")
		return
	}

	if err := s.sessions.DeleteAccount(r.Context(), identity.UserID); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.logger.Error("account deletion failed", "error", err)
		writeError(w, http.StatusInternalServerError, "account deletion failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no identity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id":  identity.UserID.String(),
		"username": identity.Username,
		"email":    identity.Email,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // Headers already sent
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
