// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// dummyPasswordHash is verified against when a user doesn't exist, keeping the
// unknown-email and wrong-password paths on the same timing profile. This is
// NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Session is the result of a successful login: the authenticated user and a
// fresh token pair.
type Session struct {
	User         *User
	AccessToken  string
	RefreshToken string
}

// TokenPair is the result of a successful rotation.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// SessionService orchestrates login, verification, refresh-with-rotation, and
// logout. All revocation authority lives in the refresh-token rows.
type SessionService struct {
	users  UserDirectory
	tokens RefreshTokenRepository
	codec  *TokenCodec
	hasher PasswordHasher
	logger *slog.Logger
}

// NewSessionService creates a SessionService.
func NewSessionService(users UserDirectory, tokens RefreshTokenRepository, codec *TokenCodec, hasher PasswordHasher) (*SessionService, error) {
	return NewSessionServiceWithLogger(users, tokens, codec, hasher, slog.Default())
}

// NewSessionServiceWithLogger creates a SessionService with an explicit logger.
func NewSessionServiceWithLogger(users UserDirectory, tokens RefreshTokenRepository, codec *TokenCodec, hasher PasswordHasher, logger *slog.Logger) (*SessionService, error) {
	if users == nil {
		return nil, oops.Errorf("user directory is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("refresh token repository is required")
	}
	if codec == nil {
		return nil, oops.Errorf("token codec is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &SessionService{
		users:  users,
		tokens: tokens,
		codec:  codec,
		hasher: hasher,
		logger: logger,
	}, nil
}

// Signup creates an account and logs it in, returning a session with a fresh
// token pair. Uniqueness violations surface as ErrEmailTaken or
// ErrUsernameTaken.
func (s *SessionService) Signup(ctx context.Context, username, email, password string) (*Session, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := NewUser(username, email, hash)
	if err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) || errors.Is(err, ErrUsernameTaken) {
			return nil, err
		}
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	access, err := s.codec.IssueAccess(user)
	if err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "issue access token").
			Wrap(err)
	}
	refresh, err := s.codec.IssueRefresh(user)
	if err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "issue refresh token").
			Wrap(err)
	}

	if err := s.tokens.Create(ctx, NewRefreshToken(user.ID, refresh)); err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "persist refresh token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.logger.Info("account created", "user_id", user.ID.String(), "username", user.Username)

	return &Session{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

// Login authenticates by email and password and issues an access/refresh pair,
// persisting the refresh row. Unknown email and wrong password both return
// ErrInvalidCredentials; the missing-user path still runs hash verification
// against a dummy hash to keep response timing flat.
func (s *SessionService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, lookupErr := s.users.FindByEmail(ctx, email)

	targetHash := dummyPasswordHash
	userExists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "find user by email").
				Wrap(lookupErr)
		}
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !userExists {
			return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}
	if !userExists || !valid {
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	access, err := s.codec.IssueAccess(user)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue access token").
			Wrap(err)
	}
	refresh, err := s.codec.IssueRefresh(user)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue refresh token").
			Wrap(err)
	}

	if err := s.tokens.Create(ctx, NewRefreshToken(user.ID, refresh)); err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "persist refresh token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.logger.Info("login succeeded", "user_id", user.ID.String())

	return &Session{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

// Verify decodes an access token and re-fetches the user by ID. The re-fetch
// is deliberate: a deleted account cannot keep authenticating on a still-valid
// signature. Returns ErrTokenExpired, ErrTokenMalformed, or ErrUserNotFound.
func (s *SessionService) Verify(ctx context.Context, accessToken string) (*Identity, error) {
	claims, err := s.codec.Verify(accessToken, PurposeAccess)
	if err != nil {
		return nil, err
	}
	userID, err := claims.SubjectID()
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_USER_NOT_FOUND").
				With("user_id", userID.String()).
				Wrap(ErrUserNotFound)
		}
		return nil, oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "find user by id").
			Wrap(err)
	}

	return &Identity{UserID: user.ID, Username: user.Username, Email: user.Email}, nil
}

// Refresh exchanges a valid refresh token for a new access/refresh pair,
// rotating the persisted row in a single transaction. The row lookup and the
// transactional delete are both scoped to the exact token string, so of two
// near-simultaneous calls with the same token at most one succeeds; the other
// gets ErrTokenRevoked. A transaction that cannot complete rolls back and
// returns ErrRefreshFailed, leaving the old token valid for retry.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.codec.Verify(refreshToken, PurposeRefresh)
	if err != nil {
		return nil, err
	}
	userID, err := claims.SubjectID()
	if err != nil {
		return nil, err
	}

	if _, err := s.tokens.Find(ctx, refreshToken, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_TOKEN_REVOKED").
				With("user_id", userID.String()).
				Wrap(ErrTokenRevoked)
		}
		return nil, oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "find refresh token").
			Wrap(err)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_USER_NOT_FOUND").
				With("user_id", userID.String()).
				Wrap(ErrUserNotFound)
		}
		return nil, oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "find user by id").
			Wrap(err)
	}

	access, err := s.codec.IssueAccess(user)
	if err != nil {
		return nil, oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "issue access token").
			Wrap(err)
	}
	nextRefresh, err := s.codec.IssueRefresh(user)
	if err != nil {
		return nil, oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "issue refresh token").
			Wrap(err)
	}

	if err := s.tokens.Rotate(ctx, refreshToken, NewRefreshToken(user.ID, nextRefresh)); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Lost the rotation race: another caller already consumed the row.
			return nil, oops.Code("AUTH_TOKEN_REVOKED").
				With("user_id", userID.String()).
				Wrap(ErrTokenRevoked)
		}
		return nil, oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "rotate refresh token").
			With("user_id", userID.String()).
			Wrap(ErrRefreshFailed)
	}

	s.logger.Info("refresh token rotated", "user_id", user.ID.String())

	return &TokenPair{AccessToken: access, RefreshToken: nextRefresh}, nil
}

// Logout revokes a refresh token by deleting its row. Deleting zero rows is
// not an error; calling Logout twice is a no-op the second time.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	if err := s.tokens.Delete(ctx, refreshToken); err != nil {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "delete refresh token").
			Wrap(err)
	}
	return nil
}

// ChangeUsername validates and updates a user's username. Returns
// ErrUsernameTaken on conflict and ErrUserNotFound for a missing account.
func (s *SessionService) ChangeUsername(ctx context.Context, userID ulid.ULID, username string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	if err := s.users.UpdateUsername(ctx, userID, username); err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return err
		}
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_USER_NOT_FOUND").With("user_id", userID.String()).Wrap(ErrUserNotFound)
		}
		return oops.Code("AUTH_UPDATE_USERNAME_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	s.logger.Info("username changed", "user_id", userID.String(), "username", username)
	return nil
}

// DeleteAccount removes a user and revokes all of their refresh tokens.
func (s *SessionService) DeleteAccount(ctx context.Context, userID ulid.ULID) error {
	if err := s.tokens.DeleteByUser(ctx, userID); err != nil {
		return oops.Code("AUTH_DELETE_ACCOUNT_FAILED").
			With("operation", "delete refresh tokens").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_USER_NOT_FOUND").With("user_id", userID.String()).Wrap(ErrUserNotFound)
		}
		return oops.Code("AUTH_DELETE_ACCOUNT_FAILED").
			With("operation", "delete user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	s.logger.Info("account deleted", "user_id", userID.String())
	return nil
}
