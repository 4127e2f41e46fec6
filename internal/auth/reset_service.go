// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Randomized delay bounds applied when the requested account does not exist,
// equalizing response timing with the found case.
const (
	decoyDelayMin = 50 * time.Millisecond
	decoyDelayMax = 150 * time.Millisecond
)

// PasswordResetService orchestrates reset-token issuance, validation, and
// consumption. At most one live reset token exists per user; issuing a new one
// overwrites the previous, which then immediately fails validation because its
// row value no longer matches.
type PasswordResetService struct {
	users    UserDirectory
	resets   PasswordResetRepository
	codec    *TokenCodec
	hasher   PasswordHasher
	notifier Notifier
	logger   *slog.Logger
	baseURL  string

	sleep func(ctx context.Context, d time.Duration)
	clock func() time.Time
}

// NewPasswordResetService creates a PasswordResetService. baseURL is the
// public endpoint the reset link points at.
func NewPasswordResetService(
	users UserDirectory,
	resets PasswordResetRepository,
	codec *TokenCodec,
	hasher PasswordHasher,
	notifier Notifier,
	baseURL string,
	logger *slog.Logger,
) (*PasswordResetService, error) {
	if users == nil {
		return nil, oops.Errorf("user directory is required")
	}
	if resets == nil {
		return nil, oops.Errorf("password reset repository is required")
	}
	if codec == nil {
		return nil, oops.Errorf("token codec is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if notifier == nil {
		return nil, oops.Errorf("notifier is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PasswordResetService{
		users:    users,
		resets:   resets,
		codec:    codec,
		hasher:   hasher,
		notifier: notifier,
		logger:   logger,
		baseURL:  baseURL,
		sleep:    sleepContext,
		clock:    time.Now,
	}, nil
}

// RequestReset issues a reset token for the account with the given email and
// hands the link to the notifier. The response is identical whether or not the
// account exists: an unknown email gets a randomized delay and the same nil
// return, so neither response content nor timing reveals account existence.
// Delivery failure is logged but does not fail the request.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.sleep(ctx, decoyDelay())
			return nil
		}
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "find user by email").
			Wrap(err)
	}

	token, expiresAt, err := s.codec.IssueReset(user)
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "issue reset token").
			Wrap(err)
	}

	row := &PasswordResetToken{
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: s.clock(),
	}
	if err := s.resets.Upsert(ctx, row); err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "upsert reset token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	link := s.resetLink(token)
	if err := s.notifier.SendPasswordResetEmail(ctx, user.Email, user.Username, link); err != nil {
		s.logger.Error("password reset delivery failed",
			"user_id", user.ID.String(),
			"error", err,
		)
	}

	return nil
}

// ValidateToken checks a reset token against both its signature and its
// persisted row, returning the owning user ID. The row is the authority: a
// cryptographically valid token whose row is gone or stale still fails.
func (s *PasswordResetService) ValidateToken(ctx context.Context, token string) (ulid.ULID, error) {
	claims, err := s.codec.Verify(token, PurposeReset)
	if err != nil {
		return ulid.ULID{}, err
	}
	userID, err := claims.SubjectID()
	if err != nil {
		return ulid.ULID{}, err
	}

	row, err := s.resets.Find(ctx, token, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ulid.ULID{}, oops.Code("RESET_TOKEN_INVALID").
				With("user_id", userID.String()).
				Wrap(ErrTokenMalformed)
		}
		return ulid.ULID{}, oops.Code("RESET_VALIDATE_FAILED").
			With("operation", "find reset token").
			Wrap(err)
	}
	if row.IsExpiredAt(s.clock()) {
		return ulid.ULID{}, oops.Code("RESET_TOKEN_EXPIRED").
			With("user_id", userID.String()).
			Wrap(ErrTokenExpired)
	}

	return userID, nil
}

// Consume completes a password reset: the password hash is updated, the reset
// row deleted, and every refresh-token row for the user deleted, all in one
// transaction. A reset therefore logs the user out everywhere.
func (s *PasswordResetService) Consume(ctx context.Context, token, newPassword, confirmPassword string) error {
	if newPassword != confirmPassword {
		return oops.Code("RESET_PASSWORD_MISMATCH").Wrap(ErrPasswordMismatch)
	}

	userID, err := s.ValidateToken(ctx, token)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_CONSUME_FAILED").
			With("operation", "hash new password").
			Wrap(err)
	}

	if err := s.resets.Consume(ctx, userID, token, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Raced with another consumption or a newer request; the row this
			// token was validated against is already gone.
			return oops.Code("RESET_TOKEN_INVALID").
				With("user_id", userID.String()).
				Wrap(ErrTokenMalformed)
		}
		return oops.Code("RESET_CONSUME_FAILED").
			With("operation", "consume reset token").
			With("user_id", userID.String()).
			Wrap(err)
	}

	s.logger.Info("password reset completed", "user_id", userID.String())

	return nil
}

func (s *PasswordResetService) resetLink(token string) string {
	return s.baseURL + "?token=" + url.QueryEscape(token)
}

func decoyDelay() time.Duration {
	return decoyDelayMin + rand.N(decoyDelayMax-decoyDelayMin)
}

// sleepContext sleeps for d or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
