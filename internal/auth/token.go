// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// RefreshToken is a persisted refresh-token row. The row is the authority for
// revocation: logout, rotation, and password reset all delete rows instead of
// waiting for signature expiry. No expiry column is stored; the signed claim
// carries it, and cleanup sweeps rows older than the refresh TTL.
type RefreshToken struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	Token     string
	CreatedAt time.Time
}

// NewRefreshToken creates a row for a freshly issued refresh token.
func NewRefreshToken(userID ulid.ULID, token string) *RefreshToken {
	return &RefreshToken{
		ID:        ulid.Make(),
		UserID:    userID,
		Token:     token,
		CreatedAt: time.Now(),
	}
}

// PasswordResetToken is a persisted reset-token row, at most one per user.
type PasswordResetToken struct {
	UserID    ulid.ULID
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpiredAt reports whether the reset token is expired at the given time.
func (t *PasswordResetToken) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// RefreshTokenRepository manages refresh-token row persistence.
type RefreshTokenRepository interface {
	// Create stores a new refresh-token row.
	Create(ctx context.Context, token *RefreshToken) error

	// Find retrieves the row matching the exact token string and user ID.
	// Returns ErrNotFound if no row matches.
	Find(ctx context.Context, token string, userID ulid.ULID) (*RefreshToken, error)

	// Rotate atomically deletes the old row (matched by exact token string and
	// user ID) and inserts the replacement, within a single transaction.
	// Returns ErrNotFound, rolling back, when the delete matches zero rows —
	// this is what stops two concurrent rotations of the same token from both
	// succeeding.
	Rotate(ctx context.Context, oldToken string, next *RefreshToken) error

	// Delete removes the row for the given token string. Deleting zero rows is
	// not an error; logout is idempotent.
	Delete(ctx context.Context, token string) error

	// DeleteByUser removes every refresh-token row for a user.
	DeleteByUser(ctx context.Context, userID ulid.ULID) error

	// DeleteCreatedBefore removes rows created before the cutoff and returns
	// the count. Used by cleanup with cutoff = now - refresh TTL.
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PasswordResetRepository manages password-reset row persistence.
type PasswordResetRepository interface {
	// Upsert stores a reset token, replacing any existing row for the same
	// user. At most one live reset token per user exists at any time.
	Upsert(ctx context.Context, token *PasswordResetToken) error

	// Find retrieves the row matching the exact token string and user ID.
	// Returns ErrNotFound if no row matches.
	Find(ctx context.Context, token string, userID ulid.ULID) (*PasswordResetToken, error)

	// Consume completes a password reset in one transaction: update the user's
	// password hash, delete the reset row (ErrNotFound and rollback if it no
	// longer matches), and delete all refresh-token rows for the user.
	Consume(ctx context.Context, userID ulid.ULID, token string, passwordHash string) error

	// DeleteExpired removes rows whose expiry has passed and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Notifier delivers the reset link to the account holder. Delivery failure is
// non-fatal to the reset request.
type Notifier interface {
	SendPasswordResetEmail(ctx context.Context, email, username, link string) error
}
