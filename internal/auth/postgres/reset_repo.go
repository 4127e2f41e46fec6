// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/unirate/unirate/internal/auth"
)

// PasswordResetRepository implements auth.PasswordResetRepository using PostgreSQL.
type PasswordResetRepository struct {
	db DB
}

// NewPasswordResetRepository creates a new PasswordResetRepository.
func NewPasswordResetRepository(db DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

// Upsert stores a reset token, replacing any existing row for the same user.
// user_id is the uniqueness key, so at most one live reset token per user.
func (r *PasswordResetRepository) Upsert(ctx context.Context, token *auth.PasswordResetToken) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO password_reset_tokens (user_id, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at
	`,
		token.UserID.String(),
		token.Token,
		token.ExpiresAt,
		token.CreatedAt,
	)
	if err != nil {
		return oops.Code("RESET_UPSERT_FAILED").
			With("operation", "upsert password_reset_token").
			With("user_id", token.UserID.String()).
			Wrap(err)
	}
	return nil
}

// Find retrieves the row matching the exact token string and user ID.
func (r *PasswordResetRepository) Find(ctx context.Context, token string, userID ulid.ULID) (*auth.PasswordResetToken, error) {
	row := r.db.QueryRow(ctx, `
		SELECT user_id, token, expires_at, created_at
		FROM password_reset_tokens
		WHERE token = $1 AND user_id = $2
	`, token, userID.String())

	var (
		userIDStr string
		tokenStr  string
		expiresAt time.Time
		createdAt time.Time
	)
	err := row.Scan(&userIDStr, &tokenStr, &expiresAt, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").
			With("user_id", userID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_FIND_FAILED").
			With("operation", "find password_reset_token").
			Wrap(err)
	}

	id, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("RESET_INVALID_USER_ID").With("user_id", userIDStr).Wrap(err)
	}

	return &auth.PasswordResetToken{
		UserID:    id,
		Token:     tokenStr,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}, nil
}

// Consume completes a password reset in one transaction: update the password
// hash, delete the reset row, and delete all refresh-token rows for the user.
// If the reset row no longer matches (already consumed or overwritten), the
// transaction rolls back and ErrNotFound is returned.
func (r *PasswordResetRepository) Consume(ctx context.Context, userID ulid.ULID, token string, passwordHash string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return oops.Code("RESET_CONSUME_FAILED").
			With("operation", "begin transaction").
			Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }() //nolint:errcheck // No-op after commit

	result, err := tx.Exec(ctx, `
		DELETE FROM password_reset_tokens WHERE token = $1 AND user_id = $2
	`, token, userID.String())
	if err != nil {
		return oops.Code("RESET_CONSUME_FAILED").
			With("operation", "delete reset token").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("RESET_NOT_FOUND").
			With("user_id", userID.String()).
			Wrap(auth.ErrNotFound)
	}

	result, err = tx.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, userID.String(), passwordHash, time.Now())
	if err != nil {
		return oops.Code("RESET_CONSUME_FAILED").
			With("operation", "update password hash").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("RESET_USER_NOT_FOUND").
			With("user_id", userID.String()).
			Wrap(auth.ErrNotFound)
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE user_id = $1
	`, userID.String())
	if err != nil {
		return oops.Code("RESET_CONSUME_FAILED").
			With("operation", "delete refresh tokens").
			With("user_id", userID.String()).
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("RESET_CONSUME_FAILED").
			With("operation", "commit consume").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes rows whose expiry has passed and returns the count.
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		DELETE FROM password_reset_tokens WHERE expires_at < $1
	`, now)
	if err != nil {
		return 0, oops.Code("RESET_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired password_reset_tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// Compile-time interface check.
var _ auth.PasswordResetRepository = (*PasswordResetRepository)(nil)
