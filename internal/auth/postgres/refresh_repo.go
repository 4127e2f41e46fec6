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

// RefreshTokenRepository implements auth.RefreshTokenRepository using PostgreSQL.
type RefreshTokenRepository struct {
	db DB
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository.
func NewRefreshTokenRepository(db DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create stores a new refresh-token row.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *auth.RefreshToken) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token, created_at)
		VALUES ($1, $2, $3, $4)
	`,
		token.ID.String(),
		token.UserID.String(),
		token.Token,
		token.CreatedAt,
	)
	if err != nil {
		return oops.Code("REFRESH_CREATE_FAILED").
			With("operation", "insert refresh_token").
			With("user_id", token.UserID.String()).
			Wrap(err)
	}
	return nil
}

// Find retrieves the row matching the exact token string and user ID.
func (r *RefreshTokenRepository) Find(ctx context.Context, token string, userID ulid.ULID) (*auth.RefreshToken, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, token, created_at
		FROM refresh_tokens
		WHERE token = $1 AND user_id = $2
	`, token, userID.String())

	rt, err := scanRefreshToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("REFRESH_NOT_FOUND").
			With("user_id", userID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("REFRESH_FIND_FAILED").
			With("operation", "find refresh token").
			Wrap(err)
	}
	return rt, nil
}

// Rotate deletes the old row and inserts the replacement within a single
// transaction. The delete is scoped to the exact token string and user ID; if
// it matches zero rows another rotation already consumed the token, the
// transaction rolls back, and ErrNotFound is returned.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldToken string, next *auth.RefreshToken) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return oops.Code("REFRESH_ROTATE_FAILED").
			With("operation", "begin transaction").
			Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }() //nolint:errcheck // No-op after commit

	result, err := tx.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE token = $1 AND user_id = $2
	`, oldToken, next.UserID.String())
	if err != nil {
		return oops.Code("REFRESH_ROTATE_FAILED").
			With("operation", "delete old refresh token").
			With("user_id", next.UserID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("REFRESH_NOT_FOUND").
			With("user_id", next.UserID.String()).
			Wrap(auth.ErrNotFound)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token, created_at)
		VALUES ($1, $2, $3, $4)
	`,
		next.ID.String(),
		next.UserID.String(),
		next.Token,
		next.CreatedAt,
	)
	if err != nil {
		return oops.Code("REFRESH_ROTATE_FAILED").
			With("operation", "insert new refresh token").
			With("user_id", next.UserID.String()).
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("REFRESH_ROTATE_FAILED").
			With("operation", "commit rotation").
			With("user_id", next.UserID.String()).
			Wrap(err)
	}
	return nil
}

// Delete removes the row for the given token string. Deleting zero rows is a
// valid state; logout is idempotent.
func (r *RefreshTokenRepository) Delete(ctx context.Context, token string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE token = $1
	`, token)
	if err != nil {
		return oops.Code("REFRESH_DELETE_FAILED").
			With("operation", "delete refresh_token").
			Wrap(err)
	}
	return nil
}

// DeleteByUser removes every refresh-token row for a user.
func (r *RefreshTokenRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE user_id = $1
	`, userID.String())
	if err != nil {
		return oops.Code("REFRESH_DELETE_BY_USER_FAILED").
			With("operation", "delete refresh_tokens by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteCreatedBefore removes rows created before the cutoff and returns the count.
func (r *RefreshTokenRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, oops.Code("REFRESH_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired refresh_tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

func scanRefreshToken(row pgx.Row) (*auth.RefreshToken, error) {
	var (
		idStr     string
		userIDStr string
		token     string
		createdAt time.Time
	)

	err := row.Scan(&idStr, &userIDStr, &token, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("REFRESH_SCAN_FAILED").
			With("operation", "scan refresh_token").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("REFRESH_INVALID_ID").With("id", idStr).Wrap(err)
	}
	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("REFRESH_INVALID_USER_ID").With("user_id", userIDStr).Wrap(err)
	}

	return &auth.RefreshToken{
		ID:        id,
		UserID:    userID,
		Token:     token,
		CreatedAt: createdAt,
	}, nil
}

// Compile-time interface check.
var _ auth.RefreshTokenRepository = (*RefreshTokenRepository)(nil)
