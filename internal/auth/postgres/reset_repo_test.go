// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unirate/unirate/internal/auth"
	"github.com/unirate/unirate/internal/auth/postgres"
)

func testResetToken(userID ulid.ULID) *auth.PasswordResetToken {
	now := time.Now().UTC()
	return &auth.PasswordResetToken{
		UserID:    userID,
		Token:     "signed.reset.token",
		ExpiresAt: now.Add(auth.ResetTokenTTL),
		CreatedAt: now,
	}
}

func TestPasswordResetRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	mock := newMockPool(t)
	repo := postgres.NewPasswordResetRepository(mock)
	token := testResetToken(ulid.Make())

	mock.ExpectExec("INSERT INTO password_reset_tokens").
		WithArgs(token.UserID.String(), token.Token, token.ExpiresAt, token.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Upsert(ctx, token))
}

func TestPasswordResetRepository_Find(t *testing.T) {
	ctx := context.Background()

	t.Run("returns row for exact token and user", func(t *testing.T) {
		mock := newMockPool(t)
		repo := postgres.NewPasswordResetRepository(mock)
		userID := ulid.Make()
		now := time.Now().UTC()

		mock.ExpectQuery("SELECT user_id, token, expires_at, created_at").
			WithArgs("signed.reset.token", userID.String()).
			WillReturnRows(pgxmock.NewRows([]string{"user_id", "token", "expires_at", "created_at"}).
				AddRow(userID.String(), "signed.reset.token", now.Add(time.Minute), now))

		row, err := repo.Find(ctx, "signed.reset.token", userID)
		require.NoError(t, err)
		assert.Equal(t, userID, row.UserID)
	})

	t.Run("returns ErrNotFound for stale token value", func(t *testing.T) {
		mock := newMockPool(t)
		repo := postgres.NewPasswordResetRepository(mock)
		userID := ulid.Make()

		mock.ExpectQuery("SELECT user_id, token, expires_at, created_at").
			WithArgs("overwritten.token", userID.String()).
			WillReturnError(pgx.ErrNoRows)

		row, err := repo.Find(ctx, "overwritten.token", userID)
		require.Error(t, err)
		assert.Nil(t, row)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestPasswordResetRepository_Consume(t *testing.T) {
	ctx := context.Background()

	t.Run("updates password and revokes all refresh tokens in one transaction", func(t *testing.T) {
		mock := newMockPool(t)
		repo := postgres.NewPasswordResetRepository(mock)
		userID := ulid.Make()

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM password_reset_tokens WHERE token").
			WithArgs("signed.reset.token", userID.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mock.ExpectExec("UPDATE users SET password_hash").
			WithArgs(userID.String(), "newhash", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec("DELETE FROM refresh_tokens WHERE user_id").
			WithArgs(userID.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 2))
		mock.ExpectCommit()

		require.NoError(t, repo.Consume(ctx, userID, "signed.reset.token", "newhash"))
	})

	t.Run("rolls back with ErrNotFound when reset row already gone", func(t *testing.T) {
		mock := newMockPool(t)
		repo := postgres.NewPasswordResetRepository(mock)
		userID := ulid.Make()

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM password_reset_tokens WHERE token").
			WithArgs("signed.reset.token", userID.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectRollback()

		err := repo.Consume(ctx, userID, "signed.reset.token", "newhash")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestPasswordResetRepository_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	mock := newMockPool(t)
	repo := postgres.NewPasswordResetRepository(mock)
	now := time.Now().UTC()

	mock.ExpectExec("DELETE FROM password_reset_tokens WHERE expires_at").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	count, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}
