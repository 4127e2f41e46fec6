// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

package postgres_test

import (
	"context"
	"errors"
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

func TestRefreshTokenRepository_Create(t *testing.T) {
	ctx := context.Background()
	mock := newMockPool(t)
	repo := postgres.NewRefreshTokenRepository(mock)

	token := auth.NewRefreshToken(ulid.Make(), "signed.refresh.token")

	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs(token.ID.String(), token.UserID.String(), token.Token, token.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(ctx, token))
}

func TestRefreshTokenRepository_Find(t *testing.T) {
	ctx := context.Background()

	t.Run("returns row for exact token and user", func(t *testing.T) {
		mock := newMockPool(t)
		repo := postgres.NewRefreshTokenRepository(mock)
		id := ulid.Make()
		userID := ulid.Make()
		now := time.Now().UTC()

		mock.ExpectQuery("SELECT id, user_id, token, created_at").
			WithArgs("signed.refresh.token", userID.String()).
			WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "token", "created_at"}).
				AddRow(id.String(), userID.String(), "signed.refresh.token", now))

		row, err := repo.Find(ctx, "signed.refresh.token", userID)
		require.NoError(t, err)
		assert.Equal(t, id, row.ID)
		assert.Equal(t, userID, row.UserID)
	})

	t.Run("returns ErrNotFound for missing row", func(t *testing.T) {
		mock := newMockPool(t)
		repo := postgres.NewRefreshTokenRepository(mock)
		userID := ulid.Make()

		mock.ExpectQuery("SELECT id, user_id, token, created_at").
			WithArgs("gone.token", userID.String()).
			WillReturnError(pgx.ErrNoRows)

		row, err := repo.Find(ctx, "gone.token", userID)
		require.Error(t, err)
		assert.Nil(t, row)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestRefreshTokenRepository_Rotate(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes old and inserts new in one transaction", func(t *testing.T) {
		mock := newMockPool(t)
		repo := postgres.NewRefreshTokenRepository(mock)
		next := auth.NewRefreshToken(ulid.Make(), "next.token")

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM refresh_tokens WHERE token").
			WithArgs("old.token", next.UserID.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mock.ExpectExec("INSERT INTO refresh_tokens").
			WithArgs(next.ID.String(), next.UserID.String(), next.Token, next.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		require.NoError(t, repo.Rotate(ctx, "old.token", next))
	})

	t.Run("rolls back with ErrNotFound when old row already consumed", func(t *testing.T) {
		mock := newMockPool(t)
		repo := postgres.NewRefreshTokenRepository(mock)
		next := auth.NewRefreshToken(ulid.Make(), "next.token")

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM refresh_tokens WHERE token").
			WithArgs("old.token", next.UserID.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectRollback()

		err := repo.Rotate(ctx, "old.token", next)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("rolls back on insert failure without ErrNotFound", func(t *testing.T) {
		mock := newMockPool(t)
		repo := postgres.NewRefreshTokenRepository(mock)
		next := auth.NewRefreshToken(ulid.Make(), "next.token")

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM refresh_tokens WHERE token").
			WithArgs("old.token", next.UserID.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mock.ExpectExec("INSERT INTO refresh_tokens").
			WithArgs(next.ID.String(), next.UserID.String(), next.Token, next.CreatedAt).
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := repo.Rotate(ctx, "old.token", next)
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestRefreshTokenRepository_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("deleting zero rows is not an error", func(t *testing.T) {
		mock := newMockPool(t)
		repo := postgres.NewRefreshTokenRepository(mock)

		mock.ExpectExec("DELETE FROM refresh_tokens WHERE token").
			WithArgs("already.gone").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		require.NoError(t, repo.Delete(ctx, "already.gone"))
	})
}

func TestRefreshTokenRepository_DeleteCreatedBefore(t *testing.T) {
	ctx := context.Background()
	mock := newMockPool(t)
	repo := postgres.NewRefreshTokenRepository(mock)
	cutoff := time.Now().Add(-auth.RefreshTokenTTL)

	mock.ExpectExec("DELETE FROM refresh_tokens WHERE created_at").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	count, err := repo.DeleteCreatedBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
