// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

package auth_test

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/unirate/unirate/internal/auth"
	"github.com/unirate/unirate/internal/auth/mocks"
)

type resetFixture struct {
	users    *mocks.MockUserDirectory
	resets   *mocks.MockPasswordResetRepository
	hasher   *mocks.MockPasswordHasher
	notifier *mocks.MockNotifier
	codec    *auth.TokenCodec
	svc      *auth.PasswordResetService
}

func newResetFixture(t *testing.T) *resetFixture {
	t.Helper()
	f := &resetFixture{
		users:    mocks.NewMockUserDirectory(t),
		resets:   mocks.NewMockPasswordResetRepository(t),
		hasher:   mocks.NewMockPasswordHasher(t),
		notifier: mocks.NewMockNotifier(t),
		codec:    newTestCodec(t),
	}
	svc, err := auth.NewPasswordResetService(
		f.users, f.resets, f.codec, f.hasher, f.notifier,
		"https://unirate.example/reset-password", slog.Default(),
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

// issueResetRow issues a real reset token for user and returns it together
// with the row a repository would hold for it.
func (f *resetFixture) issueResetRow(t *testing.T, user *auth.User) (string, *auth.PasswordResetToken) {
	t.Helper()
	token, expiresAt, err := f.codec.IssueReset(user)
	require.NoError(t, err)
	return token, &auth.PasswordResetToken{
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
}

func TestNewPasswordResetService_NilDependencies(t *testing.T) {
	codec := newTestCodec(t)

	_, err := auth.NewPasswordResetService(nil, mocks.NewMockPasswordResetRepository(t), codec,
		mocks.NewMockPasswordHasher(t), mocks.NewMockNotifier(t), "https://example.com", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user directory is required")

	_, err = auth.NewPasswordResetService(mocks.NewMockUserDirectory(t), nil, codec,
		mocks.NewMockPasswordHasher(t), mocks.NewMockNotifier(t), "https://example.com", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password reset repository is required")

	_, err = auth.NewPasswordResetService(mocks.NewMockUserDirectory(t), mocks.NewMockPasswordResetRepository(t), codec,
		mocks.NewMockPasswordHasher(t), mocks.NewMockNotifier(t), "https://example.com", nil)
	require.NoError(t, err)
}

func TestPasswordResetService_RequestReset(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the row and delivers the link", func(t *testing.T) {
		f := newResetFixture(t)
		user := newTestUser(t)

		var stored *auth.PasswordResetToken
		f.users.On("FindByEmail", ctx, "alice@example.com").Return(user, nil)
		f.resets.On("Upsert", ctx, mock.AnythingOfType("*auth.PasswordResetToken")).
			Run(func(args mock.Arguments) {
				stored = args.Get(1).(*auth.PasswordResetToken)
			}).
			Return(nil)
		f.notifier.On("SendPasswordResetEmail", ctx, user.Email, user.Username, mock.AnythingOfType("string")).
			Return(nil)

		require.NoError(t, f.svc.RequestReset(ctx, "alice@example.com"))

		require.NotNil(t, stored)
		assert.Equal(t, user.ID, stored.UserID)
		assert.NotEmpty(t, stored.Token)
		assert.True(t, stored.ExpiresAt.After(time.Now()))

		// The stored token must verify as a reset, not an access token.
		_, err := f.codec.Verify(stored.Token, auth.PurposeReset)
		assert.NoError(t, err)
		_, err = f.codec.Verify(stored.Token, auth.PurposeAccess)
		assert.Error(t, err)
	})

	t.Run("unknown email returns nil after a decoy delay", func(t *testing.T) {
		f := newResetFixture(t)

		f.users.On("FindByEmail", ctx, "nobody@example.com").Return(nil, auth.ErrNotFound)

		start := time.Now()
		err := f.svc.RequestReset(ctx, "nobody@example.com")
		elapsed := time.Since(start)

		require.NoError(t, err)
		assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	})

	t.Run("delivery failure does not fail the request", func(t *testing.T) {
		f := newResetFixture(t)
		user := newTestUser(t)

		f.users.On("FindByEmail", ctx, "alice@example.com").Return(user, nil)
		f.resets.On("Upsert", ctx, mock.AnythingOfType("*auth.PasswordResetToken")).Return(nil)
		f.notifier.On("SendPasswordResetEmail", ctx, user.Email, user.Username, mock.AnythingOfType("string")).
			Return(errors.New("smtp unreachable"))

		assert.NoError(t, f.svc.RequestReset(ctx, "alice@example.com"))
	})

	t.Run("storage failure surfaces", func(t *testing.T) {
		f := newResetFixture(t)
		user := newTestUser(t)

		f.users.On("FindByEmail", ctx, "alice@example.com").Return(user, nil)
		f.resets.On("Upsert", ctx, mock.AnythingOfType("*auth.PasswordResetToken")).
			Return(errors.New("connection reset"))

		assert.Error(t, f.svc.RequestReset(ctx, "alice@example.com"))
	})
}

func TestPasswordResetService_ValidateToken(t *testing.T) {
	ctx := context.Background()

	t.Run("valid token with a live row", func(t *testing.T) {
		f := newResetFixture(t)
		user := newTestUser(t)
		token, row := f.issueResetRow(t, user)

		f.resets.On("Find", ctx, token, user.ID).Return(row, nil)

		userID, err := f.svc.ValidateToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, user.ID, userID)
	})

	t.Run("valid signature with no row is rejected", func(t *testing.T) {
		f := newResetFixture(t)
		user := newTestUser(t)
		token, _ := f.issueResetRow(t, user)

		f.resets.On("Find", ctx, token, user.ID).Return(nil, auth.ErrNotFound)

		_, err := f.svc.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, auth.ErrTokenMalformed)
	})

	t.Run("row past its expiry is rejected", func(t *testing.T) {
		f := newResetFixture(t)
		user := newTestUser(t)
		token, row := f.issueResetRow(t, user)
		row.ExpiresAt = time.Now().Add(-time.Minute)

		f.resets.On("Find", ctx, token, user.ID).Return(row, nil)

		_, err := f.svc.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, auth.ErrTokenExpired)
	})

	t.Run("access token is never a valid reset token", func(t *testing.T) {
		f := newResetFixture(t)
		user := newTestUser(t)

		access, err := f.codec.IssueAccess(user)
		require.NoError(t, err)

		_, err = f.svc.ValidateToken(ctx, access)
		assert.ErrorIs(t, err, auth.ErrTokenMalformed)
	})
}

func TestPasswordResetService_Consume(t *testing.T) {
	ctx := context.Background()

	t.Run("updates the hash and burns the token", func(t *testing.T) {
		f := newResetFixture(t)
		user := newTestUser(t)
		token, row := f.issueResetRow(t, user)

		f.resets.On("Find", ctx, token, user.ID).Return(row, nil)
		f.hasher.On("Hash", "new-password").Return("new-hash", nil)
		f.resets.On("Consume", ctx, user.ID, token, "new-hash").Return(nil)

		require.NoError(t, f.svc.Consume(ctx, token, "new-password", "new-password"))
	})

	t.Run("password mismatch is checked before anything else", func(t *testing.T) {
		f := newResetFixture(t)

		err := f.svc.Consume(ctx, "irrelevant", "new-password", "different")
		assert.ErrorIs(t, err, auth.ErrPasswordMismatch)
	})

	t.Run("raced consumption reports the token as invalid", func(t *testing.T) {
		f := newResetFixture(t)
		user := newTestUser(t)
		token, row := f.issueResetRow(t, user)

		f.resets.On("Find", ctx, token, user.ID).Return(row, nil)
		f.hasher.On("Hash", "new-password").Return("new-hash", nil)
		f.resets.On("Consume", ctx, user.ID, token, "new-hash").Return(auth.ErrNotFound)

		err := f.svc.Consume(ctx, token, "new-password", "new-password")
		assert.ErrorIs(t, err, auth.ErrTokenMalformed)
	})

	t.Run("expired token cannot be consumed", func(t *testing.T) {
		f := newResetFixture(t)
		user := newTestUser(t)
		token, row := f.issueResetRow(t, user)
		row.ExpiresAt = time.Now().Add(-time.Minute)

		f.resets.On("Find", ctx, token, user.ID).Return(row, nil)

		err := f.svc.Consume(ctx, token, "new-password", "new-password")
		assert.ErrorIs(t, err, auth.ErrTokenExpired)
	})
}

// memResetRepository is a stateful stand-in holding one reset row per user,
// matching the overwrite semantics of the SQL upsert.
type memResetRepository struct {
	rows map[ulid.ULID]*auth.PasswordResetToken
}

func newMemResetRepository() *memResetRepository {
	return &memResetRepository{rows: map[ulid.ULID]*auth.PasswordResetToken{}}
}

func (r *memResetRepository) Upsert(_ context.Context, token *auth.PasswordResetToken) error {
	copied := *token
	r.rows[token.UserID] = &copied
	return nil
}

func (r *memResetRepository) Find(_ context.Context, token string, userID ulid.ULID) (*auth.PasswordResetToken, error) {
	row, ok := r.rows[userID]
	if !ok || row.Token != token {
		return nil, auth.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (r *memResetRepository) Consume(_ context.Context, userID ulid.ULID, token string, _ string) error {
	row, ok := r.rows[userID]
	if !ok || row.Token != token {
		return auth.ErrNotFound
	}
	delete(r.rows, userID)
	return nil
}

func (r *memResetRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var deleted int64
	for userID, row := range r.rows {
		if row.IsExpiredAt(now) {
			delete(r.rows, userID)
			deleted++
		}
	}
	return deleted, nil
}

func TestPasswordResetService_SecondRequestInvalidatesFirstToken(t *testing.T) {
	ctx := context.Background()
	users := mocks.NewMockUserDirectory(t)
	hasher := mocks.NewMockPasswordHasher(t)
	notifier := mocks.NewMockNotifier(t)
	repo := newMemResetRepository()
	codec := newTestCodec(t)

	svc, err := auth.NewPasswordResetService(users, repo, codec, hasher, notifier,
		"https://unirate.example/reset-password", slog.Default())
	require.NoError(t, err)

	user := newTestUser(t)
	users.On("FindByEmail", ctx, "alice@example.com").Return(user, nil)

	var tokens []string
	notifier.On("SendPasswordResetEmail", ctx, user.Email, user.Username, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) {
			link, parseErr := url.Parse(args.String(3))
			require.NoError(t, parseErr)
			tokens = append(tokens, link.Query().Get("token"))
		}).
		Return(nil)

	require.NoError(t, svc.RequestReset(ctx, "alice@example.com"))
	require.NoError(t, svc.RequestReset(ctx, "alice@example.com"))
	require.Len(t, tokens, 2)
	first, second := tokens[0], tokens[1]
	require.NotEqual(t, first, second)

	// The superseded token still carries a valid signature but its row is
	// gone, so validation rejects it.
	_, err = codec.Verify(first, auth.PurposeReset)
	require.NoError(t, err)
	_, err = svc.ValidateToken(ctx, first)
	assert.ErrorIs(t, err, auth.ErrTokenMalformed)

	// The latest token validates and completes the reset.
	userID, err := svc.ValidateToken(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)

	hasher.On("Hash", "brand-new-password").Return("new-hash", nil)
	require.NoError(t, svc.Consume(ctx, second, "brand-new-password", "brand-new-password"))

	_, err = svc.ValidateToken(ctx, second)
	assert.ErrorIs(t, err, auth.ErrTokenMalformed)
}
