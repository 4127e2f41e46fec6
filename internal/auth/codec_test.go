// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCodec(t *testing.T) *TokenCodec {
	t.Helper()
	codec, err := NewTokenCodec(CodecConfig{
		AccessSecret:  []byte("access-secret-for-tests"),
		RefreshSecret: []byte("refresh-secret-for-tests"),
		ResetSecret:   []byte("reset-secret-for-tests"),
	})
	require.NoError(t, err)
	return codec
}

func codecUser(t *testing.T) *User {
	t.Helper()
	user, err := NewUser("alice", "alice@example.com", "hash")
	require.NoError(t, err)
	return user
}

func TestNewTokenCodec_SecretValidation(t *testing.T) {
	t.Run("rejects missing secrets", func(t *testing.T) {
		_, err := NewTokenCodec(CodecConfig{
			AccessSecret:  []byte("a"),
			RefreshSecret: nil,
			ResetSecret:   []byte("c"),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "required")
	})

	t.Run("rejects shared secrets", func(t *testing.T) {
		_, err := NewTokenCodec(CodecConfig{
			AccessSecret:  []byte("same"),
			RefreshSecret: []byte("same"),
			ResetSecret:   []byte("other"),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "distinct")
	})
}

func TestTokenCodec_RoundTrip(t *testing.T) {
	codec := testCodec(t)
	user := codecUser(t)

	t.Run("access token carries identity claims", func(t *testing.T) {
		token, err := codec.IssueAccess(user)
		require.NoError(t, err)

		claims, err := codec.Verify(token, PurposeAccess)
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), claims.UserID)
		assert.Equal(t, user.Username, claims.Username)
		assert.Equal(t, user.Email, claims.Email)
		assert.Equal(t, PurposeAccess, claims.Purpose)

		id, err := claims.SubjectID()
		require.NoError(t, err)
		assert.Equal(t, user.ID, id)
	})

	t.Run("refresh tokens are unique per issue", func(t *testing.T) {
		first, err := codec.IssueRefresh(user)
		require.NoError(t, err)
		second, err := codec.IssueRefresh(user)
		require.NoError(t, err)
		assert.NotEqual(t, first, second)

		claims, err := codec.Verify(first, PurposeRefresh)
		require.NoError(t, err)
		assert.Equal(t, PurposeRefresh, claims.Purpose)
	})

	t.Run("reset token expiry matches returned value", func(t *testing.T) {
		fixed := time.Now().Truncate(time.Second)
		codec.clock = func() time.Time { return fixed }

		token, expiresAt, err := codec.IssueReset(user)
		require.NoError(t, err)
		assert.Equal(t, fixed.Add(ResetTokenTTL), expiresAt)

		claims, err := codec.Verify(token, PurposeReset)
		require.NoError(t, err)
		assert.Equal(t, expiresAt.Unix(), claims.ExpiresAt.Unix())
	})
}

func TestTokenCodec_PurposeIsolation(t *testing.T) {
	codec := testCodec(t)
	user := codecUser(t)

	access, err := codec.IssueAccess(user)
	require.NoError(t, err)
	refresh, err := codec.IssueRefresh(user)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		purpose TokenPurpose
	}{
		{"access token rejected as refresh", access, PurposeRefresh},
		{"access token rejected as reset", access, PurposeReset},
		{"refresh token rejected as access", refresh, PurposeAccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := codec.Verify(tt.token, tt.purpose)
			require.Error(t, err)
			assert.Nil(t, claims)
			assert.ErrorIs(t, err, ErrTokenMalformed)
		})
	}
}

func TestTokenCodec_Expiry(t *testing.T) {
	user := codecUser(t)
	issued := time.Now().Truncate(time.Second)

	t.Run("valid until the boundary", func(t *testing.T) {
		codec := testCodec(t)
		codec.clock = func() time.Time { return issued }
		token, err := codec.IssueAccess(user)
		require.NoError(t, err)

		codec.clock = func() time.Time { return issued.Add(AccessTokenTTL - time.Second) }
		_, err = codec.Verify(token, PurposeAccess)
		require.NoError(t, err)
	})

	t.Run("expired exactly at the boundary", func(t *testing.T) {
		codec := testCodec(t)
		codec.clock = func() time.Time { return issued }
		token, err := codec.IssueAccess(user)
		require.NoError(t, err)

		codec.clock = func() time.Time { return issued.Add(AccessTokenTTL) }
		claims, err := codec.Verify(token, PurposeAccess)
		require.Error(t, err)
		assert.Nil(t, claims)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("expired after the boundary", func(t *testing.T) {
		codec := testCodec(t)
		codec.clock = func() time.Time { return issued }
		token, err := codec.IssueAccess(user)
		require.NoError(t, err)

		codec.clock = func() time.Time { return issued.Add(AccessTokenTTL + time.Hour) }
		_, err = codec.Verify(token, PurposeAccess)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})
}

func TestTokenCodec_Malformed(t *testing.T) {
	codec := testCodec(t)
	user := codecUser(t)

	t.Run("garbage input", func(t *testing.T) {
		_, err := codec.Verify("not.a.token", PurposeAccess)
		assert.ErrorIs(t, err, ErrTokenMalformed)
	})

	t.Run("tampered signature", func(t *testing.T) {
		token, err := codec.IssueAccess(user)
		require.NoError(t, err)

		_, err = codec.Verify(token+"x", PurposeAccess)
		assert.ErrorIs(t, err, ErrTokenMalformed)
	})

	t.Run("token signed with a different secret", func(t *testing.T) {
		other, err := NewTokenCodec(CodecConfig{
			AccessSecret:  []byte("other-access"),
			RefreshSecret: []byte("other-refresh"),
			ResetSecret:   []byte("other-reset"),
		})
		require.NoError(t, err)

		token, err := other.IssueAccess(user)
		require.NoError(t, err)

		_, err = codec.Verify(token, PurposeAccess)
		assert.ErrorIs(t, err, ErrTokenMalformed)
	})
}

func TestClaims_SubjectID_Invalid(t *testing.T) {
	claims := &Claims{UserID: "not-a-ulid"}
	_, err := claims.SubjectID()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenMalformed)
}
