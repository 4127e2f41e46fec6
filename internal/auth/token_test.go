// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"

	"github.com/unirate/unirate/internal/auth"
)

func TestPasswordResetToken_IsExpiredAt(t *testing.T) {
	expiresAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token := &auth.PasswordResetToken{
		UserID:    ulid.Make(),
		Token:     "tok",
		ExpiresAt: expiresAt,
	}

	assert.False(t, token.IsExpiredAt(expiresAt.Add(-time.Second)))
	// A token is unusable the instant its expiry is reached.
	assert.True(t, token.IsExpiredAt(expiresAt))
	assert.True(t, token.IsExpiredAt(expiresAt.Add(time.Second)))
}
