// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// usernameRegex matches usernames that start with a letter and contain only
// letters, numbers, and underscores.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// User represents an account record.
type User struct {
	ID           ulid.ULID
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity is the verified identity attached to an authenticated request.
type Identity struct {
	UserID   ulid.ULID
	Username string
	Email    string
}

// NewUser creates a validated User with a fresh ID. The password hash must
// already be computed by a PasswordHasher.
func NewUser(username, email, passwordHash string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if !strings.Contains(email, "@") {
		return nil, oops.Code("AUTH_INVALID_EMAIL").Errorf("email address is not valid")
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now()
	return &User{
		ID:           ulid.Make(),
		Username:     username,
		Email:        strings.ToLower(email),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ValidateUsername validates a username against account rules.
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("AUTH_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("AUTH_INVALID_USERNAME").
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// UserDirectory manages account persistence. Implementations enforce
// uniqueness on email and username, surfacing violations as ErrEmailTaken and
// ErrUsernameTaken rather than driver-level errors.
type UserDirectory interface {
	// Create stores a new user.
	Create(ctx context.Context, user *User) error

	// FindByID retrieves a user by ID. Returns ErrNotFound if absent.
	FindByID(ctx context.Context, id ulid.ULID) (*User, error)

	// FindByEmail retrieves a user by email (case-insensitive).
	// Returns ErrNotFound if absent.
	FindByEmail(ctx context.Context, email string) (*User, error)

	// UpdateUsername changes a user's username.
	UpdateUsername(ctx context.Context, id ulid.ULID, username string) error

	// UpdatePasswordHash replaces only the password hash.
	UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error

	// Delete removes a user. Token rows cascade at the schema level.
	Delete(ctx context.Context, id ulid.ULID) error
}
