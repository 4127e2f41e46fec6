// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

package auth

import "errors"

// Sentinel errors forming the subsystem's failure taxonomy. Services wrap
// these with oops codes and context; callers match with errors.Is.
var (
	// ErrNotFound is returned by repositories when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidCredentials covers both unknown-email and wrong-password so the
	// two login failure paths are indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrTokenExpired means the signature verified but the token is past expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenMalformed means the token failed structural or signature checks.
	ErrTokenMalformed = errors.New("token malformed")

	// ErrTokenRevoked means the signature verified but no matching row exists.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrUserNotFound means the account was deleted after token issuance.
	ErrUserNotFound = errors.New("user not found")

	// ErrPasswordMismatch means the password confirmation did not match.
	ErrPasswordMismatch = errors.New("password confirmation mismatch")

	// ErrRefreshFailed means transactional rotation could not complete; the old
	// refresh token is still valid and the caller may retry.
	ErrRefreshFailed = errors.New("refresh rotation failed")

	// ErrEmailTaken and ErrUsernameTaken surface uniqueness violations from the
	// user directory.
	ErrEmailTaken    = errors.New("email already registered")
	ErrUsernameTaken = errors.New("username already taken")
)
