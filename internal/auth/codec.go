// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token lifetimes.
const (
	AccessTokenTTL  = 24 * time.Hour
	RefreshTokenTTL = 7 * 24 * time.Hour
	ResetTokenTTL   = 15 * time.Minute
)

// TokenPurpose distinguishes the three token kinds. Each purpose is signed
// with its own secret and carries a purpose claim, so a leaked access secret
// cannot forge refresh tokens and a reset token cannot be replayed as either.
type TokenPurpose string

// Token purposes.
const (
	PurposeAccess  TokenPurpose = "access"
	PurposeRefresh TokenPurpose = "refresh"
	PurposeReset   TokenPurpose = "reset"
)

// Claims is the signed payload carried by every token.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string       `json:"uid"`
	Username string       `json:"username,omitempty"`
	Email    string       `json:"email,omitempty"`
	Purpose  TokenPurpose `json:"purpose"`
}

// CodecConfig holds the signing secrets for a TokenCodec.
type CodecConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	ResetSecret   []byte
}

// TokenCodec signs and verifies tokens. It is stateless and knows nothing of
// persisted revocation state; expiry is embedded in the signed payload and
// enforced here.
type TokenCodec struct {
	secrets map[TokenPurpose][]byte
	clock   func() time.Time
}

// NewTokenCodec creates a TokenCodec. All three secrets are required and must
// be pairwise distinct.
func NewTokenCodec(cfg CodecConfig) (*TokenCodec, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 || len(cfg.ResetSecret) == 0 {
		return nil, oops.Code("CODEC_MISSING_SECRET").Errorf("all signing secrets are required")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) ||
		string(cfg.AccessSecret) == string(cfg.ResetSecret) ||
		string(cfg.RefreshSecret) == string(cfg.ResetSecret) {
		return nil, oops.Code("CODEC_SHARED_SECRET").Errorf("signing secrets must be distinct per purpose")
	}

	return &TokenCodec{
		secrets: map[TokenPurpose][]byte{
			PurposeAccess:  cfg.AccessSecret,
			PurposeRefresh: cfg.RefreshSecret,
			PurposeReset:   cfg.ResetSecret,
		},
		clock: time.Now,
	}, nil
}

// IssueAccess signs an access token carrying the user's identity fields.
func (c *TokenCodec) IssueAccess(user *User) (string, error) {
	now := c.clock()
	return c.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenTTL)),
		},
		UserID:   user.ID.String(),
		Username: user.Username,
		Email:    user.Email,
		Purpose:  PurposeAccess,
	})
}

// IssueRefresh signs a refresh token. The jti claim makes every issued token
// unique even within the same second, so rotation always produces a distinct
// row value.
func (c *TokenCodec) IssueRefresh(user *User) (string, error) {
	now := c.clock()
	return c.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ID:        ulid.Make().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(RefreshTokenTTL)),
		},
		UserID:  user.ID.String(),
		Purpose: PurposeRefresh,
	})
}

// IssueReset signs a password-reset token and returns it with its expiry, so
// the caller can persist the row authority alongside.
func (c *TokenCodec) IssueReset(user *User) (string, time.Time, error) {
	now := c.clock()
	expiresAt := now.Add(ResetTokenTTL)
	token, err := c.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ID:        ulid.Make().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:  user.ID.String(),
		Purpose: PurposeReset,
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// sign builds and signs a token with the secret for the claims' purpose.
func (c *TokenCodec) sign(claims Claims) (string, error) {
	secret, ok := c.secrets[claims.Purpose]
	if !ok {
		return "", oops.Code("CODEC_UNKNOWN_PURPOSE").With("purpose", claims.Purpose).Wrap(ErrTokenMalformed)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", oops.Code("CODEC_SIGN_FAILED").With("purpose", claims.Purpose).Wrap(err)
	}
	return token, nil
}

// Verify parses and validates a token for the given purpose.
// Returns ErrTokenExpired when the signature is valid but expiry has passed
// (a token exactly at its expiry boundary is expired), and ErrTokenMalformed
// for structural or signature failures, including purpose mismatch.
func (c *TokenCodec) Verify(tokenStr string, purpose TokenPurpose) (*Claims, error) {
	secret, ok := c.secrets[purpose]
	if !ok {
		return nil, oops.Code("CODEC_UNKNOWN_PURPOSE").With("purpose", purpose).Wrap(ErrTokenMalformed)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code("CODEC_TOKEN_EXPIRED").With("purpose", purpose).Wrap(ErrTokenExpired)
		}
		return nil, oops.Code("CODEC_TOKEN_MALFORMED").With("purpose", purpose).Wrap(ErrTokenMalformed)
	}
	if !token.Valid || claims.Purpose != purpose {
		return nil, oops.Code("CODEC_PURPOSE_MISMATCH").With("purpose", purpose).Wrap(ErrTokenMalformed)
	}

	return claims, nil
}

// SubjectID parses the user ID out of verified claims.
func (cl *Claims) SubjectID() (ulid.ULID, error) {
	id, err := ulid.Parse(cl.UserID)
	if err != nil {
		return ulid.ULID{}, oops.Code("CODEC_INVALID_SUBJECT").With("uid", cl.UserID).Wrap(ErrTokenMalformed)
	}
	return id, nil
}
