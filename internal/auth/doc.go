// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

// Package auth implements the authentication and session-lifecycle core:
// issuing, verifying, rotating, and revoking access/refresh token pairs,
// and the single-use password-reset workflow.
//
// Persisted rows are the source of truth for revocation. A refresh token is
// valid only while its exact row exists; deleting the row revokes the token
// even though the signature would still verify.
package auth
