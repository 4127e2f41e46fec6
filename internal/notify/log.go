// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

// Package notify delivers user-facing notifications.
package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes notifications to the log instead of sending them.
// Used in development and as a fallback when no mail transport is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// SendPasswordResetEmail logs the reset link instead of emailing it.
func (n *LogNotifier) SendPasswordResetEmail(ctx context.Context, email, username, link string) error {
	n.logger.InfoContext(ctx, "password reset email",
		"email", email,
		"username", username,
		"link", link,
	)
	return nil
}
