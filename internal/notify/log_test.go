// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unirate/unirate/internal/notify"
)

func TestLogNotifier_SendPasswordResetEmail(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	notifier := notify.NewLogNotifier(logger)

	err := notifier.SendPasswordResetEmail(context.Background(),
		"alice@example.com", "alice", "https://unirate.example/reset-password?token=abc")
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "alice@example.com", entry["email"])
	assert.Equal(t, "alice", entry["username"])
	assert.Contains(t, entry["link"], "token=abc")
}

func TestNewLogNotifier_NilLogger(t *testing.T) {
	notifier := notify.NewLogNotifier(nil)
	assert.NoError(t, notifier.SendPasswordResetEmail(context.Background(), "a@b.c", "a", "link"))
}
