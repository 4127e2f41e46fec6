// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

// Package client implements the consumer-side session coordinator: it holds
// the current token pair, serializes silent refresh across concurrent
// requests, and retries a failed call once after a refresh.
package client

import (
	"context"
	"net/http"
	"sync"

	"github.com/samber/oops"
	"golang.org/x/sync/singleflight"
)

// Session is the client-held authentication state.
type Session struct {
	UserID       string
	Username     string
	Email        string
	AccessToken  string
	RefreshToken string
}

// Store persists the session across restarts and, where the holder supports
// it, notifies other holders of changes. External change notifications are
// authoritative overwrites of local state.
type Store interface {
	// Load returns the stored session, or (nil, nil) when none is stored.
	Load(ctx context.Context) (*Session, error)

	// Save replaces the stored session.
	Save(ctx context.Context, session *Session) error

	// Clear removes the stored session.
	Clear(ctx context.Context) error
}

// Refresher exchanges a refresh token for a new token pair. The server-side
// rotation invalidates the presented token on success.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (access, refresh string, err error)
}

// ErrNoSession is returned when an operation needs a session and none is held.
var ErrNoSession = oops.Code("CLIENT_NO_SESSION").Errorf("no session held")

// Coordinator owns the client's session state. Safe for concurrent use.
type Coordinator struct {
	store     Store
	refresher Refresher

	mu      sync.RWMutex
	session *Session

	sf singleflight.Group
}

// NewCoordinator creates a Coordinator, loading any persisted session.
func NewCoordinator(ctx context.Context, store Store, refresher Refresher) (*Coordinator, error) {
	if store == nil {
		return nil, oops.Errorf("session store is required")
	}
	if refresher == nil {
		return nil, oops.Errorf("refresher is required")
	}
	session, err := store.Load(ctx)
	if err != nil {
		return nil, oops.Code("CLIENT_LOAD_FAILED").Wrap(err)
	}
	return &Coordinator{store: store, refresher: refresher, session: session}, nil
}

// Session returns a copy of the current session, or nil when logged out.
func (c *Coordinator) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	copied := *c.session
	return &copied
}

// SetSession installs a session (e.g. after login) and persists it.
func (c *Coordinator) SetSession(ctx context.Context, session *Session) error {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	if err := c.store.Save(ctx, session); err != nil {
		return oops.Code("CLIENT_SAVE_FAILED").Wrap(err)
	}
	return nil
}

// ApplyExternalUpdate overwrites local state with a change observed from
// another holder (another tab, another process). The external state is
// authoritative; nothing is merged. A nil session means the other holder
// logged out.
func (c *Coordinator) ApplyExternalUpdate(session *Session) {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
}

// WatchExternal consumes change notifications until the context is done or
// the channel closes, applying each as an authoritative overwrite.
func (c *Coordinator) WatchExternal(ctx context.Context, updates <-chan *Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case session, ok := <-updates:
			if !ok {
				return
			}
			c.ApplyExternalUpdate(session)
		}
	}
}

// SilentRefresh rotates the token pair. Concurrent callers share a single
// refresh call; each gets the resulting session. staleAccess is the access
// token the caller observed failing — if the held token already differs,
// another caller (or tab) has rotated and the held session is returned as-is.
// On refresh failure all session state is cleared, forcing logout.
func (c *Coordinator) SilentRefresh(ctx context.Context, staleAccess string) (*Session, error) {
	result, err, _ := c.sf.Do("refresh", func() (any, error) {
		c.mu.RLock()
		session := c.session
		c.mu.RUnlock()

		if session == nil {
			return nil, ErrNoSession
		}
		if staleAccess != "" && session.AccessToken != staleAccess {
			// Already rotated by another caller; the stored pair is fresh.
			return c.Session(), nil
		}

		access, refresh, err := c.refresher.Refresh(ctx, session.RefreshToken)
		if err != nil {
			c.clear(ctx)
			return nil, oops.Code("CLIENT_REFRESH_FAILED").Wrap(err)
		}

		next := *session
		next.AccessToken = access
		next.RefreshToken = refresh
		if saveErr := c.SetSession(ctx, &next); saveErr != nil {
			return nil, saveErr
		}
		return &next, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Session), nil
}

// Logout clears all session state.
func (c *Coordinator) Logout(ctx context.Context) {
	c.clear(ctx)
}

func (c *Coordinator) clear(ctx context.Context) {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	_ = c.store.Clear(ctx) //nolint:errcheck // Best effort; memory state is already cleared
}

// Transport is an http.RoundTripper that injects the bearer token and retries
// a request exactly once after a silent refresh when the server answers 401.
type Transport struct {
	Base        http.RoundTripper
	Coordinator *Coordinator
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	session := t.Coordinator.Session()
	access := ""
	if session != nil {
		access = session.AccessToken
	}

	resp, err := base.RoundTrip(withBearer(req, access))
	if err != nil || resp.StatusCode != http.StatusUnauthorized || access == "" {
		return resp, err
	}

	// One retry per request: the original is marked failed by reaching this
	// point; the replay below is never retried again.
	refreshed, refreshErr := t.Coordinator.SilentRefresh(req.Context(), access)
	if refreshErr != nil {
		return resp, nil
	}
	if err := resp.Body.Close(); err != nil {
		return nil, oops.Code("CLIENT_RETRY_FAILED").Wrap(err)
	}

	return base.RoundTrip(withBearer(req, refreshed.AccessToken))
}

func withBearer(req *http.Request, access string) *http.Request {
	clone := req.Clone(req.Context())
	if access != "" {
		clone.Header.Set("Authorization", "Bearer "+access)
	}
	return clone
}
