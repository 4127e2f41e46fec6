// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

package client

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store with change notification, the local
// analog of browser storage plus its change events. Every Save and Clear is
// broadcast to subscribers, so several Coordinators sharing one MemoryStore
// behave like tabs sharing browser storage.
type MemoryStore struct {
	mu      sync.Mutex
	session *Session
	subs    []*subscription
}

// subscription pairs an update channel with a done channel. Broadcasts select
// on both, so a subscriber cancelling mid-broadcast unblocks the sender
// instead of racing a channel close.
type subscription struct {
	ch   chan *Session
	done chan struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored session, or nil when none is stored.
func (s *MemoryStore) Load(context.Context) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, nil
	}
	copied := *s.session
	return &copied, nil
}

// Save replaces the stored session and notifies subscribers.
func (s *MemoryStore) Save(_ context.Context, session *Session) error {
	s.mu.Lock()
	copied := *session
	s.session = &copied
	subs := append([]*subscription(nil), s.subs...)
	s.mu.Unlock()

	for _, sub := range subs {
		notified := *session
		select {
		case sub.ch <- &notified:
		case <-sub.done:
		}
	}
	return nil
}

// Clear removes the stored session and notifies subscribers.
func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.session = nil
	subs := append([]*subscription(nil), s.subs...)
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- nil:
		case <-sub.done:
		}
	}
	return nil
}

// Subscribe returns a channel receiving every subsequent change. The caller
// must drain it; cancel removes the subscription and releases any broadcast
// blocked on the channel. The channel stays open so a cancel can never panic
// a concurrent broadcast; stop reading after cancel returns.
func (s *MemoryStore) Subscribe() (updates <-chan *Session, cancel func()) {
	sub := &subscription{
		ch:   make(chan *Session, 8),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			s.mu.Lock()
			for i, existing := range s.subs {
				if existing == sub {
					s.subs = append(s.subs[:i], s.subs[i+1:]...)
					break
				}
			}
			s.mu.Unlock()
			close(sub.done)
		})
	}
}
