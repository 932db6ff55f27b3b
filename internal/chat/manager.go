package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/matheus3301/shopchat/internal/bus"
	"github.com/matheus3301/shopchat/internal/status"
	"github.com/matheus3301/shopchat/internal/store"
	"github.com/matheus3301/shopchat/internal/topic"
	"github.com/matheus3301/shopchat/internal/transport"
	"go.uber.org/zap"
)

// Manager opens and tracks chat sessions. There is at most one open session
// per (self, peer) pair.
type Manager struct {
	store  Store
	outbox Outbox
	dial   transport.Dialer
	bus    *bus.Bus
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager. ob may be nil to keep unsent
// payloads local only.
func NewManager(st Store, ob Outbox, dial transport.Dialer, b *bus.Bus, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    st,
		outbox:   ob,
		dial:     dial,
		bus:      b,
		opts:     opts.withDefaults(),
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Open returns the live session for (selfID, peerID), creating it if needed.
// It returns once the conversation history is loaded. If ctx ends first, a
// session created by this call is closed and ctx's error is returned.
func (m *Manager) Open(ctx context.Context, selfID, peerID string) (*Session, error) {
	if err := topic.ValidatePair(selfID, peerID); err != nil {
		return nil, err
	}
	scheme := topic.For(selfID, peerID)

	for {
		m.mu.Lock()
		s, existing := m.sessions[scheme.CacheKey]
		if !existing {
			s = newSession(scheme, m.opts, m.store, m.outbox, m.dial(), m.bus, m.logger, m.release)
			m.sessions[scheme.CacheKey] = s
			s.start()
		}
		m.mu.Unlock()

		err := s.waitLoaded(ctx)
		if err == nil {
			if !existing {
				m.logger.Info("session opened", zap.String("key", scheme.CacheKey))
			}
			return s, nil
		}
		if !existing {
			s.Close()
			return nil, err
		}
		if !errors.Is(err, ErrClosed) {
			return nil, err
		}
		// The existing session closed under us; open a fresh one.
	}
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.Key()] == s {
		delete(m.sessions, s.Key())
	}
}

// Lookup returns the live session for (selfID, peerID), if any.
func (m *Manager) Lookup(selfID, peerID string) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[topic.CacheKey(selfID, peerID)]
	m.mu.Unlock()
	if !ok || s.Snapshot().Lifecycle != status.Live {
		return nil, false
	}
	return s, true
}

// Sessions returns the open sessions ordered by cache key.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Conversations lists stored conversations.
func (m *Manager) Conversations(ctx context.Context) ([]store.Conversation, error) {
	return m.store.ListConversations(ctx)
}

// Forget closes the session for (selfID, peerID) if open, then deletes its
// stored history and queued payloads.
func (m *Manager) Forget(ctx context.Context, selfID, peerID string) error {
	if err := topic.ValidatePair(selfID, peerID); err != nil {
		return err
	}
	key := topic.CacheKey(selfID, peerID)

	m.mu.Lock()
	s, ok := m.sessions[key]
	m.mu.Unlock()
	if ok {
		s.Close()
	}

	if err := m.store.DeleteConversation(ctx, key); err != nil {
		return fmt.Errorf("forget %s: %w", key, err)
	}
	m.logger.Info("conversation forgotten", zap.String("key", key))
	m.bus.Publish(bus.Event{Kind: KindForgotten, Subject: key})
	return nil
}

// CloseAll closes every open session.
func (m *Manager) CloseAll() {
	for _, s := range m.Sessions() {
		s.Close()
	}
}
