package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/matheus3301/shopchat/internal/bus"
	"github.com/matheus3301/shopchat/internal/presence"
	"github.com/matheus3301/shopchat/internal/status"
	"github.com/matheus3301/shopchat/internal/store"
	"github.com/matheus3301/shopchat/internal/topic"
	"github.com/matheus3301/shopchat/internal/transport"
	"github.com/matheus3301/shopchat/internal/typing"
	"github.com/matheus3301/shopchat/internal/wire"
	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

const eventBuffer = 64

// Session is one open conversation. All conversation state is owned by a
// single goroutine; transport events, timer expiries, the initial store read
// and API calls are delivered to it and processed one at a time.
type Session struct {
	scheme  topic.Scheme
	opts    Options
	store   Store
	outbox  Outbox
	tr      transport.Transport
	bus     *bus.Bus
	logger  *zap.Logger
	onClose func(*Session)

	machine  *status.Machine
	presence *presence.Tracker
	typing   *typing.Coordinator

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan func()
	events chan any
	loaded chan struct{}
	done   chan struct{}

	// Owned by the loop goroutine.
	messages   []Message
	ids        map[string]struct{}
	conn       ConnectionState
	readOnly   bool
	localOnly  bool
	loadedOnce sync.Once
	changed    change

	mu   sync.RWMutex
	snap Snapshot
}

func newSession(scheme topic.Scheme, opts Options, st Store, ob Outbox, tr transport.Transport, b *bus.Bus, logger *zap.Logger, onClose func(*Session)) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		scheme:  scheme,
		opts:    opts,
		store:   st,
		outbox:  ob,
		tr:      tr,
		bus:     b,
		logger:  logger.With(zap.String("key", scheme.CacheKey)),
		onClose: onClose,
		machine: status.NewMachine(b, scheme.CacheKey),
		ctx:     ctx,
		cancel:  cancel,
		cmds:    make(chan func()),
		events:  make(chan any, eventBuffer),
		loaded:  make(chan struct{}),
		done:    make(chan struct{}),
		ids:     make(map[string]struct{}),
		conn:    Disconnected,
	}
	s.typing = typing.New(opts.Clock, opts.TypingWindow, opts.TypingThrottle, func(gen uint64) {
		s.post(typingExpired{gen: gen})
	})
	s.presence = presence.NewTracker(scheme, opts.QoS, func() {
		if s.typing.Clear() {
			s.changed |= changeTyping
		}
	})
	s.snap = Snapshot{
		Key:        scheme.CacheKey,
		SelfID:     scheme.SelfID,
		PeerID:     scheme.PeerID,
		Connection: Disconnected,
		Lifecycle:  status.Idle,
	}
	tr.RegisterEventHandler(s.post)
	return s
}

// start moves the session to Loading and begins the store read.
func (s *Session) start() {
	if err := s.machine.Transition(status.Loading); err != nil {
		s.logger.Error("cannot start session", zap.Error(err))
		return
	}
	s.setSnapshotLifecycle()
	go s.run()
	go s.load()
}

func (s *Session) load() {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.StoreTimeout)
	defer cancel()
	msgs, err := s.store.LoadMessages(ctx, s.scheme.CacheKey)
	s.post(historyLoaded{msgs: fromStore(msgs), err: err})
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case evt := <-s.events:
			s.handle(evt)
		}
		s.commit()
		state := s.machine.Current()
		if state != status.Loading {
			s.markLoaded()
		}
		if state == status.Closed {
			return
		}
	}
}

// post hands an event to the loop. It gives up once the session is closed.
func (s *Session) post(evt any) {
	select {
	case s.events <- evt:
	case <-s.done:
	}
}

// do runs fn on the loop goroutine and waits for it to finish.
func (s *Session) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case s.cmds <- func() { defer close(finished); fn() }:
	case <-s.done:
		return ErrClosed
	}
	<-finished
	return nil
}

func (s *Session) handle(raw any) {
	switch evt := raw.(type) {
	case historyLoaded:
		s.onHistory(evt)
	case typingExpired:
		if s.typing.Expire(evt.gen) {
			s.changed |= changeTyping
		}
	case *transport.Connected:
		s.onConnected()
	case *transport.ConnectionFailed:
		if errors.Is(evt.Err, transport.ErrLocalOnly) {
			s.logger.Info("no broker, conversation stays local")
			s.localOnly = true
		} else {
			s.logger.Warn("connection failed", zap.Error(evt.Err))
		}
		s.setConn(Disconnected)
	case *transport.Disconnected:
		s.logger.Warn("connection lost", zap.Error(evt.Err))
		s.setConn(Disconnected)
		if s.presence.Lost() {
			s.changed |= changePresence
		}
	case *transport.Message:
		s.onMessage(evt)
	}
}

func (s *Session) onHistory(h historyLoaded) {
	if s.machine.Current() != status.Loading {
		return
	}
	if h.err != nil {
		s.logger.Warn("failed to load history, starting empty", zap.Error(h.err))
		h.msgs = nil
		// Keep a record written by a newer version intact.
		s.readOnly = errors.Is(h.err, store.ErrUnsupportedVersion)
	}
	for _, m := range h.msgs {
		if m.ID == "" {
			m.ID = s.opts.NewID()
		}
		m.ID = s.uniqueID(m.ID)
		s.messages = append(s.messages, m)
	}
	s.changed |= changeMessages

	if err := s.machine.Transition(status.Live); err != nil {
		s.logger.Error("cannot go live", zap.Error(err))
		return
	}
	s.connect()
}

func (s *Session) connect() {
	s.setConn(Connecting)
	opts := transport.ConnectOptions{
		ClientID: fmt.Sprintf("%s-%s-%s", s.opts.ClientIDPrefix, s.scheme.SelfID, uuid.NewString()[:8]),
		Will:     s.presence.LastWill(),
	}
	if err := s.tr.Connect(opts); err != nil {
		s.logger.Warn("connect rejected", zap.Error(err))
		s.setConn(Disconnected)
	}
}

func (s *Session) onConnected() {
	if s.machine.Current() != status.Live {
		return
	}
	s.setConn(Connected)
	for _, t := range []string{s.scheme.Subscribe, s.scheme.PeerStatus} {
		if err := s.tr.Subscribe(t); err != nil {
			s.logger.Warn("subscribe failed", zap.String("topic", t), zap.Error(err))
		}
	}
	if err := s.presence.Announce(s.tr); err != nil {
		s.logger.Warn("failed to announce presence", zap.Error(err))
	}
	if s.outbox != nil {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.StoreTimeout)
		defer cancel()
		if _, err := s.outbox.Flush(ctx, s.scheme.CacheKey, s.tr); err != nil {
			s.logger.Warn("failed to flush outbox", zap.Error(err))
		}
	}
}

func (s *Session) onMessage(m *transport.Message) {
	if m.Topic == s.scheme.Subscribe {
		s.ingest(m.Payload)
		return
	}
	if handled, changed := s.presence.Observe(m.Topic, m.Payload); handled {
		if changed {
			s.changed |= changePresence
		}
		return
	}
	s.logger.Debug("payload on unexpected topic", zap.String("topic", m.Topic))
}

func (s *Session) ingest(raw []byte) {
	p, err := wire.Decode(raw)
	if err != nil {
		s.logger.Debug("dropping malformed payload", zap.Error(err))
		return
	}
	if p.IsControl() {
		if s.typing.Received() {
			s.changed |= changeTyping
		}
		return
	}
	msg := messageFromPayload(p)
	msg.SenderID = s.scheme.PeerID
	msg.Status = StatusDelivered
	s.appendMessage(msg)
}

func (s *Session) send(p wire.Payload) *Message {
	msg := messageFromPayload(p)
	msg.SenderID = s.scheme.SelfID
	msg.Status = StatusSent
	if s.presence.PeerOnline() {
		msg.Status = StatusDelivered
	}
	msg = s.appendMessage(msg)

	raw, err := p.Encode()
	if err != nil {
		s.logger.Error("failed to encode payload", zap.Error(err))
		return &msg
	}
	s.deliver(msg.ID, raw)
	return &msg
}

// deliver publishes raw, the payload of message id, on the publish topic,
// or queues it while the transport is not connected. Nothing is queued on a
// local-only transport.
func (s *Session) deliver(id string, raw []byte) {
	if s.conn == Connected {
		err := s.tr.Publish(s.scheme.Publish, raw, transport.PublishOptions{QoS: s.opts.QoS})
		if err == nil {
			return
		}
		if !errors.Is(err, transport.ErrNotConnected) {
			s.logger.Warn("publish failed", zap.Error(err))
			return
		}
	}
	if s.outbox == nil || s.localOnly {
		s.logger.Debug("not connected, payload kept local only")
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.StoreTimeout)
	defer cancel()
	if _, err := s.outbox.Queue(ctx, s.scheme.CacheKey, id, s.scheme.Publish, raw); err != nil {
		s.logger.Warn("failed to queue payload", zap.Error(err))
	}
}

func (s *Session) appendMessage(msg Message) Message {
	msg.ID = s.uniqueID(s.opts.NewID())
	msg.CreatedAt = s.opts.Clock.Now()
	s.messages = append(s.messages, msg)
	s.changed |= changeMessages
	s.persist()
	return msg
}

func (s *Session) uniqueID(id string) string {
	candidate := id
	for n := 1; ; n++ {
		if _, taken := s.ids[candidate]; !taken {
			break
		}
		candidate = fmt.Sprintf("%s-%d", id, n)
	}
	s.ids[candidate] = struct{}{}
	return candidate
}

func (s *Session) persist() {
	if s.readOnly {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.StoreTimeout)
	defer cancel()
	if err := s.store.SaveMessages(ctx, s.scheme.CacheKey, toStore(s.messages)); err != nil {
		s.logger.Warn("failed to persist conversation", zap.Error(err))
	}
}

func (s *Session) setConn(c ConnectionState) {
	if s.conn != c {
		s.conn = c
		s.changed |= changeConnection
	}
}

func (s *Session) markLoaded() {
	s.loadedOnce.Do(func() { close(s.loaded) })
}

func (s *Session) shutdown() {
	if s.conn == Connected {
		if err := s.presence.Withdraw(s.tr); err != nil {
			s.logger.Warn("failed to withdraw presence", zap.Error(err))
		}
	}
	s.tr.Disconnect()
	s.typing.Stop()
	s.cancel()
	s.setConn(Disconnected)
	if err := s.machine.Transition(status.Closed); err != nil {
		s.logger.Error("cannot close session", zap.Error(err))
	}
	if s.onClose != nil {
		s.onClose(s)
	}
	s.logger.Info("session closed")
}

// commit publishes the state changed by the last step.
func (s *Session) commit() {
	changed := s.changed
	s.changed = 0

	s.mu.Lock()
	if changed&changeMessages != 0 {
		s.snap.Messages = slices.Clone(s.messages)
	}
	s.snap.PeerOnline = s.presence.PeerOnline()
	s.snap.PeerTyping = s.typing.Typing()
	s.snap.Connection = s.conn
	s.snap.Lifecycle = s.machine.Current()
	s.mu.Unlock()

	key := s.scheme.CacheKey
	if changed&changeMessages != 0 {
		s.bus.Publish(bus.Event{Kind: KindMessagesChanged, Subject: key, Payload: len(s.messages)})
	}
	if changed&changePresence != 0 {
		s.bus.Publish(bus.Event{Kind: KindPresenceChanged, Subject: key, Payload: s.presence.PeerOnline()})
	}
	if changed&changeTyping != 0 {
		s.bus.Publish(bus.Event{Kind: KindTypingChanged, Subject: key, Payload: s.typing.Typing()})
	}
	if changed&changeConnection != 0 {
		s.bus.Publish(bus.Event{Kind: KindConnectionChanged, Subject: key, Payload: s.conn})
	}
}

func (s *Session) setSnapshotLifecycle() {
	s.mu.Lock()
	s.snap.Lifecycle = s.machine.Current()
	s.mu.Unlock()
}

// waitLoaded blocks until history is loaded, the session closes or ctx ends.
func (s *Session) waitLoaded(ctx context.Context) error {
	select {
	case <-s.loaded:
		if s.machine.Current() == status.Closed {
			return ErrClosed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Key returns the cache key of the conversation.
func (s *Session) Key() string { return s.scheme.CacheKey }

// Scheme returns the topic scheme of the conversation.
func (s *Session) Scheme() topic.Scheme { return s.scheme }

// Done is closed once the session has shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot returns a copy of the session's observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	snap.Messages = slices.Clone(s.snap.Messages)
	return snap
}

// SendText appends and publishes a text message. A body that is empty after
// trimming is ignored and yields a nil message.
func (s *Session) SendText(body string) (*Message, error) {
	return s.sendPayload(wire.Text(strings.TrimSpace(body)))
}

// SendImage appends and publishes an image message carrying ref. An empty
// ref is ignored and yields a nil message.
func (s *Session) SendImage(ref string) (*Message, error) {
	return s.sendPayload(wire.Image(strings.TrimSpace(ref)))
}

func (s *Session) sendPayload(p wire.Payload) (*Message, error) {
	var msg *Message
	err := s.do(func() {
		if p.Text == "" && p.Image == "" {
			return
		}
		msg = s.send(p)
	})
	return msg, err
}

// InputChanged reports a change of the local compose text. A typing signal
// is published when the text is non-empty, the transport is connected and
// the rate limit allows it.
func (s *Session) InputChanged(text string) error {
	return s.do(func() {
		if s.conn != Connected || !s.typing.ShouldSignal(text) {
			return
		}
		raw, err := wire.Typing().Encode()
		if err != nil {
			return
		}
		if err := s.tr.Publish(s.scheme.Publish, raw, transport.PublishOptions{}); err != nil {
			s.logger.Debug("typing signal not sent", zap.Error(err))
		}
	})
}

// Ingest applies a raw payload as if it arrived on the subscribe topic.
// Malformed payloads are dropped without error.
func (s *Session) Ingest(raw []byte) error {
	return s.do(func() { s.ingest(raw) })
}

// DeleteMessage removes the message with id. It reports whether a message
// was removed; deleting an unknown id is a no-op.
func (s *Session) DeleteMessage(id string) (bool, error) {
	var removed bool
	err := s.do(func() {
		before := len(s.messages)
		s.messages = slices.DeleteFunc(s.messages, func(m Message) bool { return m.ID == id })
		if len(s.messages) == before {
			return
		}
		removed = true
		delete(s.ids, id)
		s.changed |= changeMessages
		s.persist()
		s.cancelQueued(id)
	})
	return removed, err
}

// cancelQueued drops a payload of message id still waiting in the outbox,
// so a deleted message is never delivered.
func (s *Session) cancelQueued(id string) {
	if s.outbox == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.StoreTimeout)
	defer cancel()
	if _, err := s.outbox.Cancel(ctx, s.scheme.CacheKey, id); err != nil {
		s.logger.Warn("failed to cancel queued payload", zap.String("id", id), zap.Error(err))
	}
}

// Close announces offline presence, disconnects and stops the session.
// Closing a closed session is a no-op.
func (s *Session) Close() {
	if err := s.do(s.shutdown); err != nil {
		return
	}
	<-s.done
}
