package chat

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/matheus3301/shopchat/internal/bus"
	"github.com/matheus3301/shopchat/internal/store"
	"github.com/matheus3301/shopchat/internal/transport"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, _, err := store.OpenMigrated(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type published struct {
	Topic   string
	Payload string
	Opts    transport.PublishOptions
}

// fakeTransport records calls and lets tests inject transport events.
type fakeTransport struct {
	mu           sync.Mutex
	handlers     []func(any)
	opts         *transport.ConnectOptions
	connected    bool
	subs         []string
	pubs         []published
	disconnected bool
}

func (f *fakeTransport) RegisterEventHandler(h func(any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

func (f *fakeTransport) Connect(opts transport.ConnectOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = &opts
	return nil
}

func (f *fakeTransport) Subscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrNotConnected
	}
	f.subs = append(f.subs, topic)
	return nil
}

func (f *fakeTransport) Publish(topic string, payload []byte, opts transport.PublishOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrNotConnected
	}
	f.pubs = append(f.pubs, published{Topic: topic, Payload: string(payload), Opts: opts})
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}

func (f *fakeTransport) emit(evt any) {
	f.mu.Lock()
	switch evt.(type) {
	case *transport.Connected:
		f.connected = true
	case *transport.Disconnected:
		f.connected = false
	}
	handlers := slices.Clone(f.handlers)
	f.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

func (f *fakeTransport) published() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.pubs...)
}

func (f *fakeTransport) subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subs...)
}

func (f *fakeTransport) connectOptions() *transport.ConnectOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts
}

// fakeStore is an in-memory Store with injectable failures.
type fakeStore struct {
	mu      sync.Mutex
	records map[string][]store.Message
	loadErr error
	saveErr error
	block   chan struct{}
	saves   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string][]store.Message)}
}

func (f *fakeStore) LoadMessages(ctx context.Context, key string) ([]store.Message, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return append([]store.Message(nil), f.records[key]...), nil
}

func (f *fakeStore) SaveMessages(_ context.Context, key string, msgs []store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.records[key] = append([]store.Message(nil), msgs...)
	return nil
}

func (f *fakeStore) DeleteConversation(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, key)
	return nil
}

func (f *fakeStore) ListConversations(context.Context) ([]store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Conversation
	for k, v := range f.records {
		out = append(out, store.Conversation{Key: k, MessageCount: len(v)})
	}
	return out, nil
}

func (f *fakeStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

type harness struct {
	t       *testing.T
	mgr     *Manager
	store   *fakeStore
	bus     *bus.Bus
	clock   *clockwork.FakeClock
	mu      sync.Mutex
	dialled []*fakeTransport
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, store: newFakeStore(), bus: bus.New(), clock: clockwork.NewFakeClock()}
	opts := DefaultOptions()
	opts.Clock = h.clock
	h.mgr = NewManager(h.store, nil, h.dial, h.bus, opts, nil)
	t.Cleanup(h.mgr.CloseAll)
	return h
}

func (h *harness) dial() transport.Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	tr := &fakeTransport{}
	h.dialled = append(h.dialled, tr)
	return tr
}

func (h *harness) transport(i int) *fakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dialled[i]
}

func (h *harness) open(self, peer string) *Session {
	h.t.Helper()
	s, err := h.mgr.Open(context.Background(), self, peer)
	require.NoError(h.t, err)
	return s
}

func (h *harness) last() *fakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dialled[len(h.dialled)-1]
}

// openConnected opens a session and delivers Connected on its transport.
func (h *harness) openConnected(self, peer string) (*Session, *fakeTransport) {
	h.t.Helper()
	s := h.open(self, peer)
	tr := h.last()
	require.Eventually(h.t, func() bool { return tr.connectOptions() != nil }, waitFor, tick)
	tr.emit(&transport.Connected{})
	require.Eventually(h.t, func() bool { return s.Snapshot().Connection == Connected }, waitFor, tick)
	return s, tr
}

func texts(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		if m.Kind == KindImage {
			out[i] = "img:" + m.AttachmentRef
		} else {
			out[i] = m.Text
		}
	}
	return out
}
