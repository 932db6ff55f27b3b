package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/matheus3301/shopchat/internal/bus"
	"github.com/matheus3301/shopchat/internal/store"
	"github.com/matheus3301/shopchat/internal/transport"
)

// mockPublisher records calls and returns configurable results per call.
type mockPublisher struct {
	calls []string
	errs  []error
}

func (m *mockPublisher) Publish(topic string, payload []byte, _ transport.PublishOptions) error {
	i := len(m.calls)
	m.calls = append(m.calls, topic+" "+string(payload))
	if i < len(m.errs) {
		return m.errs[i]
	}
	return nil
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestFlushPublishesInOrder(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	s := NewSender(db, b, 1, nil)
	ctx := context.Background()

	ch, unsub := b.Subscribe(KindFlushed, 10)
	defer unsub()

	for _, p := range []string{"1", "2", "3"} {
		if _, err := s.Queue(ctx, "k", "m"+p, "chat/a/b", []byte(p)); err != nil {
			t.Fatal(err)
		}
	}

	pub := &mockPublisher{}
	n, err := s.Flush(ctx, "k", pub)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("flushed %d, want 3", n)
	}
	want := []string{"chat/a/b 1", "chat/a/b 2", "chat/a/b 3"}
	for i := range want {
		if pub.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, pub.calls[i], want[i])
		}
	}

	evt := <-ch
	if evt.Subject != "k" || evt.Payload != 3 {
		t.Errorf("event = %+v, want subject k payload 3", evt)
	}

	// Nothing left to send.
	n, err = s.Flush(ctx, "k", pub)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second flush sent %d, want 0", n)
	}
}

func TestFlushStopsWhenDisconnected(t *testing.T) {
	db := testDB(t)
	s := NewSender(db, nil, 1, nil)
	ctx := context.Background()

	for _, p := range []string{"1", "2"} {
		if _, err := s.Queue(ctx, "k", "m"+p, "t", []byte(p)); err != nil {
			t.Fatal(err)
		}
	}

	pub := &mockPublisher{errs: []error{nil, transport.ErrNotConnected}}
	n, err := s.Flush(ctx, "k", pub)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("flushed %d, want 1", n)
	}
	pending, err := db.PendingOutbox(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || string(pending[0].Payload) != "2" {
		t.Errorf("pending = %+v, want only payload 2", pending)
	}
}

func TestFlushMarksFailures(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	s := NewSender(db, b, 1, nil)
	ctx := context.Background()

	ch, unsub := b.Subscribe(KindFailed, 10)
	defer unsub()

	id, err := s.Queue(ctx, "k", "mx", "t", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}

	pub := &mockPublisher{errs: []error{errors.New("too large")}}
	n, err := s.Flush(ctx, "k", pub)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("flushed %d, want 0", n)
	}

	evt := <-ch
	payload := evt.Payload.(map[string]string)
	if payload["client_msg_id"] != id || payload["error"] != "too large" {
		t.Errorf("payload = %v", payload)
	}
	pending, err := db.PendingOutbox(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("failed entry should not stay pending")
	}
}

func TestFlushOnlyTouchesOneConversation(t *testing.T) {
	db := testDB(t)
	s := NewSender(db, nil, 1, nil)
	ctx := context.Background()

	if _, err := s.Queue(ctx, "k1", "ma", "t1", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Queue(ctx, "k2", "mb", "t2", []byte("b")); err != nil {
		t.Fatal(err)
	}

	pub := &mockPublisher{}
	if _, err := s.Flush(ctx, "k1", pub); err != nil {
		t.Fatal(err)
	}
	if len(pub.calls) != 1 || pub.calls[0] != "t1 a" {
		t.Errorf("calls = %v, want only t1 a", pub.calls)
	}
}

func TestCancelSkipsMessageOnFlush(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	s := NewSender(db, b, 1, nil)
	ctx := context.Background()

	ch, unsub := b.Subscribe(KindCancelled, 10)
	defer unsub()

	for _, p := range []string{"1", "2", "3"} {
		if _, err := s.Queue(ctx, "k", "m"+p, "t", []byte(p)); err != nil {
			t.Fatal(err)
		}
	}

	dropped, err := s.Cancel(ctx, "k", "m2")
	if err != nil {
		t.Fatal(err)
	}
	if !dropped {
		t.Error("Cancel() = false, want true")
	}
	if evt := <-ch; evt.Payload != "m2" || evt.Subject != "k" {
		t.Errorf("event = %+v", evt)
	}
	if dropped, _ := s.Cancel(ctx, "k", "m2"); dropped {
		t.Error("second Cancel() = true, want false")
	}

	pub := &mockPublisher{}
	if _, err := s.Flush(ctx, "k", pub); err != nil {
		t.Fatal(err)
	}
	if len(pub.calls) != 2 || pub.calls[0] != "t 1" || pub.calls[1] != "t 3" {
		t.Errorf("calls = %v, want t 1 then t 3", pub.calls)
	}
}
