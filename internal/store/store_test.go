package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2", result.Version)
	}
}

func TestOpenMigratedFreshDB(t *testing.T) {
	db, result, err := OpenMigrated(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if !result.Changed || result.Version != 2 {
		t.Errorf("result = %+v, want changed to version 2", result)
	}
}

func TestMigrateRefusesDirtySchema(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec(`UPDATE schema_migrations SET dirty = 1`); err != nil {
		t.Fatal(err)
	}

	_, err := db.Migrate()
	if !errors.Is(err, ErrDirtySchema) {
		t.Errorf("Migrate() error = %v, want ErrDirtySchema", err)
	}
}

func TestLoadMissingConversation(t *testing.T) {
	db := testDB(t)

	msgs, err := db.LoadMessages(context.Background(), "chat_a_b")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages, want none", len(msgs))
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	want := []Message{
		{ID: "m1", Kind: "text", Text: "hello", SenderID: "a", CreatedAt: 1000, Status: "sent"},
		{ID: "m2", Kind: "image", AttachmentRef: "file:///x.png", SenderID: "b", CreatedAt: 2000, Status: "delivered"},
	}
	if err := db.SaveMessages(ctx, "chat_a_b", want); err != nil {
		t.Fatal(err)
	}

	got, err := db.LoadMessages(ctx, "chat_a_b")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSaveReplacesWholeList(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	first := []Message{{ID: "m1", Kind: "text", Text: "one"}, {ID: "m2", Kind: "text", Text: "two"}}
	if err := db.SaveMessages(ctx, "k", first); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveMessages(ctx, "k", first[1:]); err != nil {
		t.Fatal(err)
	}

	got, err := db.LoadMessages(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "m2" {
		t.Errorf("got %+v, want only m2", got)
	}
	count, err := db.ConversationCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestLoadLegacyArray(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	legacy := `[
		{"id":"1","type":"text","text":"hi","createdAt":"2024-01-02T03:04:05Z","status":"read","user":{"id":"user456"}},
		{"id":"2","type":"image","image":"file:///p.jpg","createdAt":"bogus","status":"sent","user":{"id":"user123"}}
	]`
	if _, err := db.Exec(`INSERT INTO conversations (cache_key, record, message_count, created_at, updated_at) VALUES (?, ?, 2, 0, 0)`, "legacy", legacy); err != nil {
		t.Fatal(err)
	}

	got, err := db.LoadMessages(ctx, "legacy")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].Status != "delivered" || got[0].SenderID != "user456" || got[0].CreatedAt != 1704164645000 {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Kind != "image" || got[1].AttachmentRef != "file:///p.jpg" || got[1].Status != "sent" || got[1].CreatedAt != 0 {
		t.Errorf("second = %+v", got[1])
	}
}

func TestLoadNewerVersionFails(t *testing.T) {
	db := testDB(t)

	if _, err := db.Exec(`INSERT INTO conversations (cache_key, record, message_count, created_at, updated_at) VALUES ('k', '{"version":99,"messages":[]}', 0, 0, 0)`); err != nil {
		t.Fatal(err)
	}
	_, err := db.LoadMessages(context.Background(), "k")
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("err = %v, want ErrUnsupportedVersion", err)
	}
}

func TestLoadCorruptRecordFails(t *testing.T) {
	db := testDB(t)

	if _, err := db.Exec(`INSERT INTO conversations (cache_key, record, message_count, created_at, updated_at) VALUES ('k', 'not json', 0, 0, 0)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.LoadMessages(context.Background(), "k"); err == nil {
		t.Error("expected error for corrupt record")
	}
}

func TestListConversations(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.SaveMessages(ctx, "chat_a_b", []Message{{ID: "1"}}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveMessages(ctx, "chat_a_c", []Message{{ID: "1"}, {ID: "2"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`UPDATE conversations SET updated_at = 1 WHERE cache_key = 'chat_a_b'`); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
	if convs[0].Key != "chat_a_c" || convs[0].MessageCount != 2 {
		t.Errorf("first = %+v, want chat_a_c with 2 messages", convs[0])
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.QueueOutbox(ctx, "c1", "k", "m1", "chat/a/b", []byte(`{"type":"text","text":"1"}`)); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox(ctx, "c2", "k", "m2", "chat/a/b", []byte(`{"type":"text","text":"2"}`)); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox(ctx, "c3", "other", "m1", "chat/a/c", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ClientMsgID != "c1" || pending[1].ClientMsgID != "c2" {
		t.Fatalf("pending = %+v, want c1 then c2", pending)
	}
	if pending[0].MessageID != "m1" || pending[0].Topic != "chat/a/b" || string(pending[0].Payload) != `{"type":"text","text":"1"}` {
		t.Errorf("entry = %+v", pending[0])
	}

	if err := db.MarkOutboxSent(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxFailed(ctx, "c2", "boom"); err != nil {
		t.Fatal(err)
	}
	pending, err = db.PendingOutbox(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending after mark, want 0", len(pending))
	}

	if err := db.QueueOutbox(ctx, "c1", "k", "m9", "chat/a/b", nil); err == nil {
		t.Error("expected duplicate client_msg_id to fail")
	}
}

func TestDeleteConversationRemovesOutbox(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.SaveMessages(ctx, "k", []Message{{ID: "1"}}); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox(ctx, "c1", "k", "1", "chat/a/b", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteConversation(ctx, "k"); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.LoadMessages(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages after delete", len(msgs))
	}
	pending, err := db.PendingOutbox(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d outbox entries after delete", len(pending))
	}
}

func TestCancelOutboxRemovesOnlyQueuedEntriesOfMessage(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, e := range []struct{ client, key, msg string }{
		{"c1", "k", "m1"},
		{"c2", "k", "m2"},
		{"c3", "other", "m1"},
		{"c4", "k", "m3"},
	} {
		if err := db.QueueOutbox(ctx, e.client, e.key, e.msg, "t", []byte(e.client)); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.MarkOutboxSent(ctx, "c4"); err != nil {
		t.Fatal(err)
	}

	n, err := db.CancelOutbox(ctx, "k", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cancelled %d, want 1", n)
	}
	if n, _ := db.CancelOutbox(ctx, "k", "m3"); n != 0 {
		t.Errorf("cancelled %d sent entries, want 0", n)
	}

	pending, err := db.PendingOutbox(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientMsgID != "c2" {
		t.Errorf("pending = %+v, want only c2", pending)
	}
	other, err := db.PendingOutbox(ctx, "other")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 1 {
		t.Errorf("other conversation lost its entry: %+v", other)
	}
}
