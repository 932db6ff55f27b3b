package chat

import (
	"time"

	"github.com/matheus3301/shopchat/internal/status"
	"github.com/matheus3301/shopchat/internal/store"
	"github.com/matheus3301/shopchat/internal/wire"
)

// Kind is the content kind of a chat message.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// DeliveryStatus is decided once, at send or receipt time, and never upgraded.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
)

// ConnectionState is the transport state as seen by a session.
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
)

// Message is one entry of a conversation. Exactly one of Text and
// AttachmentRef is set, matching Kind.
type Message struct {
	ID            string
	Kind          Kind
	Text          string
	AttachmentRef string
	SenderID      string
	CreatedAt     time.Time
	Status        DeliveryStatus
}

// Snapshot is a copy of a session's observable state.
type Snapshot struct {
	Key        string
	SelfID     string
	PeerID     string
	Messages   []Message
	PeerOnline bool
	PeerTyping bool
	Connection ConnectionState
	Lifecycle  status.State
}

func messageFromPayload(p wire.Payload) Message {
	if p.Type == wire.TypeImage {
		return Message{Kind: KindImage, AttachmentRef: p.Image}
	}
	return Message{Kind: KindText, Text: p.Text}
}

func toStore(msgs []Message) []store.Message {
	out := make([]store.Message, len(msgs))
	for i, m := range msgs {
		out[i] = store.Message{
			ID:            m.ID,
			Kind:          string(m.Kind),
			Text:          m.Text,
			AttachmentRef: m.AttachmentRef,
			SenderID:      m.SenderID,
			CreatedAt:     m.CreatedAt.UnixMilli(),
			Status:        string(m.Status),
		}
	}
	return out
}

func fromStore(msgs []store.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		msg := Message{
			ID:            m.ID,
			Kind:          Kind(m.Kind),
			Text:          m.Text,
			AttachmentRef: m.AttachmentRef,
			SenderID:      m.SenderID,
			CreatedAt:     time.UnixMilli(m.CreatedAt),
			Status:        DeliveryStatus(m.Status),
		}
		// Records that break the one-body rule are kept but normalized.
		switch msg.Kind {
		case KindImage:
			msg.Text = ""
		default:
			msg.Kind = KindText
			msg.AttachmentRef = ""
		}
		if msg.Status != StatusDelivered {
			msg.Status = StatusSent
		}
		out = append(out, msg)
	}
	return out
}
