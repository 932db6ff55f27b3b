package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// PeerRequest addresses one conversation of the daemon's user.
type PeerRequest struct {
	PeerID string `json:"peer_id"`
}

// SendTextRequest is the body of SendText.
type SendTextRequest struct {
	PeerID string `json:"peer_id"`
	Text   string `json:"text"`
}

// SendImageRequest is the body of SendImage.
type SendImageRequest struct {
	PeerID string `json:"peer_id"`
	Ref    string `json:"ref"`
}

// TypingRequest reports the compose text of a conversation.
type TypingRequest struct {
	PeerID string `json:"peer_id"`
	Text   string `json:"text"`
}

// DeleteMessageRequest is the body of DeleteMessage.
type DeleteMessageRequest struct {
	PeerID string `json:"peer_id"`
	ID     string `json:"id"`
}

// WatchRequest filters Watch to one conversation; an empty peer watches all.
type WatchRequest struct {
	PeerID string `json:"peer_id,omitempty"`
}

type Message struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	Text            string `json:"text,omitempty"`
	AttachmentRef   string `json:"attachment_ref,omitempty"`
	SenderID        string `json:"sender_id"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
	Status          string `json:"status"`
}

type Conversation struct {
	Key        string    `json:"key"`
	SelfID     string    `json:"self_id"`
	PeerID     string    `json:"peer_id"`
	PeerOnline bool      `json:"peer_online"`
	PeerTyping bool      `json:"peer_typing"`
	Connection string    `json:"connection"`
	Lifecycle  string    `json:"lifecycle"`
	Messages   []Message `json:"messages"`
}

type SendResponse struct {
	// Sent is false when the body was empty and nothing was appended.
	Sent    bool     `json:"sent"`
	Message *Message `json:"message,omitempty"`
}

type DeleteMessageResponse struct {
	Removed bool `json:"removed"`
}

type StoredConversation struct {
	Key             string `json:"key"`
	MessageCount    int    `json:"message_count"`
	UpdatedAtUnixMs int64  `json:"updated_at_unix_ms"`
	Open            bool   `json:"open"`
}

type ListConversationsResponse struct {
	Conversations []StoredConversation `json:"conversations"`
}

type StatusResponse struct {
	Profile             string `json:"profile"`
	UserID              string `json:"user_id"`
	UptimeMs            int64  `json:"uptime_ms"`
	OpenSessions        int    `json:"open_sessions"`
	StoredConversations int    `json:"stored_conversations"`
}

// Event is one bus event forwarded by Watch.
type Event struct {
	EventID          string `json:"event_id"`
	Kind             string `json:"kind"`
	Key              string `json:"key,omitempty"`
	OccurredAtUnixMs int64  `json:"occurred_at_unix_ms"`
	Detail           string `json:"detail,omitempty"`
}

// Empty is the response of calls that return nothing.
type Empty struct{}

// Encode converts v to a Struct through its JSON form.
func Encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return out, nil
}

// Decode fills v from a Struct through its JSON form.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		s = new(structpb.Struct)
	}
	raw, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
