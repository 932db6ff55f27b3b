package store

// RecordVersion is the layout version written into every conversation record.
const RecordVersion = 1

// Message is the persisted form of one chat message.
type Message struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	Text          string `json:"text,omitempty"`
	AttachmentRef string `json:"attachment_ref,omitempty"`
	SenderID      string `json:"sender_id"`
	CreatedAt     int64  `json:"created_at"` // unix ms
	Status        string `json:"status"`
}

// Conversation summarizes one stored conversation record.
type Conversation struct {
	Key          string
	MessageCount int
	UpdatedAt    int64
}

// OutboxEntry is a payload composed while the transport was down.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	CacheKey     string
	MessageID    string
	Topic        string
	Payload      []byte
	Status       string // queued, sent, failed
	ErrorMessage string
}
