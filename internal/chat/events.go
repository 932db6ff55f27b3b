package chat

// Event kinds published on the bus. The event subject is the cache key.
const (
	KindMessagesChanged   = "chat.messages_changed"
	KindPresenceChanged   = "chat.presence_changed"
	KindTypingChanged     = "chat.typing_changed"
	KindConnectionChanged = "chat.connection_changed"
	KindForgotten         = "chat.forgotten"
)

type change uint8

const (
	changeMessages change = 1 << iota
	changePresence
	changeTyping
	changeConnection
)

// historyLoaded carries the result of the initial store read into the loop.
type historyLoaded struct {
	msgs []Message
	err  error
}

// typingExpired is posted by the decay timer.
type typingExpired struct {
	gen uint64
}
