package transport

// Connected is emitted when the broker accepted the connection, including
// after an automatic reconnect.
type Connected struct{}

// ConnectionFailed is emitted when a connect attempt did not succeed.
type ConnectionFailed struct {
	Err error
}

// Message is an inbound publish on a subscribed topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Disconnected is emitted when an established connection was lost.
type Disconnected struct {
	Err error
}
