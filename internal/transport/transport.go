// Package transport abstracts the publish/subscribe broker connection a chat
// session talks through.
package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Subscribe and Publish before the
	// connection is established.
	ErrNotConnected = errors.New("transport not connected")

	// ErrLocalOnly is reported by the local-only transport, which never
	// reaches a broker.
	ErrLocalOnly = errors.New("transport is local only")
)

// Will is the message the broker publishes on the client's behalf when the
// connection ends without a clean disconnect.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// ConnectOptions carries per-connection settings. The will is mandatory.
type ConnectOptions struct {
	ClientID string
	Will     Will
}

// Validate reports whether the options can be used to connect.
func (o ConnectOptions) Validate() error {
	if o.ClientID == "" {
		return fmt.Errorf("connect: empty client id")
	}
	if o.Will.Topic == "" {
		return fmt.Errorf("connect: last will is required")
	}
	return nil
}

// PublishOptions controls delivery of one publish.
type PublishOptions struct {
	QoS    byte
	Retain bool
}

// Transport is a broker connection. Connect is non-blocking: its outcome is
// reported to the registered handler as *Connected or *ConnectionFailed.
// Handlers may be invoked from any goroutine.
type Transport interface {
	Connect(opts ConnectOptions) error
	Subscribe(topic string) error
	Publish(topic string, payload []byte, opts PublishOptions) error
	Disconnect()
	RegisterEventHandler(handler func(any))
}

// Dialer creates a fresh, unconnected transport.
type Dialer func() Transport
