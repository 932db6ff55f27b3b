package transport

import (
	"errors"
	"sync"
)

// ErrConnectionDropped is reported when a memory client is cut off abruptly.
var ErrConnectionDropped = errors.New("connection dropped")

// MemoryBroker is an in-process broker with retained messages and last
// wills. Topics match exactly; wildcards are not supported.
type MemoryBroker struct {
	mu       sync.Mutex
	clients  map[*MemoryClient]struct{}
	retained map[string][]byte
	reject   error
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		clients:  make(map[*MemoryClient]struct{}),
		retained: make(map[string][]byte),
	}
}

// Dialer returns a Dialer producing clients of this broker.
func (b *MemoryBroker) Dialer() Dialer {
	return func() Transport { return b.Client() }
}

// Client creates an unconnected client of this broker.
func (b *MemoryBroker) Client() *MemoryClient {
	return &MemoryClient{broker: b, subs: make(map[string]bool)}
}

// Reject makes subsequent connects fail with err. A nil err accepts them again.
func (b *MemoryBroker) Reject(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reject = err
}

// Retained returns the retained payload for topic.
func (b *MemoryBroker) Retained(topic string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.retained[topic]
	return p, ok
}

func (b *MemoryBroker) publish(topic string, payload []byte, retain bool) {
	b.mu.Lock()
	if retain {
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = payload
		}
	}
	var targets []*MemoryClient
	for c := range b.clients {
		if c.subscribed(topic) {
			targets = append(targets, c)
		}
	}
	b.mu.Unlock()

	for _, c := range targets {
		c.enqueue(&Message{Topic: topic, Payload: payload})
	}
}

// MemoryClient is a Transport connected to a MemoryBroker. Events are
// delivered in order from a dedicated goroutine.
type MemoryClient struct {
	broker *MemoryBroker

	mu        sync.Mutex
	opts      ConnectOptions
	connected bool
	subs      map[string]bool
	handlers  []func(any)
	queue     []any
	notify    chan struct{}
	stop      chan struct{}
}

// RegisterEventHandler adds a handler for transport events.
func (c *MemoryClient) RegisterEventHandler(handler func(any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Connect attaches the client to the broker.
func (c *MemoryClient) Connect(opts ConnectOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.opts = opts
	c.startLocked()
	c.mu.Unlock()
	c.attach()
	return nil
}

func (c *MemoryClient) startLocked() {
	if c.stop != nil {
		return
	}
	c.notify = make(chan struct{}, 1)
	c.stop = make(chan struct{})
	go c.deliver(c.notify, c.stop)
}

func (c *MemoryClient) attach() {
	c.broker.mu.Lock()
	reject := c.broker.reject
	if reject == nil {
		c.broker.clients[c] = struct{}{}
	}
	c.broker.mu.Unlock()

	if reject != nil {
		c.enqueue(&ConnectionFailed{Err: reject})
		return
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.enqueue(&Connected{})
}

// Subscribe registers interest in topic and replays its retained message.
func (c *MemoryClient) Subscribe(topic string) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.subs[topic] {
		c.mu.Unlock()
		return nil
	}
	c.subs[topic] = true
	c.mu.Unlock()

	if payload, ok := c.broker.Retained(topic); ok {
		c.enqueue(&Message{Topic: topic, Payload: payload})
	}
	return nil
}

// Publish routes payload through the broker.
func (c *MemoryClient) Publish(topic string, payload []byte, opts PublishOptions) error {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	c.broker.publish(topic, cp, opts.Retain)
	return nil
}

// Disconnect detaches cleanly; the will is not published.
func (c *MemoryClient) Disconnect() {
	c.detach()
	c.mu.Lock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
		c.queue = nil
	}
	c.mu.Unlock()
}

// Drop simulates an abrupt connection loss: the broker publishes the will
// and the client receives Disconnected.
func (c *MemoryClient) Drop() {
	if !c.detach() {
		return
	}
	c.mu.Lock()
	will := c.opts.Will
	c.mu.Unlock()
	c.broker.publish(will.Topic, will.Payload, will.Retain)
	c.enqueue(&Disconnected{Err: ErrConnectionDropped})
}

// Restore reconnects a dropped client with its previous options, as an
// automatic reconnect would.
func (c *MemoryClient) Restore() {
	c.mu.Lock()
	if c.connected || c.stop == nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.attach()
}

// Connected reports whether the client is attached to the broker.
func (c *MemoryClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *MemoryClient) detach() bool {
	c.broker.mu.Lock()
	delete(c.broker.clients, c)
	c.broker.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.connected
	c.connected = false
	c.subs = make(map[string]bool)
	return was
}

func (c *MemoryClient) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[topic]
}

func (c *MemoryClient) enqueue(evt any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		return
	}
	c.queue = append(c.queue, evt)
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *MemoryClient) deliver(notify <-chan struct{}, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-notify:
		}
		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			evt := c.queue[0]
			c.queue = c.queue[1:]
			handlers := make([]func(any), len(c.handlers))
			copy(handlers, c.handlers)
			c.mu.Unlock()

			select {
			case <-stop:
				return
			default:
			}
			for _, h := range handlers {
				h(evt)
			}
		}
	}
}
