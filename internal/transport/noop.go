package transport

import "slices"

// Noop is the local-only transport: it never reaches a broker and reports
// every connect attempt as failed with ErrLocalOnly.
type Noop struct {
	handlers []func(any)
}

// NoopDialer returns a Dialer producing local-only transports.
func NoopDialer() Dialer {
	return func() Transport { return &Noop{} }
}

func (n *Noop) RegisterEventHandler(handler func(any)) {
	n.handlers = append(n.handlers, handler)
}

func (n *Noop) Connect(opts ConnectOptions) error {
	handlers := slices.Clone(n.handlers)
	go func() {
		for _, h := range handlers {
			h(&ConnectionFailed{Err: ErrLocalOnly})
		}
	}()
	return nil
}

func (n *Noop) Subscribe(string) error { return ErrNotConnected }

func (n *Noop) Publish(string, []byte, PublishOptions) error { return ErrNotConnected }

func (n *Noop) Disconnect() {}
