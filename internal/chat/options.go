package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/matheus3301/shopchat/internal/outbox"
	"github.com/matheus3301/shopchat/internal/store"
	"github.com/matheus3301/shopchat/internal/typing"
)

// Store persists conversation records. *store.DB implements it.
type Store interface {
	LoadMessages(ctx context.Context, key string) ([]store.Message, error)
	SaveMessages(ctx context.Context, key string, msgs []store.Message) error
	DeleteConversation(ctx context.Context, key string) error
	ListConversations(ctx context.Context) ([]store.Conversation, error)
}

// Outbox holds payloads composed while disconnected. *outbox.Sender
// implements it.
type Outbox interface {
	Queue(ctx context.Context, key, messageID, topic string, payload []byte) (string, error)
	Cancel(ctx context.Context, key, messageID string) (bool, error)
	Flush(ctx context.Context, key string, pub outbox.Publisher) (int, error)
}

// Options tunes every session of a Manager.
type Options struct {
	// QoS applies to chat payloads and presence. Typing signals use QoS 0.
	QoS            byte
	ClientIDPrefix string
	TypingWindow   time.Duration
	// TypingThrottle of zero disables outbound typing rate limiting.
	TypingThrottle time.Duration
	StoreTimeout   time.Duration

	Clock clockwork.Clock
	// NewID generates message ids. It must return unique ids; an id already
	// present in the conversation is suffixed.
	NewID func() string
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		QoS:            1,
		ClientIDPrefix: "shopchat",
		TypingWindow:   typing.DefaultWindow,
		TypingThrottle: typing.DefaultThrottle,
		StoreTimeout:   5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ClientIDPrefix == "" {
		o.ClientIDPrefix = d.ClientIDPrefix
	}
	if o.TypingWindow <= 0 {
		o.TypingWindow = d.TypingWindow
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = d.StoreTimeout
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.NewID == nil {
		o.NewID = newMessageID
	}
	return o
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
