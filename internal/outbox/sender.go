package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/matheus3301/shopchat/internal/bus"
	"github.com/matheus3301/shopchat/internal/store"
	"github.com/matheus3301/shopchat/internal/transport"
	"go.uber.org/zap"
)

// Event kinds published by the sender.
const (
	KindQueued    = "outbox.queued"
	KindFlushed   = "outbox.flushed"
	KindFailed    = "outbox.send_failed"
	KindCancelled = "outbox.cancelled"
)

// Publisher is the part of a transport the sender drains into.
type Publisher interface {
	Publish(topic string, payload []byte, opts transport.PublishOptions) error
}

// Sender holds payloads composed while the transport was down and publishes
// them in queue order once it is back.
type Sender struct {
	db     *store.DB
	bus    *bus.Bus
	qos    byte
	logger *zap.Logger
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, b *bus.Bus, qos byte, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:     db,
		bus:    b,
		qos:    qos,
		logger: logger,
	}
}

// Queue stores payload, which carries message messageID, for later
// publication on topic and returns the client id of the entry.
func (s *Sender) Queue(ctx context.Context, key, messageID, topic string, payload []byte) (string, error) {
	id := uuid.NewString()
	if err := s.db.QueueOutbox(ctx, id, key, messageID, topic, payload); err != nil {
		return "", fmt.Errorf("queue outbox: %w", err)
	}
	s.logger.Debug("payload queued", zap.String("key", key), zap.String("client_msg_id", id))
	s.bus.Publish(bus.Event{Kind: KindQueued, Subject: key, Payload: id})
	return id, nil
}

// Cancel drops the queued payload of message messageID so it is never
// published. It reports whether an entry was dropped.
func (s *Sender) Cancel(ctx context.Context, key, messageID string) (bool, error) {
	n, err := s.db.CancelOutbox(ctx, key, messageID)
	if err != nil {
		return false, fmt.Errorf("cancel outbox: %w", err)
	}
	if n > 0 {
		s.logger.Debug("queued payload cancelled", zap.String("key", key), zap.String("message_id", messageID))
		s.bus.Publish(bus.Event{Kind: KindCancelled, Subject: key, Payload: messageID})
	}
	return n > 0, nil
}

// Flush publishes queued entries of one conversation through pub. It stops
// at the first ErrNotConnected and leaves the rest queued. Other publish
// errors mark the entry failed. Returns the number of entries published.
func (s *Sender) Flush(ctx context.Context, key string, pub Publisher) (int, error) {
	pending, err := s.db.PendingOutbox(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("read outbox: %w", err)
	}

	sent := 0
	for _, entry := range pending {
		err := pub.Publish(entry.Topic, entry.Payload, transport.PublishOptions{QoS: s.qos})
		if errors.Is(err, transport.ErrNotConnected) {
			break
		}
		if err != nil {
			s.logger.Error("failed to publish queued payload", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			if err := s.db.MarkOutboxFailed(ctx, entry.ClientMsgID, err.Error()); err != nil {
				s.logger.Error("failed to mark failed", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			}
			s.bus.Publish(bus.Event{
				Kind:    KindFailed,
				Subject: key,
				Payload: map[string]string{"client_msg_id": entry.ClientMsgID, "error": err.Error()},
			})
			continue
		}
		if err := s.db.MarkOutboxSent(ctx, entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		sent++
	}

	if sent > 0 {
		s.logger.Info("outbox flushed", zap.String("key", key), zap.Int("count", sent))
		s.bus.Publish(bus.Event{Kind: KindFlushed, Subject: key, Payload: sent})
	}
	return sent, nil
}
