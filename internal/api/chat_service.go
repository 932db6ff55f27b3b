package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/shopchat/internal/bus"
	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/topic"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ChatService exposes the chat manager of one profile.
type ChatService struct {
	mgr       *chat.Manager
	bus       *bus.Bus
	profile   string
	selfID    string
	startedAt time.Time
	logger    *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// NewChatService creates a chat service acting as selfID.
func NewChatService(mgr *chat.Manager, b *bus.Bus, profile, selfID string, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		mgr:       mgr,
		bus:       b,
		profile:   profile,
		selfID:    selfID,
		startedAt: time.Now(),
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Shutdown ends every open Watch stream.
func (s *ChatService) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
}

var _ ChatServiceServer = (*ChatService)(nil)

// KindWatchReady is the first event of every Watch stream. It is sent once
// the stream is subscribed to the bus.
const KindWatchReady = "watch.ready"

func (s *ChatService) Open(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req PeerRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	sess, err := s.mgr.Open(ctx, s.selfID, req.PeerID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(conversationView(sess.Snapshot()))
}

func (s *ChatService) SendText(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SendTextRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	sess, err := s.lookup(req.PeerID)
	if err != nil {
		return nil, err
	}
	msg, err := sess.SendText(req.Text)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(sendResponse(msg))
}

func (s *ChatService) SendImage(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SendImageRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	sess, err := s.lookup(req.PeerID)
	if err != nil {
		return nil, err
	}
	msg, err := sess.SendImage(req.Ref)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(sendResponse(msg))
}

func (s *ChatService) Typing(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req TypingRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	sess, err := s.lookup(req.PeerID)
	if err != nil {
		return nil, err
	}
	if err := sess.InputChanged(req.Text); err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(Empty{})
}

func (s *ChatService) DeleteMessage(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req DeleteMessageRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	sess, err := s.lookup(req.PeerID)
	if err != nil {
		return nil, err
	}
	removed, err := sess.DeleteMessage(req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(DeleteMessageResponse{Removed: removed})
}

func (s *ChatService) Close(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req PeerRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	sess, err := s.lookup(req.PeerID)
	if err != nil {
		return nil, err
	}
	sess.Close()
	return encodeResponse(Empty{})
}

func (s *ChatService) GetConversation(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req PeerRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	sess, err := s.lookup(req.PeerID)
	if err != nil {
		return nil, err
	}
	return encodeResponse(conversationView(sess.Snapshot()))
}

func (s *ChatService) Forget(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req PeerRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := s.mgr.Forget(ctx, s.selfID, req.PeerID); err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(Empty{})
}

func (s *ChatService) ListConversations(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	convs, err := s.mgr.Conversations(ctx)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list conversations: %v", err)
	}
	open := make(map[string]bool)
	for _, sess := range s.mgr.Sessions() {
		open[sess.Key()] = true
	}
	resp := ListConversationsResponse{Conversations: []StoredConversation{}}
	for _, c := range convs {
		resp.Conversations = append(resp.Conversations, StoredConversation{
			Key:             c.Key,
			MessageCount:    c.MessageCount,
			UpdatedAtUnixMs: c.UpdatedAt,
			Open:            open[c.Key],
		})
	}
	return encodeResponse(resp)
}

func (s *ChatService) Status(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp := StatusResponse{
		Profile:      s.profile,
		UserID:       s.selfID,
		UptimeMs:     time.Since(s.startedAt).Milliseconds(),
		OpenSessions: len(s.mgr.Sessions()),
	}
	if convs, err := s.mgr.Conversations(ctx); err == nil {
		resp.StoredConversations = len(convs)
	}
	return encodeResponse(resp)
}

func (s *ChatService) Watch(in *structpb.Struct, stream grpc.ServerStream) error {
	var req WatchRequest
	if err := decodeRequest(in, &req); err != nil {
		return err
	}
	subject := ""
	if req.PeerID != "" {
		if err := topic.ValidatePair(s.selfID, req.PeerID); err != nil {
			return toStatus(err)
		}
		subject = topic.CacheKey(s.selfID, req.PeerID)
	}

	ch, unsub := s.bus.SubscribeSubject("", subject, 256)
	defer unsub()

	if err := s.sendEvent(stream, bus.Event{Kind: KindWatchReady, Subject: subject, Timestamp: time.Now()}); err != nil {
		return err
	}
	for {
		select {
		case evt := <-ch:
			if err := s.sendEvent(stream, evt); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		case <-s.stop:
			return nil
		}
	}
}

func (s *ChatService) sendEvent(stream grpc.ServerStream, evt bus.Event) error {
	out, err := Encode(Event{
		EventID:          uuid.New().String(),
		Kind:             evt.Kind,
		Key:              evt.Subject,
		OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
		Detail:           detail(evt.Payload),
	})
	if err != nil {
		s.logger.Warn("failed to encode event", zap.String("kind", evt.Kind), zap.Error(err))
		return nil
	}
	return stream.SendMsg(out)
}

func (s *ChatService) lookup(peerID string) (*chat.Session, error) {
	if err := topic.ValidatePair(s.selfID, peerID); err != nil {
		return nil, toStatus(err)
	}
	sess, ok := s.mgr.Lookup(s.selfID, peerID)
	if !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "no open conversation with %q", peerID)
	}
	return sess, nil
}

func decodeRequest(in *structpb.Struct, v any) error {
	if err := Decode(in, v); err != nil {
		return grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}
	return nil
}

func encodeResponse(v any) (*structpb.Struct, error) {
	out, err := Encode(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "%v", err)
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, topic.ErrInvalidID):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, chat.ErrClosed):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}

func detail(payload any) string {
	if payload == nil {
		return ""
	}
	return fmt.Sprint(payload)
}

func messageView(m chat.Message) Message {
	return Message{
		ID:              m.ID,
		Kind:            string(m.Kind),
		Text:            m.Text,
		AttachmentRef:   m.AttachmentRef,
		SenderID:        m.SenderID,
		CreatedAtUnixMs: m.CreatedAt.UnixMilli(),
		Status:          string(m.Status),
	}
}

func sendResponse(m *chat.Message) SendResponse {
	if m == nil {
		return SendResponse{}
	}
	view := messageView(*m)
	return SendResponse{Sent: true, Message: &view}
}

func conversationView(snap chat.Snapshot) Conversation {
	c := Conversation{
		Key:        snap.Key,
		SelfID:     snap.SelfID,
		PeerID:     snap.PeerID,
		PeerOnline: snap.PeerOnline,
		PeerTyping: snap.PeerTyping,
		Connection: string(snap.Connection),
		Lifecycle:  string(snap.Lifecycle),
		Messages:   make([]Message, 0, len(snap.Messages)),
	}
	for _, m := range snap.Messages {
		c.Messages = append(c.Messages, messageView(m))
	}
	return c
}
