package client

import (
	"context"
	"fmt"

	"github.com/matheus3301/shopchat/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to a profile daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewFromConn wraps an existing connection.
func NewFromConn(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	in, err := api.Encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.FullMethod(method), in, out); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return api.Decode(out, resp)
}

// Open opens the conversation with peerID and returns its state.
func (c *Client) Open(ctx context.Context, peerID string) (*api.Conversation, error) {
	var resp api.Conversation
	if err := c.call(ctx, api.MethodOpen, api.PeerRequest{PeerID: peerID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SendText(ctx context.Context, peerID, text string) (*api.SendResponse, error) {
	var resp api.SendResponse
	if err := c.call(ctx, api.MethodSendText, api.SendTextRequest{PeerID: peerID, Text: text}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SendImage(ctx context.Context, peerID, ref string) (*api.SendResponse, error) {
	var resp api.SendResponse
	if err := c.call(ctx, api.MethodSendImage, api.SendImageRequest{PeerID: peerID, Ref: ref}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Typing reports the current compose text for peerID.
func (c *Client) Typing(ctx context.Context, peerID, text string) error {
	return c.call(ctx, api.MethodTyping, api.TypingRequest{PeerID: peerID, Text: text}, nil)
}

// DeleteMessage removes a message and reports whether it existed.
func (c *Client) DeleteMessage(ctx context.Context, peerID, id string) (bool, error) {
	var resp api.DeleteMessageResponse
	if err := c.call(ctx, api.MethodDeleteMessage, api.DeleteMessageRequest{PeerID: peerID, ID: id}, &resp); err != nil {
		return false, err
	}
	return resp.Removed, nil
}

func (c *Client) CloseConversation(ctx context.Context, peerID string) error {
	return c.call(ctx, api.MethodClose, api.PeerRequest{PeerID: peerID}, nil)
}

func (c *Client) GetConversation(ctx context.Context, peerID string) (*api.Conversation, error) {
	var resp api.Conversation
	if err := c.call(ctx, api.MethodGetConversation, api.PeerRequest{PeerID: peerID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Forget deletes the stored conversation with peerID.
func (c *Client) Forget(ctx context.Context, peerID string) error {
	return c.call(ctx, api.MethodForget, api.PeerRequest{PeerID: peerID}, nil)
}

func (c *Client) ListConversations(ctx context.Context) (*api.ListConversationsResponse, error) {
	var resp api.ListConversationsResponse
	if err := c.call(ctx, api.MethodListConversations, api.Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.call(ctx, api.MethodStatus, api.Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EventStream receives events from Watch.
type EventStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event.
func (s *EventStream) Recv() (*api.Event, error) {
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	var evt api.Event
	if err := api.Decode(out, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

// Watch streams daemon events until ctx ends. An empty peerID watches every
// conversation. It returns once the daemon is subscribed, so events caused
// by later calls are not missed.
func (c *Client) Watch(ctx context.Context, peerID string) (*EventStream, error) {
	stream, err := c.conn.NewStream(ctx, &api.ServiceDesc.Streams[0], api.FullMethod(api.MethodWatch))
	if err != nil {
		return nil, err
	}
	in, err := api.Encode(api.WatchRequest{PeerID: peerID})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	es := &EventStream{stream: stream}
	ready, err := es.Recv()
	if err != nil {
		return nil, err
	}
	if ready.Kind != api.KindWatchReady {
		return nil, fmt.Errorf("watch: unexpected first event %q", ready.Kind)
	}
	return es, nil
}
