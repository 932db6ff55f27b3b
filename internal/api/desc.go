package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "shopchat.v1.ChatService"

// Method names of the chat service.
const (
	MethodOpen              = "Open"
	MethodSendText          = "SendText"
	MethodSendImage         = "SendImage"
	MethodTyping            = "Typing"
	MethodDeleteMessage     = "DeleteMessage"
	MethodClose             = "Close"
	MethodGetConversation   = "GetConversation"
	MethodForget            = "Forget"
	MethodListConversations = "ListConversations"
	MethodStatus            = "Status"
	MethodWatch             = "Watch"
)

// FullMethod returns the gRPC path of a method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ChatServiceServer is the server API. Requests and responses travel as
// google.protobuf.Struct; see types.go for their shapes.
type ChatServiceServer interface {
	Open(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendText(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendImage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Typing(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Close(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Forget(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListConversations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStream) error
}

type unaryCall func(ChatServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ChatServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ChatServiceServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ChatServiceServer).Watch(in, stream)
}

// ServiceDesc describes the chat service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodOpen, ChatServiceServer.Open),
		unary(MethodSendText, ChatServiceServer.SendText),
		unary(MethodSendImage, ChatServiceServer.SendImage),
		unary(MethodTyping, ChatServiceServer.Typing),
		unary(MethodDeleteMessage, ChatServiceServer.DeleteMessage),
		unary(MethodClose, ChatServiceServer.Close),
		unary(MethodGetConversation, ChatServiceServer.GetConversation),
		unary(MethodForget, ChatServiceServer.Forget),
		unary(MethodListConversations, ChatServiceServer.ListConversations),
		unary(MethodStatus, ChatServiceServer.Status),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatch,
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "shopchat/v1/chat.proto",
}

// RegisterChatServiceServer registers srv on s.
func RegisterChatServiceServer(s grpc.ServiceRegistrar, srv ChatServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
