package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "pairchat.v1.ChatService"

// ChatServer is the server API for the chat service. Requests and responses
// travel as google.protobuf.Struct.
type ChatServer interface {
	GetStatus(context.Context, *Empty) (*StatusResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	Logout(context.Context, *Empty) (*Empty, error)
	Connect(context.Context, *Empty) (*StatusResponse, error)
	Disconnect(context.Context, *Empty) (*StatusResponse, error)
	ListConversations(context.Context, *ListConversationsRequest) (*ConversationsResponse, error)
	StartConversation(context.Context, *StartConversationRequest) (*ConversationResponse, error)
	OpenConversation(context.Context, *OpenConversationRequest) (*MessagesResponse, error)
	LoadMore(context.Context, *Empty) (*MessagesResponse, error)
	ListMessages(context.Context, *Empty) (*MessagesResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*MessageResponse, error)
	UploadMedia(context.Context, *UploadMediaRequest) (*UploadMediaResponse, error)
	Search(context.Context, *SearchRequest) (*SearchResponse, error)
	OnlineStatus(context.Context, *OnlineStatusRequest) (*OnlineStatusResponse, error)
	WatchEvents(*WatchRequest, EventStream) error
}

// EventStream is the server side of WatchEvents.
type EventStream interface {
	Send(*Event) error
	Context() context.Context
}

// ServiceDesc describes ChatService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", ChatServer.GetStatus),
		unary("Login", ChatServer.Login),
		unary("Logout", ChatServer.Logout),
		unary("Connect", ChatServer.Connect),
		unary("Disconnect", ChatServer.Disconnect),
		unary("ListConversations", ChatServer.ListConversations),
		unary("StartConversation", ChatServer.StartConversation),
		unary("OpenConversation", ChatServer.OpenConversation),
		unary("LoadMore", ChatServer.LoadMore),
		unary("ListMessages", ChatServer.ListMessages),
		unary("SendMessage", ChatServer.SendMessage),
		unary("UploadMedia", ChatServer.UploadMedia),
		unary("Search", ChatServer.Search),
		unary("OnlineStatus", ChatServer.OnlineStatus),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
}

// RegisterChatServer registers srv on s.
func RegisterChatServer(s grpc.ServiceRegistrar, srv ChatServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary[Req, Resp any](method string, call func(ChatServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				r := new(Req)
				if err := decode(req.(*structpb.Struct), r); err != nil {
					return nil, grpcstatus.Errorf(codes.InvalidArgument, "%s: %v", method, err)
				}
				resp, err := call(srv.(ChatServer), ctx, r)
				if err != nil {
					return nil, err
				}
				out, err := encode(resp)
				if err != nil {
					return nil, grpcstatus.Errorf(codes.Internal, "%s: %v", method, err)
				}
				return out, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	req := new(WatchRequest)
	if err := decode(in, req); err != nil {
		return grpcstatus.Errorf(codes.InvalidArgument, "WatchEvents: %v", err)
	}
	return srv.(ChatServer).WatchEvents(req, &eventServerStream{stream})
}

type eventServerStream struct {
	grpc.ServerStream
}

func (s *eventServerStream) Send(e *Event) error {
	out, err := encode(e)
	if err != nil {
		return grpcstatus.Errorf(codes.Internal, "WatchEvents: %v", err)
	}
	return s.ServerStream.SendMsg(out)
}
