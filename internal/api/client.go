package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a typed stub for ChatService.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string, opts ...grpc.DialOption) (*Client, error) {
	return NewClient("unix://"+socketPath, opts...)
}

// NewClient creates a client for target. Transport security defaults to
// insecure; the socket is owner-only.
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	in, err := encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return err
	}
	return decode(out, resp)
}

func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	resp := new(StatusResponse)
	return resp, c.invoke(ctx, "GetStatus", &Empty{}, resp)
}

func (c *Client) Login(ctx context.Context, token, userID string) (*LoginResponse, error) {
	resp := new(LoginResponse)
	return resp, c.invoke(ctx, "Login", &LoginRequest{Token: token, UserID: userID}, resp)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.invoke(ctx, "Logout", &Empty{}, &Empty{})
}

func (c *Client) Connect(ctx context.Context) (*StatusResponse, error) {
	resp := new(StatusResponse)
	return resp, c.invoke(ctx, "Connect", &Empty{}, resp)
}

func (c *Client) Disconnect(ctx context.Context) (*StatusResponse, error) {
	resp := new(StatusResponse)
	return resp, c.invoke(ctx, "Disconnect", &Empty{}, resp)
}

func (c *Client) ListConversations(ctx context.Context, refresh bool) (*ConversationsResponse, error) {
	resp := new(ConversationsResponse)
	return resp, c.invoke(ctx, "ListConversations", &ListConversationsRequest{Refresh: refresh}, resp)
}

func (c *Client) StartConversation(ctx context.Context, userID, name string) (*ConversationResponse, error) {
	resp := new(ConversationResponse)
	return resp, c.invoke(ctx, "StartConversation", &StartConversationRequest{UserID: userID, Name: name}, resp)
}

func (c *Client) OpenConversation(ctx context.Context, chatID string) (*MessagesResponse, error) {
	resp := new(MessagesResponse)
	return resp, c.invoke(ctx, "OpenConversation", &OpenConversationRequest{ChatID: chatID}, resp)
}

func (c *Client) LoadMore(ctx context.Context) (*MessagesResponse, error) {
	resp := new(MessagesResponse)
	return resp, c.invoke(ctx, "LoadMore", &Empty{}, resp)
}

func (c *Client) ListMessages(ctx context.Context) (*MessagesResponse, error) {
	resp := new(MessagesResponse)
	return resp, c.invoke(ctx, "ListMessages", &Empty{}, resp)
}

func (c *Client) SendMessage(ctx context.Context, req *SendMessageRequest) (*MessageResponse, error) {
	resp := new(MessageResponse)
	return resp, c.invoke(ctx, "SendMessage", req, resp)
}

func (c *Client) UploadMedia(ctx context.Context, req *UploadMediaRequest) (*UploadMediaResponse, error) {
	resp := new(UploadMediaResponse)
	return resp, c.invoke(ctx, "UploadMedia", req, resp)
}

func (c *Client) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	resp := new(SearchResponse)
	return resp, c.invoke(ctx, "Search", req, resp)
}

func (c *Client) OnlineStatus(ctx context.Context, userID string) (*OnlineStatusResponse, error) {
	resp := new(OnlineStatusResponse)
	return resp, c.invoke(ctx, "OnlineStatus", &OnlineStatusRequest{UserID: userID}, resp)
}

// WatchEvents streams daemon events until ctx is cancelled.
func (c *Client) WatchEvents(ctx context.Context, namespaces ...string) (*EventReceiver, error) {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/WatchEvents")
	if err != nil {
		return nil, err
	}
	in, err := encode(&WatchRequest{Namespaces: namespaces})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventReceiver{stream: stream}, nil
}

// EventReceiver is the client side of WatchEvents.
type EventReceiver struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event. It returns io.EOF when the server ends the
// stream.
func (r *EventReceiver) Recv() (*Event, error) {
	out := new(structpb.Struct)
	if err := r.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	e := new(Event)
	if err := decode(out, e); err != nil {
		return nil, err
	}
	return e, nil
}
