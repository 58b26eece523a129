// Package api is the daemon's local control plane: the chatsync.v1.Control
// gRPC service, carried as google.protobuf.Struct and Empty messages.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "chatsync.v1.Control"

// ControlServer is the server API of the control plane.
type ControlServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListConversations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OpenConversation(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Keystroke(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListNotifications(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	DismissNotification(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ListPresence(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, Control_WatchEventsServer) error
}

// Control_WatchEventsServer is the server side of the event stream.
type Control_WatchEventsServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type watchEventsServer struct {
	grpc.ServerStream
}

func (s *watchEventsServer) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ControlServiceDesc, srv)
}

// ControlServiceDesc describes chatsync.v1.Control.
var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: unary("Status", ControlServer.Status)},
		{MethodName: "ListConversations", Handler: unary("ListConversations", ControlServer.ListConversations)},
		{MethodName: "OpenConversation", Handler: unary("OpenConversation", ControlServer.OpenConversation)},
		{MethodName: "ListMessages", Handler: unary("ListMessages", ControlServer.ListMessages)},
		{MethodName: "SearchMessages", Handler: unary("SearchMessages", ControlServer.SearchMessages)},
		{MethodName: "Keystroke", Handler: unary("Keystroke", ControlServer.Keystroke)},
		{MethodName: "SendMessage", Handler: unary("SendMessage", ControlServer.SendMessage)},
		{MethodName: "ListNotifications", Handler: unary("ListNotifications", ControlServer.ListNotifications)},
		{MethodName: "DismissNotification", Handler: unary("DismissNotification", ControlServer.DismissNotification)},
		{MethodName: "ListPresence", Handler: unary("ListPresence", ControlServer.ListPresence)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "chatsync/v1/control.proto",
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// unary adapts a typed server method to a grpc.MethodHandler.
func unary[Req any, P interface {
	*Req
	proto.Message
}, Resp proto.Message](method string, call func(ControlServer, context.Context, P) (Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := P(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServer), ctx, req.(P))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ControlServer).WatchEvents(m, &watchEventsServer{stream})
}

// ControlClient is the client API of the control plane.
type ControlClient struct {
	cc grpc.ClientConnInterface
}

// NewControlClient wraps a connection to the daemon.
func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

func (c *ControlClient) invoke(ctx context.Context, method string, in, out proto.Message, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, fullMethod(method), in, out, opts...)
}

// Control_WatchEventsClient is the client side of the event stream.
type Control_WatchEventsClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type watchEventsClient struct {
	grpc.ClientStream
}

func (x *watchEventsClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *ControlClient) watchEvents(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (Control_WatchEventsClient, error) {
	stream, err := c.cc.NewStream(ctx, &ControlServiceDesc.Streams[0], fullMethod("WatchEvents"), opts...)
	if err != nil {
		return nil, err
	}
	x := &watchEventsClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
