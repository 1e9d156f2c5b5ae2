package grpcx

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

var RelayAdminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelayAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Stats", Handler: statsHandler},
		{MethodName: "Room", Handler: structHandler("Room", RelayAdminServer.Room)},
		{MethodName: "Notify", Handler: structHandler("Notify", RelayAdminServer.Notify)},
		{MethodName: "Broadcast", Handler: structHandler("Broadcast", RelayAdminServer.Broadcast)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "relay/v1/admin.proto",
}

func statsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RelayAdminServer).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Stats"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RelayAdminServer).Stats(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

type structMethod func(RelayAdminServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func structHandler(name string, call structMethod) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RelayAdminServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RelayAdminServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Client: тонкий клиент RelayAdmin для CLI и тестов.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Stats(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.cc.Invoke(ctx, "/"+ServiceName+"/Stats", new(emptypb.Empty), out, opts...)
	return out, err
}

func (c *Client) Room(ctx context.Context, consultationID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"consultationId": consultationID})
	if err != nil {
		return nil, err
	}
	return c.call(ctx, "Room", in, opts...)
}

func (c *Client) Notify(ctx context.Context, identity string, payload map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"identity": identity, "payload": payload})
	if err != nil {
		return nil, err
	}
	return c.call(ctx, "Notify", in, opts...)
}

func (c *Client) Broadcast(ctx context.Context, payload map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"payload": payload})
	if err != nil {
		return nil, err
	}
	return c.call(ctx, "Broadcast", in, opts...)
}

func (c *Client) call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
	return out, err
}
