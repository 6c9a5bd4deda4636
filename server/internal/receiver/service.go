package receiver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service and method names on the wire.
const (
	ServiceName       = "stockrelay.v1.Ingest"
	PushSessionMethod = "/" + ServiceName + "/PushSession"
)

// IngestServer is the server API for the Ingest service.
type IngestServer interface {
	PushSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the Ingest service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PushSession", Handler: pushSessionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stockrelay/v1/ingest.proto",
}

// Register registers srv on s.
func Register(s grpc.ServiceRegistrar, srv IngestServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func pushSessionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).PushSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PushSessionMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IngestServer).PushSession(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Client is the client API for the Ingest service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// PushSession sends one session batch and returns the summary.
func (c *Client) PushSession(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, PushSessionMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
