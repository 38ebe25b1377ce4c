package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/broker"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/telemetry"
)

type (
	brokerServer interface {
		invoke(ctx context.Context, in *structpb.Struct) (*structpb.Value, error)
	}

	server struct {
		invoker broker.Invoker
		logger  telemetry.Logger
	}
)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*brokerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "aipp/broker/v1/broker.proto",
}

// Register serves inv on s.
func Register(s grpc.ServiceRegistrar, inv broker.Invoker, tel telemetry.Bundle) {
	s.RegisterService(&serviceDesc, &server{invoker: inv, logger: tel.WithDefaults().Logger})
}

func invokeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(brokerServer)
	if interceptor == nil {
		return s.invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: invokeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.invoke(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func (s *server) invoke(ctx context.Context, in *structpb.Struct) (*structpb.Value, error) {
	gid, fid, args, err := decodeRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	raw, err := s.invoker.Invoke(ctx, gid, fid, args)
	switch {
	case errors.Is(err, broker.ErrNoFitable):
		return nil, status.Error(codes.NotFound, err.Error())
	case err != nil:
		s.logger.Error(ctx, "fitable failed", "genericable_id", gid, "fitable_id", fid, "err", err)
		return nil, status.Error(codes.Unknown, err.Error())
	}
	out, err := encodeResult(raw)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
