package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "bridge.v1.Bridge"

// BridgeServer is the server API for the bridge service. Requests and
// responses are google.protobuf.Struct documents.
type BridgeServer interface {
	SignRequest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TranslateSubscription(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ParseMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSessionStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(BridgeServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BridgeServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BridgeServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the bridge service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SignRequest", BridgeServer.SignRequest),
		unary("Execute", BridgeServer.Execute),
		unary("TranslateSubscription", BridgeServer.TranslateSubscription),
		unary("ParseMessage", BridgeServer.ParseMessage),
		unary("GetSessionStatus", BridgeServer.GetSessionStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bridge/v1/bridge.proto",
}

// RegisterBridgeServer registers srv with s.
func RegisterBridgeServer(s grpc.ServiceRegistrar, srv BridgeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// loggingInterceptor records method, outcome, and latency. Request bodies
// are never logged.
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("gateway: rpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("elapsed", time.Since(start)),
		)
		return resp, err
	}
}
