// Package api exposes the daemon over gRPC. Requests and responses are
// google.protobuf.Struct messages, so the services are described here by
// hand instead of from generated stubs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/call"
	"github.com/matheus3301/chatsync/internal/transport"
)

const (
	SessionServiceName = "chatsync.v1.SessionService"
	CallServiceName    = "chatsync.v1.CallService"
	MessageServiceName = "chatsync.v1.MessageService"
)

// UnaryHandler serves one request/response method.
type UnaryHandler func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// StreamHandler serves one server-streaming method.
type StreamHandler func(req *structpb.Struct, stream grpc.ServerStream) error

// Service is a gRPC service built from handler tables.
type Service interface {
	Name() string
	Unary() map[string]UnaryHandler
	Streams() map[string]StreamHandler
}

// Register adds svc to the server.
func Register(s grpc.ServiceRegistrar, svc Service) {
	desc := &grpc.ServiceDesc{
		ServiceName: svc.Name(),
		HandlerType: (*Service)(nil),
		Metadata:    "chatsync/v1",
	}
	for name, h := range svc.Unary() {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    unaryHandler(svc.Name()+"/"+name, h),
		})
	}
	for name, h := range svc.Streams() {
		desc.Streams = append(desc.Streams, grpc.StreamDesc{
			StreamName:    name,
			ServerStreams: true,
			Handler: func(_ any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return h(in, stream)
			},
		})
	}
	s.RegisterService(desc, svc)
}

func unaryHandler(method string, h UnaryHandler) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return h(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return h(ctx, req.(*structpb.Struct))
		})
	}
}

// toStruct converts any JSON-encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

// decode fills dst from the request's JSON form.
func decode(req *structpb.Struct, dst any) error {
	b, err := req.MarshalJSON()
	if err != nil {
		return grpcstatus.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return grpcstatus.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}

func str(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func boolean(req *structpb.Struct, key string) bool {
	return req.GetFields()[key].GetBoolValue()
}

func required(req *structpb.Struct, keys ...string) error {
	for _, k := range keys {
		if str(req, k) == "" {
			return grpcstatus.Errorf(codes.InvalidArgument, "%s is required", k)
		}
	}
	return nil
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var me *call.MediaError
	switch {
	case errors.As(err, &me):
		if errors.Is(err, call.ErrPermissionDenied) {
			return grpcstatus.Error(codes.PermissionDenied, err.Error())
		}
		return grpcstatus.Error(codes.Unavailable, err.Error())
	case errors.Is(err, call.ErrBusy):
		return grpcstatus.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, call.ErrNoSession), errors.Is(err, cache.ErrNotFound):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, call.ErrInvalidState), errors.Is(err, cache.ErrNotAllowed), errors.Is(err, cache.ErrNotRetryable):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, cache.ErrEmptyContent):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, transport.ErrNotConnected):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.FromContextError(err).Err()
	}
	return grpcstatus.Error(codes.Internal, fmt.Sprintf("%v", err))
}
