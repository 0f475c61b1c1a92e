// Package grpcnode carries engine requests to ledger nodes over gRPC.
//
// Every node method takes and returns a single bytes value, so the service
// is described by hand with protobuf well-known wrapper types instead of
// generated code. The same descriptor serves the client Transport and the
// simulated node.
package grpcnode

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Handler serves every method of a node service.
type Handler interface {
	// Handle answers one request. A returned error becomes a gRPC status
	// and is seen by clients as a transport failure; precheck codes travel
	// inside the response bytes.
	Handle(ctx context.Context, method string, request []byte) ([]byte, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, method string, request []byte) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, method string, request []byte) ([]byte, error) {
	return f(ctx, method, request)
}

// ServiceDesc describes service with one unary method per name.
func ServiceDesc(service string, methods []string) grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: service,
		HandlerType: (*Handler)(nil),
		Methods:     make([]grpc.MethodDesc, 0, len(methods)),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "node.proto",
	}
	for _, m := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m,
			Handler:    methodHandler(service, m),
		})
	}
	return desc
}

// Register serves methods of service on s through h.
func Register(s grpc.ServiceRegistrar, service string, methods []string, h Handler) {
	desc := ServiceDesc(service, methods)
	s.RegisterService(&desc, h)
}

func methodHandler(service, method string) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + service + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(wrapperspb.BytesValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := func(ctx context.Context, req interface{}) (interface{}, error) {
			out, err := srv.(Handler).Handle(ctx, method, req.(*wrapperspb.BytesValue).GetValue())
			if err != nil {
				return nil, err
			}
			return wrapperspb.Bytes(out), nil
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, call)
	}
}
