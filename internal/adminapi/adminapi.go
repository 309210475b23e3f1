// Package adminapi exposes a small gRPC side-channel for operational
// control of the broker (spec SPEC_FULL.md Supplemented Features):
// listing connected clients and driving system_set_primary_client /
// system_toggle_io_client from outside the wire protocol, for use by a
// session-manager or compositor-shell process.
//
// There is no .proto file in this tree: the request/reply shapes are
// built from google.golang.org/protobuf's well-known structpb/emptypb
// messages and registered against a hand-authored grpc.ServiceDesc,
// avoiding protoc-generated descriptor bytes that nothing here can
// regenerate.
package adminapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xrbroker/xrbrokerd/internal/broker/arbiter"
	"github.com/xrbroker/xrbrokerd/internal/broker/handlers"
	"github.com/xrbroker/xrbrokerd/internal/broker/session"
	"github.com/xrbroker/xrbrokerd/internal/logger"
)

// Server implements the admin RPCs against a live broker and arbiter.
type Server struct {
	Broker  *handlers.Broker
	Arbiter *arbiter.Arbiter
}

// GetClients lists the ID of every connected client as a number value in a
// structpb.ListValue (avoids a hand-rolled message type).
func (s *Server) GetClients(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	ids := s.Arbiter.GetClients()
	values := make([]*structpb.Value, 0, len(ids))
	for _, id := range ids {
		values = append(values, structpb.NewNumberValue(float64(id)))
	}
	return &structpb.ListValue{Values: values}, nil
}

// SetPrimaryClient forces the named client ID to become primary (mirrors
// system_set_primary_client, spec §4.E.6).
func (s *Server) SetPrimaryClient(ctx context.Context, req *structpb.Value) (*emptypb.Empty, error) {
	id := session.ClientID(req.GetNumberValue())
	if err := s.Arbiter.SetPrimaryClient(ctx, id); err != nil {
		return nil, err
	}
	logger.Info(ctx, "admin api: set primary client", "client_id", id)
	return &emptypb.Empty{}, nil
}

// ToggleIOClient flips the named client's global input gate.
func (s *Server) ToggleIOClient(ctx context.Context, req *structpb.Value) (*emptypb.Empty, error) {
	id := session.ClientID(req.GetNumberValue())
	client, ok := s.Broker.FindClient(id)
	if !ok {
		return nil, grpcNotFound("unknown client")
	}
	client.SetIOActive(!client.GetIOActive())
	return &emptypb.Empty{}, nil
}

// ServiceDesc is the hand-authored description standing in for what protoc
// would normally generate from a .proto file. Method names match the
// Server methods above; grpc dispatches by method name at the HTTP/2
// :path header, not by reflection over the descriptor, so this works
// without any generated stub code.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "xrbrokerd.admin.v1.AdminService",
	HandlerType: (*adminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetClients", Handler: getClientsHandler},
		{MethodName: "SetPrimaryClient", Handler: setPrimaryClientHandler},
		{MethodName: "ToggleIOClient", Handler: toggleIOClientHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "xrbrokerd/admin.proto",
}

// adminServer is the minimal interface grpc.ServiceDesc's HandlerType
// needs; Server satisfies it structurally.
type adminServer interface {
	GetClients(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	SetPrimaryClient(context.Context, *structpb.Value) (*emptypb.Empty, error)
	ToggleIOClient(context.Context, *structpb.Value) (*emptypb.Empty, error)
}

func getClientsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(adminServer).GetClients(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/xrbrokerd.admin.v1.AdminService/GetClients"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(adminServer).GetClients(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func setPrimaryClientHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(adminServer).SetPrimaryClient(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/xrbrokerd.admin.v1.AdminService/SetPrimaryClient"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(adminServer).SetPrimaryClient(ctx, req.(*structpb.Value))
	}
	return interceptor(ctx, in, info, handler)
}

func toggleIOClientHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(adminServer).ToggleIOClient(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/xrbrokerd.admin.v1.AdminService/ToggleIOClient"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(adminServer).ToggleIOClient(ctx, req.(*structpb.Value))
	}
	return interceptor(ctx, in, info, handler)
}

func grpcNotFound(msg string) error {
	return status.Error(codes.NotFound, msg)
}

// Register attaches the admin service to a *grpc.Server.
func Register(gs *grpc.Server, s *Server) {
	gs.RegisterService(&ServiceDesc, s)
}
