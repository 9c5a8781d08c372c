// Package grpcapi exposes kernel sessions as the gRPC service
// cellgate.v1.Kernel.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"github.com/sameehj/cellgate/pkg/kernel"
	"github.com/sameehj/cellgate/pkg/types"
)

const (
	ServiceName = "cellgate.v1.Kernel"
	// SessionHeader selects the session a call runs in. Execute without it gets
	// a fresh session whose ID is returned in the same header.
	SessionHeader = "x-session-id"

	executeMethod = "/" + ServiceName + "/Execute"
	infoMethod    = "/" + ServiceName + "/Info"
	releaseMethod = "/" + ServiceName + "/Release"
)

type ExecuteRequest struct {
	Code         string `json:"code"`
	Silent       bool   `json:"silent,omitempty"`
	StoreHistory bool   `json:"store_history,omitempty"`
}

type ExecuteReply struct {
	SessionID string        `json:"session_id"`
	Outcome   types.Outcome `json:"outcome"`
	Message   string        `json:"message"`
}

type InfoRequest struct{}

// InfoReply describes the caller's session, or only the server when the call
// names no session.
type InfoReply struct {
	Info     kernel.Info `json:"info"`
	Sessions int         `json:"sessions"`
}

type ReleaseRequest struct{}

type ReleaseReply struct {
	Released bool `json:"released"`
}

// KernelServer is the server API of cellgate.v1.Kernel.
type KernelServer interface {
	Execute(context.Context, *ExecuteRequest) (*ExecuteReply, error)
	Info(context.Context, *InfoRequest) (*InfoReply, error)
	Release(context.Context, *ReleaseRequest) (*ReleaseReply, error)
}

func RegisterKernelServer(s grpc.ServiceRegistrar, srv KernelServer) {
	s.RegisterService(&KernelServiceDesc, srv)
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ExecuteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KernelServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(KernelServer).Execute(ctx, req.(*ExecuteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func infoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KernelServer).Info(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: infoMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(KernelServer).Info(ctx, req.(*InfoRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func releaseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ReleaseRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KernelServer).Release(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: releaseMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(KernelServer).Release(ctx, req.(*ReleaseRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// KernelServiceDesc is the grpc.ServiceDesc for cellgate.v1.Kernel.
var KernelServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*KernelServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
		{MethodName: "Info", Handler: infoHandler},
		{MethodName: "Release", Handler: releaseHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cellgate/v1/kernel",
}
