package pydpiperpb

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name, matching the
// path segment protoc-gen-go-grpc would derive from a
// "package pydpiper.v1; service SchedulerService" declaration.
const ServiceName = "pydpiper.v1.SchedulerService"

// SchedulerServiceServer is the interface the scheduler's gRPC server
// implements. Every method corresponds one-to-one to a public operation
// of internal/scheduler.Core.
type SchedulerServiceServer interface {
	RegisterExecutor(context.Context, *RegisterExecutorRequest) (*RegisterExecutorReply, error)
	RequestWork(context.Context, *RequestWorkRequest) (*RequestWorkReply, error)
	ReportFinished(context.Context, *ReportFinishedRequest) (*ReportFinishedReply, error)
	ReportFailed(context.Context, *ReportFailedRequest) (*ReportFailedReply, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatReply, error)
	QueryStatus(context.Context, *QueryStatusRequest) (*QueryStatusReply, error)
}

// SchedulerServiceClient is the interface executors and the status CLI
// use to call the scheduler.
type SchedulerServiceClient interface {
	RegisterExecutor(ctx context.Context, in *RegisterExecutorRequest, opts ...grpc.CallOption) (*RegisterExecutorReply, error)
	RequestWork(ctx context.Context, in *RequestWorkRequest, opts ...grpc.CallOption) (*RequestWorkReply, error)
	ReportFinished(ctx context.Context, in *ReportFinishedRequest, opts ...grpc.CallOption) (*ReportFinishedReply, error)
	ReportFailed(ctx context.Context, in *ReportFailedRequest, opts ...grpc.CallOption) (*ReportFailedReply, error)
	Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatReply, error)
	QueryStatus(ctx context.Context, in *QueryStatusRequest, opts ...grpc.CallOption) (*QueryStatusReply, error)
}

type schedulerServiceClient struct {
	cc   grpc.ClientConnInterface
	opts []grpc.CallOption
}

// NewSchedulerServiceClient returns a client bound to cc, always
// negotiating the JSON content-subtype registered by
// internal/rpc/rpccodec so no protobuf codec is required.
func NewSchedulerServiceClient(cc grpc.ClientConnInterface) SchedulerServiceClient {
	return &schedulerServiceClient{
		cc:   cc,
		opts: []grpc.CallOption{grpc.CallContentSubtype("json")},
	}
}

func (c *schedulerServiceClient) callOpts(opts []grpc.CallOption) []grpc.CallOption {
	return append(append([]grpc.CallOption(nil), c.opts...), opts...)
}

func (c *schedulerServiceClient) RegisterExecutor(ctx context.Context, in *RegisterExecutorRequest, opts ...grpc.CallOption) (*RegisterExecutorReply, error) {
	out := new(RegisterExecutorReply)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/RegisterExecutor", in, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *schedulerServiceClient) RequestWork(ctx context.Context, in *RequestWorkRequest, opts ...grpc.CallOption) (*RequestWorkReply, error) {
	out := new(RequestWorkReply)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/RequestWork", in, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *schedulerServiceClient) ReportFinished(ctx context.Context, in *ReportFinishedRequest, opts ...grpc.CallOption) (*ReportFinishedReply, error) {
	out := new(ReportFinishedReply)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/ReportFinished", in, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *schedulerServiceClient) ReportFailed(ctx context.Context, in *ReportFailedRequest, opts ...grpc.CallOption) (*ReportFailedReply, error) {
	out := new(ReportFailedReply)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/ReportFailed", in, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *schedulerServiceClient) Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatReply, error) {
	out := new(HeartbeatReply)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Heartbeat", in, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *schedulerServiceClient) QueryStatus(ctx context.Context, in *QueryStatusRequest, opts ...grpc.CallOption) (*QueryStatusReply, error) {
	out := new(QueryStatusReply)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/QueryStatus", in, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func registerExecutorHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RegisterExecutorRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServiceServer).RegisterExecutor(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/RegisterExecutor"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServiceServer).RegisterExecutor(ctx, req.(*RegisterExecutorRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func requestWorkHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RequestWorkRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServiceServer).RequestWork(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/RequestWork"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServiceServer).RequestWork(ctx, req.(*RequestWorkRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func reportFinishedHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ReportFinishedRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServiceServer).ReportFinished(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ReportFinished"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServiceServer).ReportFinished(ctx, req.(*ReportFinishedRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func reportFailedHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ReportFailedRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServiceServer).ReportFailed(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ReportFailed"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServiceServer).ReportFailed(ctx, req.(*ReportFailedRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func heartbeatHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(HeartbeatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServiceServer).Heartbeat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Heartbeat"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServiceServer).Heartbeat(ctx, req.(*HeartbeatRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func queryStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(QueryStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServiceServer).QueryStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/QueryStatus"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServiceServer).QueryStatus(ctx, req.(*QueryStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// SchedulerServiceServiceDesc is the grpc.ServiceDesc protoc-gen-go-grpc
// would emit for a SchedulerService with these six RPCs. Handed to
// grpc.Server.RegisterService by internal/transport.
var SchedulerServiceServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SchedulerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterExecutor", Handler: registerExecutorHandler},
		{MethodName: "RequestWork", Handler: requestWorkHandler},
		{MethodName: "ReportFinished", Handler: reportFinishedHandler},
		{MethodName: "ReportFailed", Handler: reportFailedHandler},
		{MethodName: "Heartbeat", Handler: heartbeatHandler},
		{MethodName: "QueryStatus", Handler: queryStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pydpiper/v1/scheduler.proto",
}
