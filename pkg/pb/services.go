package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Full method names.
const (
	Runner_StartJob_FullMethodName  = "/runner.Runner/StartJob"
	Runner_StopJob_FullMethodName   = "/runner.Runner/StopJob"
	Runner_QueryJob_FullMethodName  = "/runner.Runner/QueryJob"
	Runner_StreamJob_FullMethodName = "/runner.Runner/StreamJob"

	CertificateAuthority_GetRootCertificate_FullMethodName = "/certificate_authority.CertificateAuthority/GetRootCertificate"
	CertificateAuthority_SignCertificate_FullMethodName    = "/certificate_authority.CertificateAuthority/SignCertificate"
)

// RunnerServer is the server API for the runner.Runner service.
type RunnerServer interface {
	StartJob(context.Context, *StartJobRequest) (*StartJobResponse, error)
	StopJob(context.Context, *StopJobRequest) (*StopJobResponse, error)
	QueryJob(context.Context, *QueryJobRequest) (*QueryJobResponse, error)
	StreamJob(*StreamJobRequest, Runner_StreamJobServer) error
}

// Runner_StreamJobServer is the server side stream of StreamJob.
type Runner_StreamJobServer = grpc.ServerStreamingServer[StreamJobResponse]

// UnimplementedRunnerServer can be embedded to have forward compatible
// implementations.
type UnimplementedRunnerServer struct{}

func (UnimplementedRunnerServer) StartJob(context.Context, *StartJobRequest) (*StartJobResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method StartJob not implemented")
}

func (UnimplementedRunnerServer) StopJob(context.Context, *StopJobRequest) (*StopJobResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method StopJob not implemented")
}

func (UnimplementedRunnerServer) QueryJob(context.Context, *QueryJobRequest) (*QueryJobResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method QueryJob not implemented")
}

func (UnimplementedRunnerServer) StreamJob(*StreamJobRequest, Runner_StreamJobServer) error {
	return status.Error(codes.Unimplemented, "method StreamJob not implemented")
}

// RegisterRunnerServer registers the runner.Runner service on a gRPC server.
func RegisterRunnerServer(s grpc.ServiceRegistrar, srv RunnerServer) {
	s.RegisterService(&Runner_ServiceDesc, srv)
}

// RunnerClient is the client API for the runner.Runner service.
type RunnerClient interface {
	StartJob(ctx context.Context, in *StartJobRequest, opts ...grpc.CallOption) (*StartJobResponse, error)
	StopJob(ctx context.Context, in *StopJobRequest, opts ...grpc.CallOption) (*StopJobResponse, error)
	QueryJob(ctx context.Context, in *QueryJobRequest, opts ...grpc.CallOption) (*QueryJobResponse, error)
	StreamJob(ctx context.Context, in *StreamJobRequest, opts ...grpc.CallOption) (Runner_StreamJobClient, error)
}

// Runner_StreamJobClient is the client side stream of StreamJob.
type Runner_StreamJobClient = grpc.ServerStreamingClient[StreamJobResponse]

type runnerClient struct{ cc grpc.ClientConnInterface }

// NewRunnerClient creates a runner.Runner client on cc. The connection must
// use [DialOption].
func NewRunnerClient(cc grpc.ClientConnInterface) RunnerClient { return &runnerClient{cc: cc} }

func (c *runnerClient) StartJob(ctx context.Context, in *StartJobRequest, opts ...grpc.CallOption) (*StartJobResponse, error) {
	out := new(StartJobResponse)
	if err := c.cc.Invoke(ctx, Runner_StartJob_FullMethodName, in, out, opts...); err != nil {
		return nil, err //nolint:wrapcheck // status errors are passed through.
	}
	return out, nil
}

func (c *runnerClient) StopJob(ctx context.Context, in *StopJobRequest, opts ...grpc.CallOption) (*StopJobResponse, error) {
	out := new(StopJobResponse)
	if err := c.cc.Invoke(ctx, Runner_StopJob_FullMethodName, in, out, opts...); err != nil {
		return nil, err //nolint:wrapcheck // status errors are passed through.
	}
	return out, nil
}

func (c *runnerClient) QueryJob(ctx context.Context, in *QueryJobRequest, opts ...grpc.CallOption) (*QueryJobResponse, error) {
	out := new(QueryJobResponse)
	if err := c.cc.Invoke(ctx, Runner_QueryJob_FullMethodName, in, out, opts...); err != nil {
		return nil, err //nolint:wrapcheck // status errors are passed through.
	}
	return out, nil
}

func (c *runnerClient) StreamJob(ctx context.Context, in *StreamJobRequest, opts ...grpc.CallOption) (Runner_StreamJobClient, error) {
	stream, err := c.cc.NewStream(ctx, &Runner_ServiceDesc.Streams[0], Runner_StreamJob_FullMethodName, opts...)
	if err != nil {
		return nil, err //nolint:wrapcheck // status errors are passed through.
	}
	x := &grpc.GenericClientStream[StreamJobRequest, StreamJobResponse]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err //nolint:wrapcheck // status errors are passed through.
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err //nolint:wrapcheck // status errors are passed through.
	}
	return x, nil
}

func _Runner_StartJob_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StartJobRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RunnerServer).StartJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Runner_StartJob_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RunnerServer).StartJob(ctx, req.(*StartJobRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Runner_StopJob_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StopJobRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RunnerServer).StopJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Runner_StopJob_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RunnerServer).StopJob(ctx, req.(*StopJobRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Runner_QueryJob_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(QueryJobRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RunnerServer).QueryJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Runner_QueryJob_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RunnerServer).QueryJob(ctx, req.(*QueryJobRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Runner_StreamJob_Handler(srv any, stream grpc.ServerStream) error {
	m := new(StreamJobRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(RunnerServer).StreamJob(m, &grpc.GenericServerStream[StreamJobRequest, StreamJobResponse]{ServerStream: stream})
}

// Runner_ServiceDesc is the grpc.ServiceDesc for the runner.Runner service.
var Runner_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "runner.Runner",
	HandlerType: (*RunnerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartJob", Handler: _Runner_StartJob_Handler},
		{MethodName: "StopJob", Handler: _Runner_StopJob_Handler},
		{MethodName: "QueryJob", Handler: _Runner_QueryJob_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamJob", Handler: _Runner_StreamJob_Handler, ServerStreams: true},
	},
	Metadata: "runner.proto",
}

// CertificateAuthorityServer is the server API for the
// certificate_authority.CertificateAuthority service.
type CertificateAuthorityServer interface {
	GetRootCertificate(context.Context, *GetRootCertificateRequest) (*GetRootCertificateResponse, error)
	SignCertificate(context.Context, *SignCertificateRequest) (*SignCertificateResponse, error)
}

// UnimplementedCertificateAuthorityServer can be embedded to have forward
// compatible implementations.
type UnimplementedCertificateAuthorityServer struct{}

func (UnimplementedCertificateAuthorityServer) GetRootCertificate(context.Context, *GetRootCertificateRequest) (*GetRootCertificateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetRootCertificate not implemented")
}

func (UnimplementedCertificateAuthorityServer) SignCertificate(context.Context, *SignCertificateRequest) (*SignCertificateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SignCertificate not implemented")
}

// RegisterCertificateAuthorityServer registers the
// certificate_authority.CertificateAuthority service on a gRPC server.
func RegisterCertificateAuthorityServer(s grpc.ServiceRegistrar, srv CertificateAuthorityServer) {
	s.RegisterService(&CertificateAuthority_ServiceDesc, srv)
}

// CertificateAuthorityClient is the client API for the
// certificate_authority.CertificateAuthority service.
type CertificateAuthorityClient interface {
	GetRootCertificate(ctx context.Context, in *GetRootCertificateRequest, opts ...grpc.CallOption) (*GetRootCertificateResponse, error)
	SignCertificate(ctx context.Context, in *SignCertificateRequest, opts ...grpc.CallOption) (*SignCertificateResponse, error)
}

type certificateAuthorityClient struct{ cc grpc.ClientConnInterface }

// NewCertificateAuthorityClient creates a
// certificate_authority.CertificateAuthority client on cc. The connection
// must use [DialOption].
func NewCertificateAuthorityClient(cc grpc.ClientConnInterface) CertificateAuthorityClient {
	return &certificateAuthorityClient{cc: cc}
}

func (c *certificateAuthorityClient) GetRootCertificate(ctx context.Context, in *GetRootCertificateRequest, opts ...grpc.CallOption) (*GetRootCertificateResponse, error) {
	out := new(GetRootCertificateResponse)
	if err := c.cc.Invoke(ctx, CertificateAuthority_GetRootCertificate_FullMethodName, in, out, opts...); err != nil {
		return nil, err //nolint:wrapcheck // status errors are passed through.
	}
	return out, nil
}

func (c *certificateAuthorityClient) SignCertificate(ctx context.Context, in *SignCertificateRequest, opts ...grpc.CallOption) (*SignCertificateResponse, error) {
	out := new(SignCertificateResponse)
	if err := c.cc.Invoke(ctx, CertificateAuthority_SignCertificate_FullMethodName, in, out, opts...); err != nil {
		return nil, err //nolint:wrapcheck // status errors are passed through.
	}
	return out, nil
}

func _CertificateAuthority_GetRootCertificate_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetRootCertificateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CertificateAuthorityServer).GetRootCertificate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CertificateAuthority_GetRootCertificate_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CertificateAuthorityServer).GetRootCertificate(ctx, req.(*GetRootCertificateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _CertificateAuthority_SignCertificate_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SignCertificateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CertificateAuthorityServer).SignCertificate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CertificateAuthority_SignCertificate_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CertificateAuthorityServer).SignCertificate(ctx, req.(*SignCertificateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// CertificateAuthority_ServiceDesc is the grpc.ServiceDesc for the
// certificate_authority.CertificateAuthority service.
var CertificateAuthority_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "certificate_authority.CertificateAuthority",
	HandlerType: (*CertificateAuthorityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetRootCertificate", Handler: _CertificateAuthority_GetRootCertificate_Handler},
		{MethodName: "SignCertificate", Handler: _CertificateAuthority_SignCertificate_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "certificate_authority.proto",
}
