package grpchome

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the gRPC service implemented by a home.
//
// Every message is a protobuf BytesValue so this package does not require a
// protoc/codegen toolchain. Unary payloads and the first message of each
// stream carry JSON; later messages on Call and Answer carry raw application
// frames.
const ServiceName = "mercury.home.v1.Home"

// HomeServer is the server API for the Home gRPC service.
type HomeServer interface {
	Load(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Claim(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Register(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Login(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Logout(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	PairRequest(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	PairResponse(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Update(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Unregister(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Ping(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)

	Events(*wrapperspb.BytesValue, grpc.ServerStream) error
	CheckinApp(*wrapperspb.BytesValue, grpc.ServerStream) error
	Call(grpc.ServerStream) error
	Answer(grpc.ServerStream) error
}

// UnimplementedHomeServer can be embedded to have forward compatible implementations.
type UnimplementedHomeServer struct{}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func (UnimplementedHomeServer) Load(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("Load")
}
func (UnimplementedHomeServer) Claim(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("Claim")
}
func (UnimplementedHomeServer) Register(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("Register")
}
func (UnimplementedHomeServer) Login(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("Login")
}
func (UnimplementedHomeServer) Logout(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("Logout")
}
func (UnimplementedHomeServer) PairRequest(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("PairRequest")
}
func (UnimplementedHomeServer) PairResponse(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("PairResponse")
}
func (UnimplementedHomeServer) Update(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("Update")
}
func (UnimplementedHomeServer) Unregister(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("Unregister")
}
func (UnimplementedHomeServer) Ping(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("Ping")
}
func (UnimplementedHomeServer) Events(*wrapperspb.BytesValue, grpc.ServerStream) error {
	return unimplemented("Events")
}
func (UnimplementedHomeServer) CheckinApp(*wrapperspb.BytesValue, grpc.ServerStream) error {
	return unimplemented("CheckinApp")
}
func (UnimplementedHomeServer) Call(grpc.ServerStream) error   { return unimplemented("Call") }
func (UnimplementedHomeServer) Answer(grpc.ServerStream) error { return unimplemented("Answer") }

// RegisterHomeServer registers the Home service on a gRPC server.
func RegisterHomeServer(s grpc.ServiceRegistrar, srv HomeServer) {
	s.RegisterService(&Home_ServiceDesc, srv)
}

type unaryMethod func(HomeServer, context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)

func unaryHandler(name string, m unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(wrapperspb.BytesValue)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return m(srv.(HomeServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return m(srv.(HomeServer), ctx, req.(*wrapperspb.BytesValue))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func _Home_Events_Handler(srv interface{}, stream grpc.ServerStream) error {
	in := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(HomeServer).Events(in, stream)
}

func _Home_CheckinApp_Handler(srv interface{}, stream grpc.ServerStream) error {
	in := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(HomeServer).CheckinApp(in, stream)
}

func _Home_Call_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(HomeServer).Call(stream)
}

func _Home_Answer_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(HomeServer).Answer(stream)
}

// Home_ServiceDesc is the grpc.ServiceDesc for the Home service.
var Home_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HomeServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Load", HomeServer.Load),
		unaryHandler("Claim", HomeServer.Claim),
		unaryHandler("Register", HomeServer.Register),
		unaryHandler("Login", HomeServer.Login),
		unaryHandler("Logout", HomeServer.Logout),
		unaryHandler("PairRequest", HomeServer.PairRequest),
		unaryHandler("PairResponse", HomeServer.PairResponse),
		unaryHandler("Update", HomeServer.Update),
		unaryHandler("Unregister", HomeServer.Unregister),
		unaryHandler("Ping", HomeServer.Ping),
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Events", Handler: _Home_Events_Handler, ServerStreams: true},
		{StreamName: "CheckinApp", Handler: _Home_CheckinApp_Handler, ServerStreams: true},
		{StreamName: "Call", Handler: _Home_Call_Handler, ServerStreams: true, ClientStreams: true},
		{StreamName: "Answer", Handler: _Home_Answer_Handler, ServerStreams: true, ClientStreams: true},
	},
	Metadata: "home.proto",
}

// Stream descriptors by name, for clients.
var (
	eventsStreamDesc     = &Home_ServiceDesc.Streams[0]
	checkinAppStreamDesc = &Home_ServiceDesc.Streams[1]
	callStreamDesc       = &Home_ServiceDesc.Streams[2]
	answerStreamDesc     = &Home_ServiceDesc.Streams[3]
)

func method(name string) string { return "/" + ServiceName + "/" + name }

// HomeClient is the client API for the Home gRPC service.
type HomeClient interface {
	Unary(ctx context.Context, name string, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Events(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (grpc.ClientStream, error)
	CheckinApp(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (grpc.ClientStream, error)
	Call(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStream, error)
	Answer(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStream, error)
}

type homeClient struct{ cc grpc.ClientConnInterface }

func NewHomeClient(cc grpc.ClientConnInterface) HomeClient { return &homeClient{cc: cc} }

func (c *homeClient) Unary(ctx context.Context, name string, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, method(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *homeClient) serverStream(ctx context.Context, desc *grpc.StreamDesc, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	stream, err := c.cc.NewStream(ctx, desc, method(desc.StreamName), opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return stream, nil
}

func (c *homeClient) Events(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return c.serverStream(ctx, eventsStreamDesc, in, opts...)
}

func (c *homeClient) CheckinApp(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return c.serverStream(ctx, checkinAppStreamDesc, in, opts...)
}

func (c *homeClient) Call(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return c.cc.NewStream(ctx, callStreamDesc, method(callStreamDesc.StreamName), opts...)
}

func (c *homeClient) Answer(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return c.cc.NewStream(ctx, answerStreamDesc, method(answerStreamDesc.StreamName), opts...)
}
