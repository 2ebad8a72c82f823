package proto

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ChannelHub_Session_FullMethodName is the RPC path dialed/registered for
// the bidirectional worker session stream.
const ChannelHub_Session_FullMethodName = "/fleetforge.ChannelHub/Session"

// ChannelHubServer is implemented by the Worker Channel Hub.
type ChannelHubServer interface {
	// Session is one long-lived bidirectional stream per worker, carrying
	// every logical interaction multiplexed over Envelope (SPEC_FULL.md S4.4).
	Session(ChannelHub_SessionServer) error
}

// UnimplementedChannelHubServer must be embedded by implementations that
// want forward compatibility with future methods.
type UnimplementedChannelHubServer struct{}

func (UnimplementedChannelHubServer) Session(ChannelHub_SessionServer) error {
	return status.Errorf(codes.Unimplemented, "method Session not implemented")
}

// ChannelHub_SessionServer is the server side of the Session stream.
type ChannelHub_SessionServer interface {
	Send(*Envelope) error
	Recv() (*Envelope, error)
	grpc.ServerStream
}

type channelHubSessionServer struct {
	grpc.ServerStream
}

func (x *channelHubSessionServer) Send(m *Envelope) error {
	return x.ServerStream.SendMsg(m)
}

func (x *channelHubSessionServer) Recv() (*Envelope, error) {
	m := new(Envelope)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _ChannelHub_Session_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ChannelHubServer).Session(&channelHubSessionServer{ServerStream: stream})
}

// ChannelHub_ServiceDesc is the grpc.ServiceDesc for the ChannelHub
// service. Hand-maintained: there is no .proto/protoc step in this build
// (SPEC_FULL.md S4.4), so this plays the role a generated *_grpc.pb.go
// would.
var ChannelHub_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "fleetforge.ChannelHub",
	HandlerType: (*ChannelHubServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Session",
			Handler:       _ChannelHub_Session_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "channelhub.proto",
}

// RegisterChannelHubServer registers srv with s under the ChannelHub
// service name.
func RegisterChannelHubServer(s grpc.ServiceRegistrar, srv ChannelHubServer) {
	s.RegisterService(&ChannelHub_ServiceDesc, srv)
}
