package proto

import (
	"context"

	"google.golang.org/grpc"
)

// ChannelHubClient is the client API for the ChannelHub service.
type ChannelHubClient interface {
	Session(ctx context.Context, opts ...grpc.CallOption) (ChannelHub_SessionClient, error)
}

type channelHubClient struct {
	cc grpc.ClientConnInterface
}

// NewChannelHubClient wraps cc as a ChannelHubClient.
func NewChannelHubClient(cc grpc.ClientConnInterface) ChannelHubClient {
	return &channelHubClient{cc: cc}
}

func (c *channelHubClient) Session(ctx context.Context, opts ...grpc.CallOption) (ChannelHub_SessionClient, error) {
	cOpts := append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ChannelHub_ServiceDesc.Streams[0], ChannelHub_Session_FullMethodName, cOpts...)
	if err != nil {
		return nil, err
	}
	return &channelHubSessionClient{ClientStream: stream}, nil
}

// ChannelHub_SessionClient is the client side of the Session stream.
type ChannelHub_SessionClient interface {
	Send(*Envelope) error
	Recv() (*Envelope, error)
	grpc.ClientStream
}

type channelHubSessionClient struct {
	grpc.ClientStream
}

func (x *channelHubSessionClient) Send(m *Envelope) error {
	return x.ClientStream.SendMsg(m)
}

func (x *channelHubSessionClient) Recv() (*Envelope, error) {
	m := new(Envelope)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
