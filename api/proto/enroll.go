// Unary enrollment RPC: the one call the Channel Hub's mTLS listener
// accepts without a client certificate, since a worker or fleetctl needs a
// certificate issued before it can present one. Grounded on the teacher's
// RequestCertificate RPC on WarrenAPI, split into its own small service here
// since this build has no combined WarrenAPI-sized surface to hang it off.
package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// EnrollRequest requests a certificate for a worker or CLI identity.
type EnrollRequest struct {
	EntityType string // "worker" or "cli"
	EntityID   string
	Token      string
}

// EnrollResponse carries the issued identity certificate, its private key,
// and the CA's root certificate, all DER-encoded.
type EnrollResponse struct {
	CertDER []byte
	KeyDER  []byte
	CADER   []byte
}

// EnrollmentServer is implemented by the orchestrator's certificate
// authority front-end.
type EnrollmentServer interface {
	Enroll(context.Context, *EnrollRequest) (*EnrollResponse, error)
}

// UnimplementedEnrollmentServer must be embedded by implementations that
// want forward compatibility with future methods.
type UnimplementedEnrollmentServer struct{}

func (UnimplementedEnrollmentServer) Enroll(context.Context, *EnrollRequest) (*EnrollResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Enroll not implemented")
}

const Enrollment_Enroll_FullMethodName = "/fleetforge.Enrollment/Enroll"

func _Enrollment_Enroll_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(EnrollRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EnrollmentServer).Enroll(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Enrollment_Enroll_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EnrollmentServer).Enroll(ctx, req.(*EnrollRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Enrollment_ServiceDesc is the grpc.ServiceDesc for the Enrollment service.
var Enrollment_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "fleetforge.Enrollment",
	HandlerType: (*EnrollmentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Enroll", Handler: _Enrollment_Enroll_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "enrollment.proto",
}

// RegisterEnrollmentServer registers srv with s under the Enrollment
// service name.
func RegisterEnrollmentServer(s grpc.ServiceRegistrar, srv EnrollmentServer) {
	s.RegisterService(&Enrollment_ServiceDesc, srv)
}

// EnrollmentClient is the client API for the Enrollment service.
type EnrollmentClient interface {
	Enroll(ctx context.Context, in *EnrollRequest, opts ...grpc.CallOption) (*EnrollResponse, error)
}

type enrollmentClient struct {
	cc grpc.ClientConnInterface
}

// NewEnrollmentClient wraps cc as an EnrollmentClient.
func NewEnrollmentClient(cc grpc.ClientConnInterface) EnrollmentClient {
	return &enrollmentClient{cc: cc}
}

func (c *enrollmentClient) Enroll(ctx context.Context, in *EnrollRequest, opts ...grpc.CallOption) (*EnrollResponse, error) {
	out := new(EnrollResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, Enrollment_Enroll_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
