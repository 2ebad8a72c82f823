// Unary admin surface for fleetctl: submit a job, check its status, list
// pools. Hand-maintained in the same style as service.go/client.go — no
// protoc step, a plain grpc.ServiceDesc standing in for a generated
// *_grpc.pb.go. Kept separate from ChannelHub, which is worker-facing only.
package proto

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SubmitJobRequest describes a job to enqueue.
type SubmitJobRequest struct {
	ID           string
	Name         string
	Command      []string
	Script       string
	Priority     int32
	Requirements map[string]string
	Labels       map[string]string
	Deadline     time.Time
	MaxRetries   int32
}

// SubmitJobResponse reports the outcome of a SubmitJob call.
type SubmitJobResponse struct {
	Accepted  bool
	Reason    string
	QueueSize int32
}

// GetJobRequest asks for one job's current state.
type GetJobRequest struct {
	ID string
}

// JobInfo is a job's externally visible state.
type JobInfo struct {
	ID        string
	Name      string
	Status    string
	CreatedAt time.Time
}

// GetJobResponse carries the job found, if any.
type GetJobResponse struct {
	Job *JobInfo
}

// CreatePoolRequest describes a pool to create, the wire shape fleetctl
// apply sends after parsing a YAML pool manifest.
type CreatePoolRequest struct {
	Name         string
	ProviderName string
	Image        string
	CPU          string
	Memory       string
	Env          map[string]string
	NodeSelector map[string]string
	Min          int32
	Max          int32
	UpThreshold  float64
	DownThreshold float64
}

// CreatePoolResponse reports the outcome of a CreatePool call.
type CreatePoolResponse struct {
	Accepted bool
	Reason   string
	Pool     *PoolInfo
}

// ListPoolsRequest has no fields; reserved for future filtering.
type ListPoolsRequest struct{}

// PoolInfo summarizes one pool for display.
type PoolInfo struct {
	ID          string
	Name        string
	Status      string
	DesiredSize int32
	ReadyCount  int32
	BusyCount   int32
}

// ListPoolsResponse carries every known pool.
type ListPoolsResponse struct {
	Pools []*PoolInfo
}

// AdminAPIServer is implemented by the orchestrator to serve fleetctl.
type AdminAPIServer interface {
	SubmitJob(context.Context, *SubmitJobRequest) (*SubmitJobResponse, error)
	GetJob(context.Context, *GetJobRequest) (*GetJobResponse, error)
	CreatePool(context.Context, *CreatePoolRequest) (*CreatePoolResponse, error)
	ListPools(context.Context, *ListPoolsRequest) (*ListPoolsResponse, error)
}

// UnimplementedAdminAPIServer must be embedded by implementations that want
// forward compatibility with future methods.
type UnimplementedAdminAPIServer struct{}

func (UnimplementedAdminAPIServer) SubmitJob(context.Context, *SubmitJobRequest) (*SubmitJobResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method SubmitJob not implemented")
}

func (UnimplementedAdminAPIServer) GetJob(context.Context, *GetJobRequest) (*GetJobResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetJob not implemented")
}

func (UnimplementedAdminAPIServer) CreatePool(context.Context, *CreatePoolRequest) (*CreatePoolResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method CreatePool not implemented")
}

func (UnimplementedAdminAPIServer) ListPools(context.Context, *ListPoolsRequest) (*ListPoolsResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ListPools not implemented")
}

func _AdminAPI_SubmitJob_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SubmitJobRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminAPIServer).SubmitJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AdminAPI_SubmitJob_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminAPIServer).SubmitJob(ctx, req.(*SubmitJobRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AdminAPI_GetJob_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetJobRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminAPIServer).GetJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AdminAPI_GetJob_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminAPIServer).GetJob(ctx, req.(*GetJobRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AdminAPI_CreatePool_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CreatePoolRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminAPIServer).CreatePool(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AdminAPI_CreatePool_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminAPIServer).CreatePool(ctx, req.(*CreatePoolRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AdminAPI_ListPools_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListPoolsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminAPIServer).ListPools(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AdminAPI_ListPools_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminAPIServer).ListPools(ctx, req.(*ListPoolsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

const (
	AdminAPI_SubmitJob_FullMethodName  = "/fleetforge.AdminAPI/SubmitJob"
	AdminAPI_GetJob_FullMethodName     = "/fleetforge.AdminAPI/GetJob"
	AdminAPI_CreatePool_FullMethodName = "/fleetforge.AdminAPI/CreatePool"
	AdminAPI_ListPools_FullMethodName  = "/fleetforge.AdminAPI/ListPools"
)

// AdminAPI_ServiceDesc is the grpc.ServiceDesc for the AdminAPI service.
var AdminAPI_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "fleetforge.AdminAPI",
	HandlerType: (*AdminAPIServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitJob", Handler: _AdminAPI_SubmitJob_Handler},
		{MethodName: "GetJob", Handler: _AdminAPI_GetJob_Handler},
		{MethodName: "CreatePool", Handler: _AdminAPI_CreatePool_Handler},
		{MethodName: "ListPools", Handler: _AdminAPI_ListPools_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "adminapi.proto",
}

// RegisterAdminAPIServer registers srv with s under the AdminAPI service name.
func RegisterAdminAPIServer(s grpc.ServiceRegistrar, srv AdminAPIServer) {
	s.RegisterService(&AdminAPI_ServiceDesc, srv)
}

// AdminAPIClient is the client API for the AdminAPI service.
type AdminAPIClient interface {
	SubmitJob(ctx context.Context, in *SubmitJobRequest, opts ...grpc.CallOption) (*SubmitJobResponse, error)
	GetJob(ctx context.Context, in *GetJobRequest, opts ...grpc.CallOption) (*GetJobResponse, error)
	CreatePool(ctx context.Context, in *CreatePoolRequest, opts ...grpc.CallOption) (*CreatePoolResponse, error)
	ListPools(ctx context.Context, in *ListPoolsRequest, opts ...grpc.CallOption) (*ListPoolsResponse, error)
}

type adminAPIClient struct {
	cc grpc.ClientConnInterface
}

// NewAdminAPIClient wraps cc as an AdminAPIClient.
func NewAdminAPIClient(cc grpc.ClientConnInterface) AdminAPIClient {
	return &adminAPIClient{cc: cc}
}

func (c *adminAPIClient) SubmitJob(ctx context.Context, in *SubmitJobRequest, opts ...grpc.CallOption) (*SubmitJobResponse, error) {
	out := new(SubmitJobResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, AdminAPI_SubmitJob_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminAPIClient) GetJob(ctx context.Context, in *GetJobRequest, opts ...grpc.CallOption) (*GetJobResponse, error) {
	out := new(GetJobResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, AdminAPI_GetJob_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminAPIClient) CreatePool(ctx context.Context, in *CreatePoolRequest, opts ...grpc.CallOption) (*CreatePoolResponse, error) {
	out := new(CreatePoolResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, AdminAPI_CreatePool_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminAPIClient) ListPools(ctx context.Context, in *ListPoolsRequest, opts ...grpc.CallOption) (*ListPoolsResponse, error) {
	out := new(ListPoolsResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, AdminAPI_ListPools_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
