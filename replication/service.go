package replication

import (
	"context"

	"google.golang.org/grpc"
)

const (
	InitSyncServiceName = "seriesdb.replication.InitSync"

	fetchSeriesMethod = "/" + InitSyncServiceName + "/FetchSeries"
	highestMethod     = "/" + InitSyncServiceName + "/Highest"
)

// Envelope wraps an encoded initsync request or response.
type Envelope struct {
	Payload []byte `msgpack:"payload"`
}

type HighestRequest struct {
	Database string `msgpack:"database"`
}

type HighestResponse struct {
	Highest uint64 `msgpack:"highest"`
}

// InitSyncServer is the server API of the initial sync service.
type InitSyncServer interface {
	// FetchSeries answers one encoded initsync.Request with an encoded initsync.Response.
	FetchSeries(ctx context.Context, in *Envelope) (*Envelope, error)
	// Highest returns the highest series id allocated in a database.
	Highest(ctx context.Context, in *HighestRequest) (*HighestResponse, error)
}

// InitSyncClient is the client API of the initial sync service.
type InitSyncClient interface {
	FetchSeries(ctx context.Context, in *Envelope, opts ...grpc.CallOption) (*Envelope, error)
	Highest(ctx context.Context, in *HighestRequest, opts ...grpc.CallOption) (*HighestResponse, error)
}

type initSyncClient struct {
	cc grpc.ClientConnInterface
}

func NewInitSyncClient(cc grpc.ClientConnInterface) InitSyncClient {
	return &initSyncClient{cc: cc}
}

func (c *initSyncClient) FetchSeries(ctx context.Context, in *Envelope, opts ...grpc.CallOption,
) (*Envelope, error) {
	out := new(Envelope)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, fetchSeriesMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *initSyncClient) Highest(ctx context.Context, in *HighestRequest, opts ...grpc.CallOption,
) (*HighestResponse, error) {
	out := new(HighestResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, highestMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func RegisterInitSyncServer(s grpc.ServiceRegistrar, srv InitSyncServer) {
	s.RegisterService(&initSyncServiceDesc, srv)
}

var initSyncServiceDesc = grpc.ServiceDesc{
	ServiceName: InitSyncServiceName,
	HandlerType: (*InitSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "FetchSeries",
			Handler:    fetchSeriesHandler,
		},
		{
			MethodName: "Highest",
			Handler:    highestHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "replication/service.go",
}

func fetchSeriesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InitSyncServer).FetchSeries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fetchSeriesMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(InitSyncServer).FetchSeries(ctx, req.(*Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

func highestHandler(srv interface{}, ctx context.Context, dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(HighestRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InitSyncServer).Highest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: highestMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(InitSyncServer).Highest(ctx, req.(*HighestRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func (e *Envelope) GetPayload() []byte {
	if e == nil {
		return nil
	}
	return e.Payload
}

func (r *HighestRequest) GetDatabase() string {
	if r == nil {
		return ""
	}
	return r.Database
}
