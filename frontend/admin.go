package frontend

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alpacahq/seriesdb/catalog"
	"github.com/alpacahq/seriesdb/initsync"
	"github.com/alpacahq/seriesdb/utils/log"
)

// InitSyncManager is the initial sync control surface used by the admin service.
type InitSyncManager interface {
	Start(ctx context.Context, db string, fresh bool) (initsync.Status, error)
	Stop(db string) (initsync.Status, error)
	Status(db string) (initsync.Status, error)
	Statuses() []initsync.Status
	Synchronized(db string) bool
}

// AdminService is the implementation of the administrative gRPC API of seriesdb.
type AdminService struct {
	manager  InitSyncManager
	catalogs map[string]catalog.Store
}

func NewAdminService(manager InitSyncManager, catalogs map[string]catalog.Store) *AdminService {
	return &AdminService{manager: manager, catalogs: catalogs}
}

func (s *AdminService) StartInitSync(ctx context.Context, req *StartInitSyncRequest) (*InitSyncStatusResponse, error) {
	st, err := s.manager.Start(ctx, req.Database, req.Fresh)
	if err != nil {
		return nil, toStatusError(err)
	}
	log.Info("initial sync of %s started by admin request (fresh=%v, session=%s)", req.Database, req.Fresh, st.SessionID)
	return &InitSyncStatusResponse{Statuses: []SyncStatus{toSyncStatus(st)}}, nil
}

func (s *AdminService) StopInitSync(_ context.Context, req *StopInitSyncRequest) (*InitSyncStatusResponse, error) {
	st, err := s.manager.Stop(req.Database)
	if err != nil {
		return nil, toStatusError(err)
	}
	log.Info("initial sync of %s will stop at the next safe point (session=%s)", req.Database, st.SessionID)
	return &InitSyncStatusResponse{Statuses: []SyncStatus{toSyncStatus(st)}}, nil
}

// InitSyncStatus returns the status of one database, or of all of them when no database is given.
func (s *AdminService) InitSyncStatus(_ context.Context, req *InitSyncStatusRequest,
) (*InitSyncStatusResponse, error) {
	if req.Database == "" {
		statuses := s.manager.Statuses()
		resp := &InitSyncStatusResponse{Statuses: make([]SyncStatus, 0, len(statuses))}
		for _, st := range statuses {
			resp.Statuses = append(resp.Statuses, toSyncStatus(st))
		}
		return resp, nil
	}
	st, err := s.manager.Status(req.Database)
	if err != nil {
		return nil, toStatusError(err)
	}
	return &InitSyncStatusResponse{Statuses: []SyncStatus{toSyncStatus(st)}}, nil
}

// CreateSeries allocates a series on this node. It is refused while the
// database has not finished copying the catalog of its peer.
func (s *AdminService) CreateSeries(_ context.Context, req *CreateSeriesRequest) (*CreateSeriesResponse, error) {
	cat, ok := s.catalogs[req.Database]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown database %q", req.Database)
	}
	if !s.manager.Synchronized(req.Database) {
		return nil, status.Errorf(codes.FailedPrecondition,
			"database %s is not synchronized with its peer yet, series cannot be created", req.Database)
	}
	id, err := cat.AllocateOrGet(req.Name, catalog.SeriesType(req.Type))
	if err != nil {
		var conflict *catalog.SeriesConflictError
		var invalid catalog.InvalidDefinitionError
		switch {
		case errors.As(err, &conflict):
			return nil, status.Error(codes.AlreadyExists, err.Error())
		case errors.As(err, &invalid):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		default:
			return nil, status.Error(codes.Internal, err.Error())
		}
	}
	return &CreateSeriesResponse{ID: uint64(id)}, nil
}

func toSyncStatus(st initsync.Status) SyncStatus {
	return SyncStatus{
		Database:    st.Database,
		SessionID:   st.SessionID,
		State:       st.State.String(),
		Summary:     initsync.Summary(st),
		Cursor:      uint64(st.Cursor),
		PeerHighest: uint64(st.PeerHighest),
		Synced:      st.Synced,
		Bytes:       st.Bytes,
		UpdatedAt:   st.UpdatedAt.Unix(),
	}
}

func toStatusError(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, initsync.ErrUnknownDatabase):
		code = codes.NotFound
	case errors.Is(err, initsync.ErrAlreadyRunning):
		code = codes.AlreadyExists
	case errors.Is(err, initsync.ErrStoreLocked):
		code = codes.Aborted
	case errors.Is(err, initsync.ErrCorruptProgress):
		code = codes.DataLoss
	case errors.Is(err, initsync.ErrNotRunning),
		errors.Is(err, initsync.ErrNoCheckpoint),
		errors.Is(err, initsync.ErrNoPeer):
		code = codes.FailedPrecondition
	}
	return status.Error(code, err.Error())
}

type StartInitSyncRequest struct {
	Database string `msgpack:"database"`
	Fresh    bool   `msgpack:"fresh"`
}

type StopInitSyncRequest struct {
	Database string `msgpack:"database"`
}

type InitSyncStatusRequest struct {
	Database string `msgpack:"database"`
}

type SyncStatus struct {
	Database    string `msgpack:"database"`
	SessionID   string `msgpack:"session_id"`
	State       string `msgpack:"state"`
	Summary     string `msgpack:"summary"`
	Cursor      uint64 `msgpack:"cursor"`
	PeerHighest uint64 `msgpack:"peer_highest"`
	Synced      uint64 `msgpack:"synced"`
	Bytes       uint64 `msgpack:"bytes"`
	UpdatedAt   int64  `msgpack:"updated_at"`
}

func (s SyncStatus) Updated() time.Time {
	return time.Unix(s.UpdatedAt, 0)
}

type InitSyncStatusResponse struct {
	Statuses []SyncStatus `msgpack:"statuses"`
}

type CreateSeriesRequest struct {
	Database string `msgpack:"database"`
	Name     string `msgpack:"name"`
	Type     uint8  `msgpack:"type"`
}

type CreateSeriesResponse struct {
	ID uint64 `msgpack:"id"`
}

// AdminServer is the server API of the admin service.
type AdminServer interface {
	StartInitSync(ctx context.Context, req *StartInitSyncRequest) (*InitSyncStatusResponse, error)
	StopInitSync(ctx context.Context, req *StopInitSyncRequest) (*InitSyncStatusResponse, error)
	InitSyncStatus(ctx context.Context, req *InitSyncStatusRequest) (*InitSyncStatusResponse, error)
	CreateSeries(ctx context.Context, req *CreateSeriesRequest) (*CreateSeriesResponse, error)
}

const AdminServiceName = "seriesdb.Admin"

func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&adminServiceDesc, srv)
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartInitSync", Handler: unaryHandler("StartInitSync",
			func(srv AdminServer, ctx context.Context, req *StartInitSyncRequest) (interface{}, error) {
				return srv.StartInitSync(ctx, req)
			})},
		{MethodName: "StopInitSync", Handler: unaryHandler("StopInitSync",
			func(srv AdminServer, ctx context.Context, req *StopInitSyncRequest) (interface{}, error) {
				return srv.StopInitSync(ctx, req)
			})},
		{MethodName: "InitSyncStatus", Handler: unaryHandler("InitSyncStatus",
			func(srv AdminServer, ctx context.Context, req *InitSyncStatusRequest) (interface{}, error) {
				return srv.InitSyncStatus(ctx, req)
			})},
		{MethodName: "CreateSeries", Handler: unaryHandler("CreateSeries",
			func(srv AdminServer, ctx context.Context, req *CreateSeriesRequest) (interface{}, error) {
				return srv.CreateSeries(ctx, req)
			})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "frontend/admin.go",
}

type grpcHandler = func(srv interface{}, ctx context.Context, dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor) (interface{}, error)

func unaryHandler[Req any](method string,
	call func(srv AdminServer, ctx context.Context, req *Req) (interface{}, error),
) grpcHandler {
	fullMethod := "/" + AdminServiceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error,
		interceptor grpc.UnaryServerInterceptor,
	) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AdminServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(AdminServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
