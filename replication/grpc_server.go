package replication

import (
	"context"

	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alpacahq/seriesdb/catalog"
	"github.com/alpacahq/seriesdb/initsync"
	"github.com/alpacahq/seriesdb/metrics"
	"github.com/alpacahq/seriesdb/utils/log"
)

// SeriesSource is the read side of a catalog served to syncing peers.
type SeriesSource interface {
	SeriesFrom(start catalog.SeriesID, limit int) ([]catalog.Definition, error)
	HighestAllocatedID() (catalog.SeriesID, error)
}

type ServeSettings struct {
	// MaxSeries caps the batch size a peer may ask for.
	MaxSeries int
	// CompressThreshold is the encoded size above which responses are compressed. Negative disables compression.
	CompressThreshold int
	// Rate and Burst pace FetchSeries requests across all peers.
	Rate  float64
	Burst int
}

// GRPCInitSyncServer serves the local catalogs to peers performing an initial sync.
type GRPCInitSyncServer struct {
	sources  map[string]SeriesSource
	settings ServeSettings
	limiter  *rate.Limiter
}

func NewGRPCInitSyncServer(sources map[string]SeriesSource, settings ServeSettings) *GRPCInitSyncServer {
	if settings.MaxSeries <= 0 {
		settings.MaxSeries = 1000
	}
	limit := rate.Inf
	if settings.Rate > 0 {
		limit = rate.Limit(settings.Rate)
	}
	if settings.Burst <= 0 {
		settings.Burst = 1
	}
	return &GRPCInitSyncServer{
		sources:  sources,
		settings: settings,
		limiter:  rate.NewLimiter(limit, settings.Burst),
	}
}

func (s *GRPCInitSyncServer) FetchSeries(ctx context.Context, in *Envelope) (*Envelope, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, status.Errorf(codes.ResourceExhausted, "initial sync rate limit: %v", err)
	}
	req, err := initsync.DecodeRequest(in.GetPayload())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	src, ok := s.sources[req.Database]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown database %q", req.Database)
	}
	if req.Cursor < catalog.FirstSeriesID {
		return nil, status.Errorf(codes.InvalidArgument, "cursor %d below the first series id", req.Cursor)
	}
	if req.MaxSeries <= 0 || req.MaxSeries > s.settings.MaxSeries {
		req.MaxSeries = s.settings.MaxSeries
	}

	// read the highest id first so that Done never skips a series allocated meanwhile
	highest, err := src.HighestAllocatedID()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "read highest series id of %s: %v", req.Database, err)
	}
	defs, err := src.SeriesFrom(req.Cursor, req.MaxSeries)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "read series of %s from %d: %v", req.Database, req.Cursor, err)
	}

	resp := initsync.BuildResponse(req, defs, highest)
	payload, err := initsync.EncodeResponse(resp, s.settings.CompressThreshold)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	metrics.InitSyncServedTotal.WithLabelValues(req.Database).Inc()
	log.Debug("served %d series of %s from id %d (next=%d, done=%v)",
		len(resp.Series), req.Database, req.Cursor, resp.Next, resp.Done)

	return &Envelope{Payload: payload}, nil
}

func (s *GRPCInitSyncServer) Highest(_ context.Context, in *HighestRequest) (*HighestResponse, error) {
	src, ok := s.sources[in.GetDatabase()]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown database %q", in.GetDatabase())
	}
	highest, err := src.HighestAllocatedID()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "read highest series id of %s: %v", in.GetDatabase(), err)
	}
	return &HighestResponse{Highest: uint64(highest)}, nil
}
