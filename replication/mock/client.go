package mock

import (
	"context"

	"google.golang.org/grpc"

	"github.com/alpacahq/seriesdb/replication"
)

type InitSyncClient struct {
	FetchSeriesFunc func(ctx context.Context, in *replication.Envelope) (*replication.Envelope, error)
	HighestFunc     func(ctx context.Context, in *replication.HighestRequest) (*replication.HighestResponse, error)
}

func (c *InitSyncClient) FetchSeries(ctx context.Context, in *replication.Envelope, _ ...grpc.CallOption,
) (*replication.Envelope, error) {
	return c.FetchSeriesFunc(ctx, in)
}

func (c *InitSyncClient) Highest(ctx context.Context, in *replication.HighestRequest, _ ...grpc.CallOption,
) (*replication.HighestResponse, error) {
	return c.HighestFunc(ctx, in)
}
