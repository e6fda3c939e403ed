package replication

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alpacahq/seriesdb/catalog"
	"github.com/alpacahq/seriesdb/initsync"
)

// GRPCInitSyncClient is the initsync.Peer backed by the initial sync service of another node.
type GRPCInitSyncClient struct {
	Client InitSyncClient
}

func NewGRPCInitSyncClient(client InitSyncClient) *GRPCInitSyncClient {
	return &GRPCInitSyncClient{Client: client}
}

// SendRequest carries one encoded request to the peer. Requests the peer
// refuses for good wrap initsync.ErrPeerRejected.
func (c *GRPCInitSyncClient) SendRequest(ctx context.Context, payload []byte) ([]byte, error) {
	resp, err := c.Client.FetchSeries(ctx, &Envelope{Payload: payload})
	if err != nil {
		if !IsTransient(err) {
			return nil, errors.Wrapf(initsync.ErrPeerRejected, "fetch series: %v", err)
		}
		return nil, errors.Wrap(err, "failed to fetch series from peer")
	}
	if resp == nil || len(resp.Payload) == 0 {
		return nil, errors.New("empty response received from peer")
	}
	return resp.Payload, nil
}

// Highest asks the peer for the highest series id allocated in database db.
func (c *GRPCInitSyncClient) Highest(ctx context.Context, db string) (catalog.SeriesID, error) {
	resp, err := c.Client.Highest(ctx, &HighestRequest{Database: db})
	if err != nil {
		if IsTransient(err) {
			return catalog.NoSeries, errors.Wrapf(ErrRetryable, "peer is not reachable: %v", err)
		}
		return catalog.NoSeries, errors.Wrap(err, "failed to get the highest series id from peer")
	}
	return catalog.SeriesID(resp.Highest), nil
}

// Probe returns a retry function that succeeds once the peer answers for database db.
func (c *GRPCInitSyncClient) Probe(db string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := c.Highest(ctx, db)
		return err
	}
}

// IsTransient reports whether a gRPC error may go away on retry.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	switch status.Code(errors.Cause(err)) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Canceled:
		return true
	default:
		return false
	}
}
