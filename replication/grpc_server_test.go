package replication_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alpacahq/seriesdb/catalog"
	"github.com/alpacahq/seriesdb/initsync"
	"github.com/alpacahq/seriesdb/replication"
	"github.com/alpacahq/seriesdb/replication/mock"
)

func testSource() *mock.SeriesSource {
	return &mock.SeriesSource{Series: []catalog.Definition{
		{ID: 1, Name: "cpu", Type: catalog.Float64},
		{ID: 2, Name: "mem", Type: catalog.Int64},
		{ID: 4, Name: "host", Type: catalog.String},
	}}
}

func fetch(t *testing.T, srv *replication.GRPCInitSyncServer, req initsync.Request) (initsync.Response, error) {
	t.Helper()
	payload, err := initsync.EncodeRequest(req)
	require.NoError(t, err)
	env, err := srv.FetchSeries(context.Background(), &replication.Envelope{Payload: payload})
	if err != nil {
		return initsync.Response{}, err
	}
	resp, err := initsync.DecodeResponse(env.Payload)
	require.NoError(t, err)
	return resp, nil
}

func TestGRPCInitSyncServer_FetchSeries(t *testing.T) {
	t.Parallel()
	srv := replication.NewGRPCInitSyncServer(
		map[string]replication.SeriesSource{"db0": testSource()},
		replication.ServeSettings{MaxSeries: 2, CompressThreshold: -1},
	)

	tests := map[string]struct {
		req      initsync.Request
		wantIDs  []catalog.SeriesID
		wantNext catalog.SeriesID
		wantDone bool
	}{
		"ok/ first batch is capped by the server": {
			req:      initsync.Request{Database: "db0", Cursor: 1, MaxSeries: 100},
			wantIDs:  []catalog.SeriesID{1, 2},
			wantNext: 3,
		},
		"ok/ gap in ids": {
			req:      initsync.Request{Database: "db0", Cursor: 3, MaxSeries: 2},
			wantIDs:  []catalog.SeriesID{4},
			wantNext: 5,
			wantDone: true,
		},
		"ok/ client batch size": {
			req:      initsync.Request{Database: "db0", Cursor: 2, MaxSeries: 1},
			wantIDs:  []catalog.SeriesID{2},
			wantNext: 3,
		},
		"ok/ past the end": {
			req:      initsync.Request{Database: "db0", Cursor: 9},
			wantNext: 9,
			wantDone: true,
		},
	}
	for name := range tests {
		tt := tests[name]
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			// --- when ---
			resp, err := fetch(t, srv, tt.req)

			// --- then ---
			require.NoError(t, err)
			var ids []catalog.SeriesID
			for _, def := range resp.Series {
				ids = append(ids, def.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, tt.wantNext, resp.Next)
			assert.Equal(t, tt.wantDone, resp.Done)
			assert.Equal(t, catalog.SeriesID(4), resp.Highest)
		})
	}
}

func TestGRPCInitSyncServer_FetchSeries_errors(t *testing.T) {
	t.Parallel()
	srv := replication.NewGRPCInitSyncServer(map[string]replication.SeriesSource{
		"db0":    testSource(),
		"broken": &mock.SeriesSource{Error: errors.New("disk gone")},
	}, replication.ServeSettings{})

	_, err := fetch(t, srv, initsync.Request{Database: "nope", Cursor: 1})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = fetch(t, srv, initsync.Request{Database: "db0", Cursor: 0})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = fetch(t, srv, initsync.Request{Database: "broken", Cursor: 1})
	assert.Equal(t, codes.Internal, status.Code(err))

	_, err = srv.FetchSeries(context.Background(), &replication.Envelope{Payload: []byte{0xff}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPCInitSyncServer_rateLimit(t *testing.T) {
	t.Parallel()
	// --- given ---
	srv := replication.NewGRPCInitSyncServer(
		map[string]replication.SeriesSource{"db0": testSource()},
		replication.ServeSettings{Rate: 0.001, Burst: 1},
	)
	payload, err := initsync.EncodeRequest(initsync.Request{Database: "db0", Cursor: 1})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	// --- when ---
	_, first := srv.FetchSeries(ctx, &replication.Envelope{Payload: payload})
	_, second := srv.FetchSeries(ctx, &replication.Envelope{Payload: payload})

	// --- then ---
	assert.NoError(t, first)
	assert.Equal(t, codes.ResourceExhausted, status.Code(second))
	assert.True(t, replication.IsTransient(second))
}

func TestGRPCInitSyncServer_Highest(t *testing.T) {
	t.Parallel()
	srv := replication.NewGRPCInitSyncServer(
		map[string]replication.SeriesSource{"db0": testSource()}, replication.ServeSettings{})

	resp, err := srv.Highest(context.Background(), &replication.HighestRequest{Database: "db0"})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), resp.Highest)

	_, err = srv.Highest(context.Background(), &replication.HighestRequest{Database: "nope"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}
