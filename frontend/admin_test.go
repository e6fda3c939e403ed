package frontend_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/alpacahq/seriesdb/catalog"
	"github.com/alpacahq/seriesdb/frontend"
	"github.com/alpacahq/seriesdb/frontend/client"
	"github.com/alpacahq/seriesdb/initsync"
	"github.com/alpacahq/seriesdb/utils/test"
)

const testTimeout = 5 * time.Second

type fakeManager struct {
	StartErr     error
	StopErr      error
	StatusErr    error
	Synced       bool
	started      []bool
	statuses     []initsync.Status
	lastDatabase string
}

func (m *fakeManager) Start(_ context.Context, db string, fresh bool) (initsync.Status, error) {
	m.lastDatabase = db
	m.started = append(m.started, fresh)
	if m.StartErr != nil {
		return initsync.Status{}, m.StartErr
	}
	return initsync.Status{Database: db, SessionID: "s1", State: initsync.Running, Cursor: 1}, nil
}

func (m *fakeManager) Stop(db string) (initsync.Status, error) {
	m.lastDatabase = db
	if m.StopErr != nil {
		return initsync.Status{}, m.StopErr
	}
	return initsync.Status{Database: db, SessionID: "s1", State: initsync.Running, Cursor: 5, PeerHighest: 9}, nil
}

func (m *fakeManager) Status(db string) (initsync.Status, error) {
	m.lastDatabase = db
	if m.StatusErr != nil {
		return initsync.Status{}, m.StatusErr
	}
	return initsync.Status{Database: db, State: initsync.Completed, Cursor: 10, PeerHighest: 9}, nil
}

func (m *fakeManager) Statuses() []initsync.Status {
	return m.statuses
}

func (m *fakeManager) Synchronized(string) bool {
	return m.Synced
}

func startAdmin(t *testing.T, mgr frontend.InitSyncManager, catalogs map[string]catalog.Store) *client.Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	frontend.RegisterAdminServer(srv, frontend.NewAdminService(mgr, catalogs))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	cl := client.NewClientConn(cc)
	t.Cleanup(func() { _ = cl.Close() })
	return cl
}

func TestStartInitSync(t *testing.T) {
	tests := map[string]struct {
		startErr     error
		expectedCode codes.Code
	}{
		"ok/ started": {
			expectedCode: codes.OK,
		},
		"error/ unknown database": {
			startErr:     errors.Wrap(initsync.ErrUnknownDatabase, "db9"),
			expectedCode: codes.NotFound,
		},
		"error/ already running": {
			startErr:     initsync.ErrAlreadyRunning,
			expectedCode: codes.AlreadyExists,
		},
		"error/ no checkpoint": {
			startErr:     initsync.ErrNoCheckpoint,
			expectedCode: codes.FailedPrecondition,
		},
		"error/ no peer": {
			startErr:     initsync.ErrNoPeer,
			expectedCode: codes.FailedPrecondition,
		},
		"error/ corrupt progress": {
			startErr:     errors.Wrap(initsync.ErrCorruptProgress, "bad checksum"),
			expectedCode: codes.DataLoss,
		},
		"error/ locked": {
			startErr:     initsync.ErrStoreLocked,
			expectedCode: codes.Aborted,
		},
		"error/ anything else": {
			startErr:     errors.New("disk on fire"),
			expectedCode: codes.Internal,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			// --- given ---
			mgr := &fakeManager{StartErr: tt.startErr}
			cl := startAdmin(t, mgr, nil)
			ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
			defer cancel()

			// --- when ---
			st, err := cl.StartInitSync(ctx, "db0", true)

			// --- then ---
			assert.Equal(t, tt.expectedCode, status.Code(err))
			assert.Equal(t, "db0", mgr.lastDatabase)
			assert.Equal(t, []bool{true}, mgr.started)
			if tt.expectedCode == codes.OK {
				assert.Equal(t, "s1", st.SessionID)
				assert.Equal(t, "running", st.State)
				assert.Equal(t, "in progress: 0 of 0 series synced", st.Summary)
			}
		})
	}
}

func TestStopInitSync(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	t.Run("ok/ stop requested", func(t *testing.T) {
		cl := startAdmin(t, &fakeManager{}, nil)

		st, err := cl.StopInitSync(ctx, "db0")

		require.NoError(t, err)
		assert.Equal(t, uint64(5), st.Cursor)
		assert.Equal(t, "in progress: 4 of 9 series synced", st.Summary)
	})

	t.Run("error/ not running", func(t *testing.T) {
		cl := startAdmin(t, &fakeManager{StopErr: initsync.ErrNotRunning}, nil)

		_, err := cl.StopInitSync(ctx, "db0")

		assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	})
}

func TestInitSyncStatus(t *testing.T) {
	// --- given ---
	mgr := &fakeManager{statuses: []initsync.Status{
		{Database: "db0", State: initsync.Completed},
		{Database: "db1", State: initsync.Failed, Reason: "boom"},
	}}
	cl := startAdmin(t, mgr, nil)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	// --- when ---
	all, err := cl.InitSyncStatus(ctx, "")
	require.NoError(t, err)
	one, err := cl.InitSyncStatus(ctx, "db0")
	require.NoError(t, err)

	// --- then ---
	require.Len(t, all, 2)
	assert.Equal(t, "finished", all[0].Summary)
	assert.Equal(t, "failed: boom", all[1].Summary)
	require.Len(t, one, 1)
	assert.Equal(t, "completed", one[0].State)
	assert.Equal(t, "db0", mgr.lastDatabase)
}

func TestCreateSeries(t *testing.T) {
	tests := map[string]struct {
		synced       bool
		database     string
		seriesName   string
		seriesType   catalog.SeriesType
		expectedCode codes.Code
		expectedID   uint64
	}{
		"ok/ new series": {
			synced:       true,
			database:     "db0",
			seriesName:   "host3.mem",
			seriesType:   catalog.Float64,
			expectedCode: codes.OK,
			expectedID:   2,
		},
		"ok/ existing series": {
			synced:       true,
			database:     "db0",
			seriesName:   test.SeriesName(1),
			seriesType:   catalog.Float64,
			expectedCode: codes.OK,
			expectedID:   1,
		},
		"error/ not synchronized": {
			synced:       false,
			database:     "db0",
			seriesName:   "host3.mem",
			seriesType:   catalog.Float64,
			expectedCode: codes.FailedPrecondition,
		},
		"error/ unknown database": {
			synced:       true,
			database:     "db9",
			seriesName:   "host3.mem",
			seriesType:   catalog.Float64,
			expectedCode: codes.NotFound,
		},
		"error/ type conflict": {
			synced:       true,
			database:     "db0",
			seriesName:   test.SeriesName(1),
			seriesType:   catalog.String,
			expectedCode: codes.AlreadyExists,
		},
		"error/ empty name": {
			synced:       true,
			database:     "db0",
			seriesType:   catalog.Float64,
			expectedCode: codes.InvalidArgument,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			// --- given ---
			store := test.NewCatalog(t, 1)
			cl := startAdmin(t, &fakeManager{Synced: tt.synced}, map[string]catalog.Store{"db0": store})
			ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
			defer cancel()

			// --- when ---
			id, err := cl.CreateSeries(ctx, tt.database, tt.seriesName, uint8(tt.seriesType))

			// --- then ---
			assert.Equal(t, tt.expectedCode, status.Code(err))
			assert.Equal(t, tt.expectedID, id)
		})
	}
}
