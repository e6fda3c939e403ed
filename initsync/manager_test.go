package initsync_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/seriesdb/catalog"
	"github.com/alpacahq/seriesdb/initsync"
	"github.com/alpacahq/seriesdb/utils/test"
)

type managerFixture struct {
	root      string
	manager   *initsync.Manager
	scheduler *initsync.Scheduler
	peer      *fakePeer
	catalogs  map[string]catalog.Store
}

func newManagerFixture(t *testing.T, peerSeries int, dbs ...string) *managerFixture {
	t.Helper()
	f := &managerFixture{
		root:      t.TempDir(),
		scheduler: initsync.NewScheduler(clockwork.NewFakeClock(), time.Second),
		peer:      newFakePeer(t, peerSeries),
		catalogs:  map[string]catalog.Store{},
	}
	cats := map[string]initsync.Catalog{}
	for _, db := range dbs {
		f.catalogs[db] = test.NewCatalog(t, 0)
		cats[db] = f.catalogs[db]
	}
	tmpl := initsync.Config{ExchangeTimeout: time.Second, BatchSeries: 2, BatchBytes: 1 << 20}
	f.manager = initsync.NewManager(f.root, tmpl, cats, f.peer, f.scheduler)
	return f
}

// drive ticks the scheduler until cond holds.
func (f *managerFixture) drive(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.scheduler.TickAll()
		return cond()
	}, waitTimeout, time.Millisecond)
}

func TestManager_StartToCompletion(t *testing.T) {
	t.Parallel()
	// --- given ---
	f := newManagerFixture(t, 5, "db0", "db1")
	assert.False(t, f.manager.Synchronized("db0"))
	assert.Equal(t, initsync.NotRunning, f.manager.Progress("db0"))

	// --- when ---
	st, err := f.manager.Start(context.Background(), "db0", true)

	// --- then ---
	require.NoError(t, err)
	assert.Equal(t, initsync.Running, st.State)
	assert.NotEmpty(t, st.SessionID)
	assert.False(t, f.manager.Synchronized("db0"))
	assert.Equal(t, 1, f.scheduler.Len())
	assert.FileExists(t, initsync.StorePath(f.root, "db0"))

	_, err = f.manager.Start(context.Background(), "db0", true)
	assert.ErrorIs(t, err, initsync.ErrAlreadyRunning)

	f.drive(t, func() bool { return f.manager.Synchronized("db0") })
	assert.Equal(t, "finished", f.manager.Progress("db0"))
	assert.Equal(t, 0, f.scheduler.Len())
	assert.NoFileExists(t, initsync.StorePath(f.root, "db0"))
	n, err := f.catalogs["db0"].Len()
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// the other database was never touched
	st, err = f.manager.Status("db1")
	require.NoError(t, err)
	assert.Equal(t, initsync.Unstarted, st.State)
}

func TestManager_StopAndResume(t *testing.T) {
	t.Parallel()
	// --- given ---
	f := newManagerFixture(t, 5, "db0")
	_, err := f.manager.Start(context.Background(), "db0", true)
	require.NoError(t, err)

	// --- when ---
	_, err = f.manager.Stop("db0")
	require.NoError(t, err)
	f.drive(t, func() bool {
		st, _ := f.manager.Status("db0")
		return st.State == initsync.Stopped
	})

	// --- then ---
	assert.False(t, f.manager.Synchronized("db0"))
	_, err = f.manager.Stop("db0")
	assert.ErrorIs(t, err, initsync.ErrNotRunning)
	assert.FileExists(t, initsync.StorePath(f.root, "db0"))

	// --- when ---
	st, err := f.manager.Start(context.Background(), "db0", false)

	// --- then ---
	require.NoError(t, err)
	assert.Equal(t, initsync.Running, st.State)
	f.drive(t, func() bool { return f.manager.Synchronized("db0") })
}

func TestManager_errors(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t, 1, "db0")

	_, err := f.manager.Start(context.Background(), "nope", true)
	assert.ErrorIs(t, err, initsync.ErrUnknownDatabase)
	_, err = f.manager.Stop("nope")
	assert.ErrorIs(t, err, initsync.ErrUnknownDatabase)
	_, err = f.manager.Status("nope")
	assert.ErrorIs(t, err, initsync.ErrUnknownDatabase)
	assert.False(t, f.manager.Synchronized("nope"))

	_, err = f.manager.Stop("db0")
	assert.ErrorIs(t, err, initsync.ErrNotRunning)

	// resuming without a progress file is refused and reported
	st, err := f.manager.Start(context.Background(), "db0", false)
	assert.ErrorIs(t, err, initsync.ErrNoCheckpoint)
	assert.Equal(t, initsync.Failed, st.State)
	assert.Contains(t, f.manager.Progress("db0"), "failed: ")
	assert.False(t, f.manager.Synchronized("db0"))

	noPeer := initsync.NewManager(t.TempDir(), initsync.Config{},
		map[string]initsync.Catalog{"db0": test.NewCatalog(t, 0)}, nil, f.scheduler)
	_, err = noPeer.Start(context.Background(), "db0", true)
	assert.ErrorIs(t, err, initsync.ErrNoPeer)
}

func TestManager_ResumeInterrupted(t *testing.T) {
	t.Parallel()
	// --- given ---
	f := newManagerFixture(t, 3, "db0", "db1", "db2")
	store, err := initsync.CreateProgressStore(initsync.StorePath(f.root, "db1"), nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	// db2 was interrupted past the ids its catalog holds
	store, err = initsync.CreateProgressStore(initsync.StorePath(f.root, "db2"), nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(initsync.Record{NextSeriesID: 3}))
	require.NoError(t, store.Close())

	// --- when ---
	err = f.manager.ResumeInterrupted(context.Background())

	// --- then ---
	assert.ErrorIs(t, err, initsync.ErrCorruptProgress)
	statuses := f.manager.Statuses()
	require.Len(t, statuses, 3)
	assert.Equal(t, "db0", statuses[0].Database)
	assert.Equal(t, initsync.Unstarted, statuses[0].State)
	assert.Equal(t, initsync.Running, statuses[1].State)
	assert.Equal(t, initsync.Failed, statuses[2].State)
	assert.Equal(t, 1, f.scheduler.Len())

	f.drive(t, func() bool { return f.manager.Synchronized("db1") })
	assert.False(t, f.manager.Synchronized("db0"), "empty replica never synced")
	assert.False(t, f.manager.Synchronized("db2"))
}

func TestManager_Synchronized(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		localSeries  int
		withPeer     bool
		progressFile bool
		want         bool
	}{
		"ok/ standalone node with an empty catalog": {},
		"ok/ replica holding series": {
			localSeries: 3,
			withPeer:    true,
		},
		"error/ empty replica never synced": {
			withPeer: true,
		},
		"error/ replica with an interrupted sync": {
			localSeries:  3,
			withPeer:     true,
			progressFile: true,
		},
	}
	for name := range tests {
		tt := tests[name]
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			// --- given ---
			root := t.TempDir()
			var peer initsync.Peer
			if tt.withPeer {
				peer = newFakePeer(t, 3)
			}
			cats := map[string]initsync.Catalog{"db0": test.NewCatalog(t, tt.localSeries)}
			sched := initsync.NewScheduler(clockwork.NewFakeClock(), time.Second)
			m := initsync.NewManager(root, initsync.Config{}, cats, peer, sched)
			if tt.progressFile {
				store, err := initsync.CreateProgressStore(initsync.StorePath(root, "db0"), nil)
				require.NoError(t, err)
				require.NoError(t, store.Close())
			}

			// --- when ---
			got := m.Synchronized("db0")

			// --- then ---
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestManager_Close(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t, 100, "db0")
	_, err := f.manager.Start(context.Background(), "db0", true)
	require.NoError(t, err)

	f.manager.Close()
	f.drive(t, func() bool {
		st, _ := f.manager.Status("db0")
		return st.State == initsync.Stopped
	})
	assert.FileExists(t, initsync.StorePath(f.root, "db0"))
}
