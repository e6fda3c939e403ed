package initsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/alpacahq/seriesdb/catalog"
	"github.com/alpacahq/seriesdb/utils/log"
)

// NotRunning is the progress line of a database without a session.
const NotRunning = "not running"

// Manager keeps at most one live session per database and hands them to a Scheduler.
type Manager struct {
	root      string
	template  Config
	catalogs  map[string]Catalog
	peer      Peer
	scheduler *Scheduler

	mu       sync.Mutex
	sessions map[string]*Session
	// failures records databases whose session could not even be created.
	failures map[string]Status
}

// NewManager returns a Manager for the databases in catalogs, stored under root.
// template carries the per-session settings; its Database and Path are filled in per database.
// peer may be nil on a node that only serves initial syncs.
func NewManager(root string, template Config, catalogs map[string]Catalog, peer Peer, sched *Scheduler) *Manager {
	return &Manager{
		root:      root,
		template:  template,
		catalogs:  catalogs,
		peer:      peer,
		scheduler: sched,
		sessions:  map[string]*Session{},
		failures:  map[string]Status{},
	}
}

// Start begins a session for db. Unless fresh is set it resumes from the
// progress file left by an earlier session, and fails when there is none.
func (m *Manager) Start(ctx context.Context, db string, fresh bool) (Status, error) {
	cat, ok := m.catalogs[db]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownDatabase, db)
	}
	if m.peer == nil {
		return Status{}, ErrNoPeer
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[db]; ok && !sess.Status().State.Terminal() {
		return sess.Status(), fmt.Errorf("%w: %s session %s", ErrAlreadyRunning, db, sess.ID())
	}

	cfg := m.template
	cfg.Database = db
	cfg.Path = StorePath(m.root, db)

	mode := Fresh()
	if !fresh {
		cp, err := FindCheckpoint(cfg.Path)
		if err != nil {
			delete(m.sessions, db)
			m.failures[db] = Status{
				Database:  db,
				State:     Failed,
				StateName: Failed.String(),
				Reason:    err.Error(),
				UpdatedAt: time.Now(),
			}
			return m.failures[db], err
		}
		mode = Resume(cp)
	}

	sess := NewSession(cfg, cat, m.peer, mode)
	m.sessions[db] = sess
	delete(m.failures, db)
	// exchanges outlive the request that started the session
	if err := sess.Begin(context.WithoutCancel(ctx)); err != nil {
		return sess.Status(), err
	}
	m.scheduler.Add(db, sess)
	return sess.Status(), nil
}

// Stop asks the live session of db to stop at its next safe point.
func (m *Manager) Stop(db string) (Status, error) {
	if _, ok := m.catalogs[db]; !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownDatabase, db)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[db]
	if !ok || sess.Status().State.Terminal() {
		return m.statusLocked(db), fmt.Errorf("%w: %s", ErrNotRunning, db)
	}
	sess.Stop()
	return sess.Status(), nil
}

func (m *Manager) Status(db string) (Status, error) {
	if _, ok := m.catalogs[db]; !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownDatabase, db)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked(db), nil
}

func (m *Manager) statusLocked(db string) Status {
	if sess, ok := m.sessions[db]; ok {
		return sess.Status()
	}
	if st, ok := m.failures[db]; ok {
		return st
	}
	return Status{Database: db, State: Unstarted, StateName: Unstarted.String()}
}

// Statuses returns the status of every database in name order.
func (m *Manager) Statuses() []Status {
	names := m.Databases()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(names))
	for _, db := range names {
		out = append(out, m.statusLocked(db))
	}
	return out
}

// Databases returns the configured database names in order.
func (m *Manager) Databases() []string {
	names := make([]string, 0, len(m.catalogs))
	for db := range m.catalogs {
		names = append(names, db)
	}
	sort.Strings(names)
	return names
}

// Progress returns the operator-facing progress line of db.
func (m *Manager) Progress(db string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[db]; ok {
		return Summary(sess.Status())
	}
	if st, ok := m.failures[db]; ok {
		return Summary(st)
	}
	return NotRunning
}

// Synchronized reports whether db holds a complete copy of its peer's catalog:
// its last session completed, or it has neither a session nor a progress file
// and, with a peer to copy from, a catalog that is not empty.
func (m *Manager) Synchronized(db string) bool {
	cat, ok := m.catalogs[db]
	if !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[db]; ok {
		return sess.Status().State == Completed
	}
	if _, ok := m.failures[db]; ok {
		return false
	}
	if _, err := os.Stat(StorePath(m.root, db)); !errors.Is(err, fs.ErrNotExist) {
		return false
	}
	if m.peer == nil {
		return true
	}
	// an empty replica has never been synced from its peer
	highest, err := cat.HighestAllocatedID()
	if err != nil {
		log.Warn("initial sync of %s: read highest series id: %v", db, err)
		return false
	}
	return highest != catalog.NoSeries
}

// ResumeInterrupted resumes every database that has a progress file on disk.
// Databases without one are left alone.
func (m *Manager) ResumeInterrupted(ctx context.Context) error {
	var errs []error
	for _, db := range m.Databases() {
		if _, err := os.Stat(StorePath(m.root, db)); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		st, err := m.Start(ctx, db, false)
		if err != nil {
			log.Error("[initsync db=%s] could not resume interrupted sync: %v", db, err)
			errs = append(errs, fmt.Errorf("resume %s: %w", db, err))
			continue
		}
		log.Info("[initsync db=%s session=%s] resumed at series id %d", db, st.SessionID, st.Cursor)
	}
	return errors.Join(errs...)
}

// StartAll starts a fresh session for every database.
func (m *Manager) StartAll(ctx context.Context) error {
	var errs []error
	for _, db := range m.Databases() {
		if _, err := m.Start(ctx, db, true); err != nil {
			errs = append(errs, fmt.Errorf("start %s: %w", db, err))
		}
	}
	return errors.Join(errs...)
}

// Close stops every live session. Outstanding exchanges are left to the scheduler.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range m.sessions {
		sess.Stop()
	}
}
