package initsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/alpacahq/seriesdb/catalog"
	"github.com/alpacahq/seriesdb/metrics"
	"github.com/alpacahq/seriesdb/utils/log"
)

const (
	defaultExchangeTimeout = 10 * time.Second
	defaultBatchSeries     = 1000
)

// Peer sends one request to the pool member holding the authoritative catalog
// and waits for its answer. Payloads are opaque to the transport. Errors are
// retried on a later tick unless they wrap ErrPeerRejected.
type Peer interface {
	SendRequest(ctx context.Context, payload []byte) ([]byte, error)
}

// Catalog is the part of the local series catalog a session writes to.
type Catalog interface {
	ApplyRemoteBatch(defs []catalog.Definition) ([]catalog.ApplyResult, error)
	HighestAllocatedID() (catalog.SeriesID, error)
}

type Config struct {
	Database string
	// Path is the progress file location, see StorePath.
	Path            string
	ExchangeTimeout time.Duration
	BatchSeries     int
	BatchBytes      int
	// WriteFile replaces the progress file contents. nil writes through a temporary file and a rename.
	WriteFile WriteFileFunc
}

type exchangeOutcome struct {
	payload []byte
	err     error
	elapsed time.Duration
}

type pendingExchange struct {
	req    Request
	result chan exchangeOutcome
	ready  chan struct{}
}

// Session copies the peer's catalog of one database into the local catalog.
// Tick, Stop and Status are safe for concurrent use; Tick never blocks on the network.
type Session struct {
	cfg     Config
	catalog Catalog
	peer    Peer
	mode    Mode
	id      xid.ID
	prefix  string

	// mu guards everything below and is held for the whole of Begin and Tick.
	mu      sync.Mutex
	state   State
	store   *ProgressStore
	record  Record
	pending *pendingExchange
	ctx     context.Context
	cancel  context.CancelFunc
	reason  string

	stopRequested atomic.Bool
	status        atomic.Pointer[Status]
	done          chan struct{}
}

func NewSession(cfg Config, cat Catalog, peer Peer, mode Mode) *Session {
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = defaultExchangeTimeout
	}
	if cfg.BatchSeries <= 0 {
		cfg.BatchSeries = defaultBatchSeries
	}
	id := xid.New()
	s := &Session{
		cfg:     cfg,
		catalog: cat,
		peer:    peer,
		mode:    mode,
		id:      id,
		prefix:  fmt.Sprintf("[initsync db=%s session=%s]", cfg.Database, id),
		record:  NewRecord(),
		done:    make(chan struct{}),
	}
	s.publish()
	return s
}

func (s *Session) ID() string {
	return s.id.String()
}

func (s *Session) Database() string {
	return s.cfg.Database
}

// Begin opens the progress store and moves the session to Running.
// A resume whose progress file no longer checks out fails the session with ErrCorruptProgress.
func (s *Session) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Unstarted {
		return fmt.Errorf("begin session in state %s", s.state)
	}
	s.setState(Opening)
	log.Info("%s opening progress store %s (%s)", s.prefix, s.cfg.Path, s.mode)

	store, err := s.openStore()
	if err != nil {
		s.fail(err)
		return err
	}
	s.store = store
	s.record = store.Record()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.setState(Running)
	log.Info("%s running from series id %d", s.prefix, s.record.NextSeriesID)
	return nil
}

func (s *Session) openStore() (*ProgressStore, error) {
	if !s.mode.IsResume() {
		return CreateProgressStore(s.cfg.Path, s.cfg.WriteFile)
	}

	cp := s.mode.checkpoint
	if cp == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoint, s.cfg.Path)
	}
	if cp.Path() != s.cfg.Path {
		return nil, fmt.Errorf("%w: checkpoint %s does not belong to %s", ErrCorruptProgress, cp.Path(), s.cfg.Path)
	}
	store, err := OpenProgressStore(s.cfg.Path, s.cfg.WriteFile)
	if err != nil {
		return nil, err
	}
	if store.Record() != cp.Record() {
		_ = store.Close()
		return nil, fmt.Errorf("%w: progress file changed after it was found", ErrCorruptProgress)
	}
	if store.Size() != RecordSize {
		_ = store.Close()
		return nil, fmt.Errorf("%w: size %d, want %d", ErrCorruptProgress, store.Size(), RecordSize)
	}
	highest, err := s.catalog.HighestAllocatedID()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("read highest allocated id: %w", err)
	}
	if err = store.Record().Validate(highest); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Tick advances the session by at most one step. It returns immediately when
// an exchange is still outstanding.
func (s *Session) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Unstarted, Opening, Completed, Failed, Stopped:
		return
	}

	if p := s.pending; p != nil {
		select {
		case <-p.ready:
		default:
			metrics.InitSyncBackPressureTotal.WithLabelValues(s.cfg.Database).Inc()
			return
		}
		s.pending = nil
		s.setState(Running)

		retry := s.handle(p.req, <-p.result)
		if s.state.Terminal() {
			return
		}
		if s.stopRequested.Load() {
			s.stop()
			return
		}
		if retry {
			return
		}
	}

	if s.stopRequested.Load() {
		s.stop()
		return
	}
	s.issue()
}

// handle applies the outcome of an exchange. It returns true when the
// exchange failed transiently and should be issued again.
func (s *Session) handle(req Request, out exchangeOutcome) bool {
	metrics.InitSyncExchangeDuration.WithLabelValues(s.cfg.Database).Observe(out.elapsed.Seconds())
	if errors.Is(out.err, ErrPeerRejected) {
		metrics.InitSyncExchangeFailuresTotal.WithLabelValues(s.cfg.Database, "rejected").Inc()
		s.fail(out.err)
		return false
	}
	if out.err != nil {
		metrics.InitSyncExchangeFailuresTotal.WithLabelValues(s.cfg.Database, "transient").Inc()
		log.Warn("%s exchange from series id %d failed, retrying on next tick: %v", s.prefix, req.Cursor, out.err)
		return true
	}

	resp, err := DecodeResponse(out.payload)
	if err == nil {
		err = resp.Validate(req)
	}
	if err != nil {
		metrics.InitSyncExchangeFailuresTotal.WithLabelValues(s.cfg.Database, "protocol").Inc()
		s.fail(err)
		return false
	}

	results, err := s.catalog.ApplyRemoteBatch(resp.Series)
	if err != nil {
		s.fail(fmt.Errorf("apply batch from series id %d: %w", req.Cursor, err))
		return false
	}
	inserted := 0
	for _, res := range results {
		if res == catalog.Inserted {
			inserted++
		}
	}
	metrics.InitSyncAppliedTotal.WithLabelValues(s.cfg.Database, catalog.Inserted.String()).Add(float64(inserted))
	metrics.InitSyncAppliedTotal.WithLabelValues(s.cfg.Database, catalog.AlreadyPresent.String()).
		Add(float64(len(results) - inserted))

	rec := s.record
	rec.NextSeriesID = resp.Next
	rec.PeerHighestID = resp.Highest
	rec.ConsumedBytes += uint64(len(out.payload))
	rec.Synced += uint64(len(results))

	if resp.Done {
		if err = s.store.Remove(); err != nil {
			s.fail(fmt.Errorf("%w: %v", ErrDurability, err))
			return false
		}
		s.record = rec
		s.finish(Completed)
		log.Info("%s finished: %d series synced, %d bytes", s.prefix, rec.Synced, rec.ConsumedBytes)
		return false
	}

	if err = s.store.Save(rec); err != nil {
		metrics.InitSyncExchangeFailuresTotal.WithLabelValues(s.cfg.Database, "durability").Inc()
		s.fail(err)
		return false
	}
	s.record = rec
	s.publish()
	log.Debug("%s applied %d series (%d new), next series id %d of %d",
		s.prefix, len(results), inserted, rec.NextSeriesID, rec.PeerHighestID)
	return false
}

func (s *Session) issue() {
	req := Request{
		Database:  s.cfg.Database,
		Cursor:    s.record.NextSeriesID,
		MaxSeries: s.cfg.BatchSeries,
		MaxBytes:  s.cfg.BatchBytes,
	}
	payload, err := EncodeRequest(req)
	if err != nil {
		s.fail(err)
		return
	}

	p := &pendingExchange{
		req:    req,
		result: make(chan exchangeOutcome, 1),
		ready:  make(chan struct{}),
	}
	s.pending = p
	s.setState(WaitingOnPeer)

	go func(ctx context.Context, timeout time.Duration) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		resp, err := s.peer.SendRequest(ctx, payload)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %v", ErrExchangeTimeout, timeout, err)
		}
		p.result <- exchangeOutcome{payload: resp, err: err, elapsed: time.Since(start)}
		close(p.ready)
	}(s.ctx, s.cfg.ExchangeTimeout)
}

// Stop asks the session to stop at the next safe point: after the outstanding
// exchange, if any, has been applied or has failed. The progress file is kept.
func (s *Session) Stop() {
	s.stopRequested.Store(true)
}

func (s *Session) stop() {
	if err := s.store.Close(); err != nil {
		log.Warn("%s close progress store: %v", s.prefix, err)
	}
	s.finish(Stopped)
	log.Info("%s stopped at series id %d", s.prefix, s.record.NextSeriesID)
}

func (s *Session) fail(err error) {
	s.reason = err.Error()
	if s.store != nil {
		if cerr := s.store.Close(); cerr != nil {
			log.Warn("%s close progress store: %v", s.prefix, cerr)
		}
	}
	s.finish(Failed)
	log.Error("%s failed: %v", s.prefix, err)
}

func (s *Session) finish(st State) {
	if s.cancel != nil {
		s.cancel()
	}
	s.setState(st)
	close(s.done)
}

func (s *Session) setState(st State) {
	s.state = st
	metrics.InitSyncState.WithLabelValues(s.cfg.Database).Set(float64(st))
	s.publish()
}

func (s *Session) publish() {
	metrics.InitSyncCursor.WithLabelValues(s.cfg.Database).Set(float64(s.record.NextSeriesID))
	metrics.InitSyncPeerHighest.WithLabelValues(s.cfg.Database).Set(float64(s.record.PeerHighestID))
	s.status.Store(&Status{
		Database:    s.cfg.Database,
		SessionID:   s.id.String(),
		State:       s.state,
		StateName:   s.state.String(),
		Cursor:      s.record.NextSeriesID,
		PeerHighest: s.record.PeerHighestID,
		Synced:      s.record.Synced,
		Bytes:       s.record.ConsumedBytes,
		Reason:      s.reason,
		UpdatedAt:   time.Now(),
	})
}

// Status returns the latest snapshot without waiting for a tick in progress.
func (s *Session) Status() Status {
	return *s.status.Load()
}

// Done is closed once the session has completed, failed or stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Ready is closed once the outstanding exchange has an outcome for the next
// tick to handle. Without an outstanding exchange it is already closed.
func (s *Session) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return closedChan
	}
	return s.pending.ready
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Err returns the failure reason of a failed session.
func (s *Session) Err() string {
	return s.Status().Reason
}
