package initsync_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/natefinch/atomic"

	"github.com/alpacahq/seriesdb/catalog"
	"github.com/alpacahq/seriesdb/initsync"
	"github.com/alpacahq/seriesdb/utils/test"
)

const waitTimeout = 5 * time.Second

// fakePeer answers requests from a source catalog unless SendFunc is set.
type fakePeer struct {
	source   catalog.Store
	SendFunc func(ctx context.Context, attempt int, req initsync.Request) ([]byte, error)

	mu       sync.Mutex
	requests []initsync.Request
}

func newFakePeer(t *testing.T, n int) *fakePeer {
	t.Helper()
	return &fakePeer{source: test.NewCatalog(t, n)}
}

func (p *fakePeer) SendRequest(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := initsync.DecodeRequest(payload)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.requests = append(p.requests, req)
	attempt := len(p.requests)
	p.mu.Unlock()

	if p.SendFunc != nil {
		return p.SendFunc(ctx, attempt, req)
	}
	return p.serve(req)
}

func (p *fakePeer) serve(req initsync.Request) ([]byte, error) {
	defs, err := p.source.SeriesFrom(req.Cursor, req.MaxSeries)
	if err != nil {
		return nil, err
	}
	highest, err := p.source.HighestAllocatedID()
	if err != nil {
		return nil, err
	}
	return initsync.EncodeResponse(initsync.BuildResponse(req, defs, highest), -1)
}

func (p *fakePeer) cursors() []catalog.SeriesID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]catalog.SeriesID, 0, len(p.requests))
	for _, req := range p.requests {
		out = append(out, req.Cursor)
	}
	return out
}

// recordingWriter wraps the default progress file writer and remembers every cursor it saved.
type recordingWriter struct {
	mu      sync.Mutex
	cursors []catalog.SeriesID
	Fail    func(rec initsync.Record) error
}

func (w *recordingWriter) WriteFile(path string, r io.Reader) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	var rec initsync.Record
	if err = rec.UnmarshalBinary(buf); err != nil {
		return err
	}
	if w.Fail != nil {
		if err = w.Fail(rec); err != nil {
			return err
		}
	}
	w.mu.Lock()
	w.cursors = append(w.cursors, rec.NextSeriesID)
	w.mu.Unlock()
	return writeAtomically(path, buf)
}

func (w *recordingWriter) saved() []catalog.SeriesID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]catalog.SeriesID(nil), w.cursors...)
}

func writeAtomically(path string, buf []byte) error {
	return atomic.WriteFile(path, bytes.NewReader(buf))
}

func waitReady(t *testing.T, s *initsync.Session) {
	t.Helper()
	select {
	case <-s.Ready():
	case <-time.After(waitTimeout):
		t.Fatal("exchange did not finish in time")
	}
}

// step ticks once and waits until the exchange it may have issued has an outcome.
func step(t *testing.T, s *initsync.Session) {
	t.Helper()
	s.Tick()
	waitReady(t, s)
}

// runToEnd ticks s until it reaches a terminal state.
func runToEnd(t *testing.T, s *initsync.Session) initsync.Status {
	t.Helper()
	for i := 0; i < 1000; i++ {
		select {
		case <-s.Done():
			return s.Status()
		default:
		}
		step(t, s)
	}
	t.Fatalf("session did not finish, last status %+v", s.Status())
	return initsync.Status{}
}
