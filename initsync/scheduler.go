package initsync

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Ticker is something the Scheduler advances.
type Ticker interface {
	Tick()
	Done() <-chan struct{}
}

// Scheduler ticks every registered session on a fixed interval from a single
// goroutine, so ticks of one session never overlap.
type Scheduler struct {
	clock    clockwork.Clock
	interval time.Duration

	mu      sync.Mutex
	tickers map[string]Ticker
}

func NewScheduler(clock clockwork.Clock, interval time.Duration) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		clock:    clock,
		interval: interval,
		tickers:  map[string]Ticker{},
	}
}

// Add registers t under name, replacing any ticker already registered under it.
func (s *Scheduler) Add(name string, t Ticker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickers[name] = t
}

func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickers, name)
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickers)
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	t := s.clock.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			s.TickAll()
		}
	}
}

// TickAll ticks every registered ticker once and drops the ones that are done.
func (s *Scheduler) TickAll() {
	s.mu.Lock()
	tickers := make(map[string]Ticker, len(s.tickers))
	for name, t := range s.tickers {
		tickers[name] = t
	}
	s.mu.Unlock()

	for name, t := range tickers {
		t.Tick()
		select {
		case <-t.Done():
			s.removeIf(name, t)
		default:
		}
	}
}

func (s *Scheduler) removeIf(name string, t Ticker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tickers[name] == t {
		delete(s.tickers, name)
	}
}
