package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/planboard/backend/internal/change"
)

const waitTimeout = 2 * time.Second

var testEpoch = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

// recordingLoader returns the filter's scope as payload and records every
// call it receives.
type recordingLoader struct {
	mu    sync.Mutex
	calls []Filter
	err   error
}

func (l *recordingLoader) Load(_ context.Context, f Filter) (any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, f)
	if l.err != nil {
		return nil, l.err
	}
	return []string{"loaded:" + f.ScopeID}, nil
}

func (l *recordingLoader) Calls() []Filter {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Filter, len(l.calls))
	copy(out, l.calls)
	return out
}

func newTestHub(t *testing.T, bus *change.Bus, cfg HubConfig, feeds ...Feed) *Hub {
	t.Helper()
	if cfg.Clock == nil {
		cfg.Clock = testclock.NewClock(testEpoch)
	}
	h, err := NewHub(bus, cfg, feeds...)
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	t.Cleanup(h.Shutdown)
	return h
}

// runningSession is a session driven by Run on a background goroutine.
type runningSession struct {
	*Session
	envelopes chan Envelope
	done      chan error
	cancel    context.CancelFunc
}

func startSession(t *testing.T, h *Hub, feed string, f Filter) *runningSession {
	t.Helper()
	s, err := h.Open(feed, f)
	if err != nil {
		t.Fatalf("Open(%s, %+v): %v", feed, f, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	rs := &runningSession{
		Session:   s,
		envelopes: make(chan Envelope, 64),
		done:      make(chan error, 1),
		cancel:    cancel,
	}
	go func() {
		rs.done <- s.Run(ctx, func(env Envelope) error {
			rs.envelopes <- env
			return nil
		})
	}()
	t.Cleanup(cancel)
	return rs
}

func (rs *runningSession) expectEnvelope(t *testing.T) Envelope {
	t.Helper()
	select {
	case env := <-rs.envelopes:
		return env
	case <-time.After(waitTimeout):
		t.Fatalf("session %s: timed out waiting for an envelope", rs.ID())
		return Envelope{}
	}
}

func (rs *runningSession) expectNoEnvelope(t *testing.T) {
	t.Helper()
	select {
	case env := <-rs.envelopes:
		t.Fatalf("session %s: unexpected envelope %+v", rs.ID(), env)
	case <-time.After(50 * time.Millisecond):
	}
}

func (rs *runningSession) expectDone(t *testing.T) error {
	t.Helper()
	select {
	case err := <-rs.done:
		return err
	case <-time.After(waitTimeout):
		t.Fatalf("session %s: Run did not return", rs.ID())
		return nil
	}
}
