package live

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/planboard/backend/internal/change"
)

const (
	// ErrSessionClosed is the cause reported when a session was closed
	// explicitly.
	ErrSessionClosed = errors.ConstError("live session closed")
	// ErrSessionExpired is returned by Run when the session outlived the
	// hub's maximum TTL. Clients are expected to resubscribe.
	ErrSessionExpired = errors.ConstError("live session expired")
	// ErrHubShutdown is the cause for sessions torn down by Hub.Shutdown.
	ErrHubShutdown = errors.ConstError("live hub shutting down")
)

// State is the position of a session in its run loop.
type State int32

const (
	Listening State = iota
	Reconciling
	Emitting
	Closed
)

var stateNames = map[State]string{
	Listening:   "listening",
	Reconciling: "reconciling",
	Emitting:    "emitting",
	Closed:      "closed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// EmitFunc hands one envelope to the client transport. A non-nil error ends
// the session.
type EmitFunc func(Envelope) error

// Session is a single client's subscription. It owns one bus registration
// and one heartbeat timer, and is driven by Run on the caller's goroutine.
type Session struct {
	id       string
	feed     Feed
	filter   Filter
	clock    clock.Clock
	interval time.Duration
	ttl      time.Duration
	observer Observer

	// pending counts matching events not yet reconciled; wake coalesces
	// notifications so the bus never blocks on a session.
	pending atomic.Int64
	wake    chan struct{}
	state   atomic.Int32

	ctx         context.Context
	cancel      context.CancelCauseFunc
	unsubscribe func()
	finishOnce  sync.Once
	onFinish    func(*Session)
}

func (s *Session) ID() string        { return s.id }
func (s *Session) Feed() string      { return s.feed.Name }
func (s *Session) Filter() Filter    { return s.filter }
func (s *Session) State() State      { return State(s.state.Load()) }
func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// notify is the bus listener. It runs on the publisher's goroutine and
// only records that a reload is owed.
func (s *Session) notify(ev change.Event) {
	if !s.filter.Matches(ev) {
		return
	}
	if s.ctx.Err() != nil {
		return
	}
	s.pending.Add(1)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the session until the context is cancelled, the session is
// closed, it expires, the loader fails or emit fails. Every matching event
// produces exactly one reload and one data envelope; silence longer than the
// heartbeat interval produces a heartbeat envelope.
//
// Run returns context.Canceled (or the context's cause) on client
// cancellation, ErrSessionExpired on TTL expiry, and the annotated loader or
// emit error otherwise. A session can be run only once.
func (s *Session) Run(ctx context.Context, emit EmitFunc) (err error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(s.ctx, func() { cancel(context.Cause(s.ctx)) })
	defer stop()

	reason := ReasonCanceled
	defer func() {
		s.finish(reason)
	}()

	heartbeat := s.clock.NewTimer(s.interval)
	defer heartbeat.Stop()

	var expiry <-chan time.Time
	if s.ttl > 0 {
		expiry = s.clock.After(s.ttl)
	}

	key := s.filter.CursorKey()
	for {
		s.setState(Listening)
		select {
		case <-ctx.Done():
			return context.Cause(ctx)

		case <-expiry:
			reason = ReasonExpired
			return ErrSessionExpired

		case now := <-heartbeat.Chan():
			// Re-arm before emitting: the next heartbeat is owed one interval
			// after this one regardless of how long the write takes.
			heartbeat.Reset(s.interval)
			if err := s.emit(ctx, emit, heartbeatEnvelope(key, now)); err != nil {
				reason = emitReason(ctx)
				return err
			}

		case <-s.wake:
			for s.pending.Load() > 0 {
				s.pending.Add(-1)

				s.setState(Reconciling)
				payload, err := s.reconcile(ctx)
				if ctx.Err() != nil {
					// Abandoned mid-reload: whatever came back is dropped.
					return context.Cause(ctx)
				}
				if err != nil {
					reason = ReasonLoaderError
					glog.Warningf("live session %s (%s %s): reload failed: %v", s.id, s.feed.Name, key, err)
					return errors.Annotatef(err, "reloading %s for %q", s.feed.Name, key)
				}

				resetTimer(heartbeat, s.interval)
				if err := s.emit(ctx, emit, dataEnvelope(key, payload)); err != nil {
					reason = emitReason(ctx)
					return err
				}
			}
		}
	}
}

func emitReason(ctx context.Context) string {
	if ctx.Err() != nil {
		return ReasonCanceled
	}
	return ReasonEmitError
}

// reconcile calls the loader on its own goroutine so cancellation does not
// have to wait for the loader to notice.
func (s *Session) reconcile(ctx context.Context) (any, error) {
	type result struct {
		payload any
		err     error
	}
	done := make(chan result, 1)
	go func() {
		payload, err := s.feed.Loader.Load(ctx, s.filter)
		done <- result{payload, err}
	}()

	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case r := <-done:
		return r.payload, r.err
	}
}

func (s *Session) emit(ctx context.Context, emit EmitFunc, env Envelope) error {
	if ctx.Err() != nil || s.State() == Closed {
		return context.Cause(ctx)
	}
	s.setState(Emitting)
	if err := emit(env); err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return errors.Annotatef(err, "emitting to %s session %s", s.feed.Name, s.id)
	}
	s.observer.Emitted(s.feed.Name, env.IsHeartbeat())
	if glog.V(1) {
		glog.Infof("live session %s (%s %s): emitted heartbeat=%t", s.id, s.feed.Name, env.CursorKey, env.IsHeartbeat())
	}
	return nil
}

// Close tears the session down. It is safe to call from any goroutine and
// more than once; a concurrent Run returns ErrSessionClosed.
func (s *Session) Close() {
	s.close(ErrSessionClosed, ReasonCanceled)
}

func (s *Session) close(cause error, reason string) {
	s.cancel(cause)
	s.finish(reason)
}

func (s *Session) finish(reason string) {
	s.finishOnce.Do(func() {
		s.cancel(ErrSessionClosed)
		s.unsubscribe()
		s.setState(Closed)
		s.observer.SessionClosed(s.feed.Name, reason)
		if s.onFinish != nil {
			s.onFinish(s)
		}
		glog.V(1).Infof("live session %s (%s %s) closed: %s", s.id, s.feed.Name, s.filter.CursorKey(), reason)
	})
}

func resetTimer(t clock.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
	t.Reset(d)
}
