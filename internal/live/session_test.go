package live

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"go.uber.org/goleak"

	"github.com/planboard/backend/internal/change"
)

func taskListFeed(l Loader) Feed {
	return Feed{Name: "task_list", Kind: change.KindTaskList, Loader: l}
}

func TestSession_ReloadsAndEmitsOnMatchingEvent(t *testing.T) {
	bus := change.NewBus()
	loader := &recordingLoader{}
	h := newTestHub(t, bus, HubConfig{}, taskListFeed(loader))

	s := startSession(t, h, "task_list", Filter{ScopeID: "project-1"})
	bus.Publish(change.Event{Kind: change.KindTaskList, EntityID: "t1", ScopeID: "project-1"})

	env := s.expectEnvelope(t)
	if env.IsHeartbeat() {
		t.Fatal("expected a data envelope, got a heartbeat")
	}
	if env.CursorKey != "project-1" {
		t.Errorf("CursorKey = %q, want %q", env.CursorKey, "project-1")
	}
	if want := []string{"loaded:project-1"}; !reflect.DeepEqual(env.Payload, want) {
		t.Errorf("Payload = %v, want %v", env.Payload, want)
	}
	if calls := loader.Calls(); len(calls) != 1 || calls[0].ScopeID != "project-1" {
		t.Errorf("loader calls = %+v, want one call for project-1", calls)
	}
	s.expectNoEnvelope(t)
}

func TestSession_ScopeIsolation(t *testing.T) {
	bus := change.NewBus()
	loader := &recordingLoader{}
	h := newTestHub(t, bus, HubConfig{}, taskListFeed(loader))

	s1 := startSession(t, h, "task_list", Filter{ScopeID: "project-1"})
	s2 := startSession(t, h, "task_list", Filter{ScopeID: "project-2"})

	bus.Publish(change.Event{Kind: change.KindTaskList, EntityID: "t1", ScopeID: "project-1"})

	s1.expectEnvelope(t)
	s2.expectNoEnvelope(t)

	for _, c := range loader.Calls() {
		if c.ScopeID == "project-2" {
			t.Errorf("loader invoked for project-2 session")
		}
	}
}

func TestSession_FanOut(t *testing.T) {
	const n = 5
	bus := change.NewBus()
	loader := &recordingLoader{}
	h := newTestHub(t, bus, HubConfig{}, taskListFeed(loader))

	sessions := make([]*runningSession, n)
	for i := range sessions {
		sessions[i] = startSession(t, h, "task_list", Filter{ScopeID: "project-1"})
	}

	bus.Publish(change.Event{Kind: change.KindTaskList, EntityID: "t1", ScopeID: "project-1"})

	for _, s := range sessions {
		if env := s.expectEnvelope(t); env.IsHeartbeat() {
			t.Errorf("session %s: got heartbeat, want data", s.ID())
		}
	}
	for _, s := range sessions {
		s.expectNoEnvelope(t)
	}
	if got := len(loader.Calls()); got != n {
		t.Errorf("loader calls = %d, want %d", got, n)
	}
}

func TestSession_OneEnvelopePerEvent(t *testing.T) {
	bus := change.NewBus()
	loader := &recordingLoader{}
	h := newTestHub(t, bus, HubConfig{}, taskListFeed(loader))

	s, err := h.Open("task_list", Filter{ScopeID: "project-1"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// Published before Run starts: still owed.
	for i := 0; i < 3; i++ {
		bus.Publish(change.Event{Kind: change.KindTaskList, EntityID: "t1", ScopeID: "project-1"})
	}

	envs := make(chan Envelope, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, func(env Envelope) error {
		envs <- env
		return nil
	})

	for i := 0; i < 3; i++ {
		select {
		case <-envs:
		case <-time.After(waitTimeout):
			t.Fatalf("got %d envelopes, want 3", i)
		}
	}
	select {
	case env := <-envs:
		t.Fatalf("unexpected fourth envelope %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_EntityFilter(t *testing.T) {
	bus := change.NewBus()
	loader := &recordingLoader{}
	h := newTestHub(t, bus, HubConfig{}, Feed{Name: "task", Kind: change.KindTask, RequireEntity: true, Loader: loader})

	s := startSession(t, h, "task", Filter{ScopeID: "project-1", EntityID: "t1"})

	bus.Publish(change.Event{Kind: change.KindTask, EntityID: "t2", ScopeID: "project-1"})
	s.expectNoEnvelope(t)

	bus.Publish(change.Event{Kind: change.KindTask, EntityID: "t1", ScopeID: "project-1"})
	s.expectEnvelope(t)

	calls := loader.Calls()
	if len(calls) != 1 || calls[0].EntityID != "t1" {
		t.Errorf("loader calls = %+v, want one call for t1", calls)
	}
}

func TestSession_NoCrossTalkBetweenKinds(t *testing.T) {
	bus := change.NewBus()
	comments := &recordingLoader{}
	timeEntries := &recordingLoader{}
	h := newTestHub(t, bus, HubConfig{},
		Feed{Name: "comments", Kind: change.KindComment, Loader: comments},
		Feed{Name: "time_entries", Kind: change.KindTimeTrack, Loader: timeEntries},
	)

	cs := startSession(t, h, "comments", Filter{ScopeID: "task-1"})
	ts := startSession(t, h, "time_entries", Filter{ScopeID: "task-1"})

	bus.Publish(change.Event{Kind: change.KindComment, EntityID: "c1", ScopeID: "task-1"})

	cs.expectEnvelope(t)
	ts.expectNoEnvelope(t)
	if got := len(timeEntries.Calls()); got != 0 {
		t.Errorf("time entry loader called %d times", got)
	}
}

func TestSession_HeartbeatLiveness(t *testing.T) {
	clk := testclock.NewClock(testEpoch)
	bus := change.NewBus()
	h := newTestHub(t, bus, HubConfig{Clock: clk, HeartbeatInterval: 15 * time.Second}, taskListFeed(&recordingLoader{}))

	s := startSession(t, h, "task_list", Filter{ScopeID: "project-1"})

	// 16s of silence: exactly one heartbeat around the 15s mark.
	if err := clk.WaitAdvance(15*time.Second, waitTimeout, 1); err != nil {
		t.Fatal(err)
	}
	env := s.expectEnvelope(t)
	if !env.IsHeartbeat() {
		t.Fatalf("expected heartbeat, got %+v", env)
	}
	if env.CursorKey != "project-1" {
		t.Errorf("heartbeat CursorKey = %q, want %q", env.CursorKey, "project-1")
	}
	if env.Heartbeat.At.Before(testEpoch.Add(15 * time.Second)) {
		t.Errorf("heartbeat At = %v, want >= %v", env.Heartbeat.At, testEpoch.Add(15*time.Second))
	}
	if env.Payload != nil {
		t.Errorf("heartbeat carries payload %v", env.Payload)
	}

	if err := clk.WaitAdvance(time.Second, waitTimeout, 1); err != nil {
		t.Fatal(err)
	}
	s.expectNoEnvelope(t)

	// The heartbeat itself does not count as activity: the next one is due
	// at 30s.
	if err := clk.WaitAdvance(14*time.Second, waitTimeout, 1); err != nil {
		t.Fatal(err)
	}
	if env := s.expectEnvelope(t); !env.IsHeartbeat() {
		t.Fatalf("expected second heartbeat, got %+v", env)
	}
}

func TestSession_NonMatchingTrafficDoesNotDelayHeartbeat(t *testing.T) {
	clk := testclock.NewClock(testEpoch)
	bus := change.NewBus()
	h := newTestHub(t, bus, HubConfig{Clock: clk, HeartbeatInterval: 15 * time.Second}, taskListFeed(&recordingLoader{}))

	s := startSession(t, h, "task_list", Filter{ScopeID: "project-1"})

	if err := clk.WaitAdvance(10*time.Second, waitTimeout, 1); err != nil {
		t.Fatal(err)
	}
	bus.Publish(change.Event{Kind: change.KindTaskList, EntityID: "t9", ScopeID: "project-2"})
	s.expectNoEnvelope(t)

	if err := clk.WaitAdvance(5*time.Second, waitTimeout, 1); err != nil {
		t.Fatal(err)
	}
	if env := s.expectEnvelope(t); !env.IsHeartbeat() {
		t.Fatalf("expected heartbeat at 15s, got %+v", env)
	}
}

func TestSession_DataEmissionRearmsHeartbeat(t *testing.T) {
	clk := testclock.NewClock(testEpoch)
	bus := change.NewBus()
	h := newTestHub(t, bus, HubConfig{Clock: clk, HeartbeatInterval: 15 * time.Second}, taskListFeed(&recordingLoader{}))

	s := startSession(t, h, "task_list", Filter{ScopeID: "project-1"})

	if err := clk.WaitAdvance(10*time.Second, waitTimeout, 1); err != nil {
		t.Fatal(err)
	}
	bus.Publish(change.Event{Kind: change.KindTaskList, EntityID: "t1", ScopeID: "project-1"})
	if env := s.expectEnvelope(t); env.IsHeartbeat() {
		t.Fatal("expected data envelope")
	}

	// Next heartbeat is due 15s after the data envelope, at 25s.
	if err := clk.WaitAdvance(5*time.Second, waitTimeout, 1); err != nil {
		t.Fatal(err)
	}
	s.expectNoEnvelope(t)

	if err := clk.WaitAdvance(10*time.Second, waitTimeout, 1); err != nil {
		t.Fatal(err)
	}
	if env := s.expectEnvelope(t); !env.IsHeartbeat() {
		t.Fatalf("expected heartbeat at 25s, got %+v", env)
	}
}

func TestSession_ExpiresAfterTTL(t *testing.T) {
	clk := testclock.NewClock(testEpoch)
	bus := change.NewBus()
	h := newTestHub(t, bus, HubConfig{
		Clock:             clk,
		HeartbeatInterval: 2 * time.Minute,
		MaxSessionTTL:     time.Minute,
	}, taskListFeed(&recordingLoader{}))

	s := startSession(t, h, "task_list", Filter{ScopeID: "project-1"})

	// Heartbeat timer plus TTL timer.
	if err := clk.WaitAdvance(time.Minute, waitTimeout, 2); err != nil {
		t.Fatal(err)
	}
	if err := s.expectDone(t); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Run = %v, want ErrSessionExpired", err)
	}
	if got := bus.ListenerCount(change.KindTaskList); got != 0 {
		t.Errorf("ListenerCount = %d after expiry, want 0", got)
	}
	if got := h.Count(); got != 0 {
		t.Errorf("hub Count = %d after expiry, want 0", got)
	}
	if got := s.State(); got != Closed {
		t.Errorf("State = %v, want closed", got)
	}
}

func TestSession_LoaderErrorClosesOnlyThatSession(t *testing.T) {
	bus := change.NewBus()
	failing := &recordingLoader{err: errors.NotFoundf("project %q", "project-1")}
	healthy := &recordingLoader{}
	h := newTestHub(t, bus, HubConfig{},
		Feed{Name: "broken", Kind: change.KindTaskList, Loader: failing},
		taskListFeed(healthy),
	)

	bad := startSession(t, h, "broken", Filter{ScopeID: "project-1"})
	good := startSession(t, h, "task_list", Filter{ScopeID: "project-1"})

	bus.Publish(change.Event{Kind: change.KindTaskList, EntityID: "t1", ScopeID: "project-1"})

	err := bad.expectDone(t)
	if !errors.Is(err, errors.NotFound) {
		t.Fatalf("Run = %v, want a NotFound error", err)
	}
	bad.expectNoEnvelope(t)
	good.expectEnvelope(t)

	if got := bus.ListenerCount(change.KindTaskList); got != 1 {
		t.Errorf("ListenerCount = %d, want 1 (only the healthy session)", got)
	}

	bus.Publish(change.Event{Kind: change.KindTaskList, EntityID: "t2", ScopeID: "project-1"})
	good.expectEnvelope(t)
	if got := len(failing.Calls()); got != 1 {
		t.Errorf("failing loader called %d times, want 1", got)
	}
}

func TestSession_CancelIsClean(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := change.NewBus()
	loader := &recordingLoader{}
	h, err := NewHub(bus, HubConfig{Clock: testclock.NewClock(testEpoch)}, taskListFeed(loader))
	if err != nil {
		t.Fatal(err)
	}
	baseline := bus.ListenerCount(change.KindTaskList)

	s, err := h.Open("task_list", Filter{ScopeID: "project-1"})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(Envelope) error {
			t.Error("emit called after cancellation")
			return nil
		})
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after cancel")
	}

	bus.Publish(change.Event{Kind: change.KindTaskList, EntityID: "t1", ScopeID: "project-1"})

	if got := len(loader.Calls()); got != 0 {
		t.Errorf("loader called %d times after cancel", got)
	}
	if got := bus.ListenerCount(change.KindTaskList); got != baseline {
		t.Errorf("ListenerCount = %d, want baseline %d", got, baseline)
	}
	if got := h.Count(); got != 0 {
		t.Errorf("hub Count = %d, want 0", got)
	}

	// Idempotent.
	s.Close()
	s.Close()
}

func TestSession_AbandonedReloadIsNotEmitted(t *testing.T) {
	bus := change.NewBus()
	started := make(chan struct{})
	release := make(chan struct{})
	slow := LoaderFunc(func(context.Context, Filter) (any, error) {
		close(started)
		<-release
		return "stale", nil
	})
	h := newTestHub(t, bus, HubConfig{}, taskListFeed(slow))

	s := startSession(t, h, "task_list", Filter{ScopeID: "project-1"})
	bus.Publish(change.Event{Kind: change.KindTaskList, EntityID: "t1", ScopeID: "project-1"})

	select {
	case <-started:
	case <-time.After(waitTimeout):
		t.Fatal("loader never started")
	}
	if got := s.State(); got != Reconciling {
		t.Errorf("State during reload = %v, want reconciling", got)
	}

	s.Close()
	if err := s.expectDone(t); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Run = %v, want ErrSessionClosed", err)
	}

	close(release)
	s.expectNoEnvelope(t)
}

func TestSession_EmitErrorEndsSession(t *testing.T) {
	bus := change.NewBus()
	h := newTestHub(t, bus, HubConfig{}, taskListFeed(&recordingLoader{}))

	s, err := h.Open("task_list", Filter{ScopeID: "project-1"})
	if err != nil {
		t.Fatal(err)
	}
	bus.Publish(change.Event{Kind: change.KindTaskList, EntityID: "t1", ScopeID: "project-1"})

	writeErr := errors.New("connection reset")
	err = s.Run(context.Background(), func(Envelope) error { return writeErr })
	if !errors.Is(err, writeErr) {
		t.Fatalf("Run = %v, want wrapped write error", err)
	}
	if got := bus.ListenerCount(change.KindTaskList); got != 0 {
		t.Errorf("ListenerCount = %d, want 0", got)
	}
}

func TestSession_RunAfterClose(t *testing.T) {
	bus := change.NewBus()
	h := newTestHub(t, bus, HubConfig{}, taskListFeed(&recordingLoader{}))

	s, err := h.Open("task_list", Filter{ScopeID: "project-1"})
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	err = s.Run(context.Background(), func(Envelope) error {
		t.Error("emit called on closed session")
		return nil
	})
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Run = %v, want ErrSessionClosed", err)
	}
}
