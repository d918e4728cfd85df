package live

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/oklog/ulid/v2"

	"github.com/planboard/backend/internal/change"
)

// ErrTooManySessions is returned by Open when the hub is at capacity.
const ErrTooManySessions = errors.ConstError("too many live sessions")

// DefaultHeartbeatInterval keeps idle streams from being reaped by proxies.
const DefaultHeartbeatInterval = 15 * time.Second

// Subscriber is the read side of the change bus.
type Subscriber interface {
	Subscribe(kind change.Kind, fn change.Listener) (unsubscribe func())
}

// HubConfig tunes the sessions a Hub opens. Zero values fall back to
// defaults; a zero MaxSessionTTL or MaxSessions means unlimited.
type HubConfig struct {
	HeartbeatInterval time.Duration
	MaxSessionTTL     time.Duration
	MaxSessions       int
	Clock             clock.Clock
	Observer          Observer
}

// Hub opens sessions against a set of feeds and tracks the live ones so
// they can be counted, capped and shut down together.
type Hub struct {
	bus   Subscriber
	feeds map[string]Feed
	cfg   HubConfig

	mu       sync.Mutex
	sessions map[*Session]struct{}
	shutdown bool
}

func NewHub(bus Subscriber, cfg HubConfig, feeds ...Feed) (*Hub, error) {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}

	h := &Hub{
		bus:      bus,
		feeds:    make(map[string]Feed, len(feeds)),
		cfg:      cfg,
		sessions: make(map[*Session]struct{}),
	}
	for _, f := range feeds {
		if f.Name == "" || f.Loader == nil || !f.Kind.Valid() {
			return nil, errors.NotValidf("feed %q", f.Name)
		}
		if _, dup := h.feeds[f.Name]; dup {
			return nil, errors.AlreadyExistsf("feed %q", f.Name)
		}
		h.feeds[f.Name] = f
	}
	return h, nil
}

// Feed looks up a registered feed by name.
func (h *Hub) Feed(name string) (Feed, bool) {
	f, ok := h.feeds[name]
	return f, ok
}

// Open registers a new session with the bus. Events published after Open
// returns are owed to the session even if Run has not started yet. The
// caller must either Run or Close the session.
func (h *Hub) Open(feedName string, filter Filter) (*Session, error) {
	feed, ok := h.feeds[feedName]
	if !ok {
		return nil, errors.NotFoundf("feed %q", feedName)
	}
	if err := filter.validate(feed.RequireEntity); err != nil {
		return nil, errors.Annotatef(err, "%s filter", feedName)
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	s := &Session{
		id:       ulid.Make().String(),
		feed:     feed,
		filter:   filter,
		clock:    h.cfg.Clock,
		interval: h.cfg.HeartbeatInterval,
		ttl:      h.cfg.MaxSessionTTL,
		observer: h.cfg.Observer,
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		onFinish: h.remove,
	}

	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		cancel(ErrHubShutdown)
		return nil, ErrHubShutdown
	}
	if h.cfg.MaxSessions > 0 && len(h.sessions) >= h.cfg.MaxSessions {
		h.mu.Unlock()
		cancel(ErrTooManySessions)
		return nil, ErrTooManySessions
	}
	s.unsubscribe = h.bus.Subscribe(feed.Kind, s.notify)
	h.sessions[s] = struct{}{}
	h.mu.Unlock()

	h.cfg.Observer.SessionOpened(feed.Name)
	glog.V(1).Infof("live session %s opened: %s %+v", s.id, feed.Name, filter)
	return s, nil
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}

// Count returns the number of open sessions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// CountByFeed returns open sessions grouped by feed name.
func (h *Hub) CountByFeed() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int, len(h.feeds))
	for name := range h.feeds {
		out[name] = 0
	}
	for s := range h.sessions {
		out[s.feed.Name]++
	}
	return out
}

// Shutdown closes every open session and refuses new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.shutdown = true
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close(ErrHubShutdown, ReasonShutdown)
	}
	if len(sessions) > 0 {
		glog.Infof("live hub shut down %d sessions", len(sessions))
	}
}
