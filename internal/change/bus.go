package change

import (
	"runtime/debug"
	"slices"
	"sync"

	"github.com/golang/glog"
)

// Listener receives events synchronously from Publish. It must not block:
// anything slow belongs on the listener's own goroutine.
type Listener func(Event)

type registration struct {
	id uint64
	fn Listener
}

// Option configures a Bus.
type Option func(*Bus)

// WithPanicHandler installs a hook invoked after a listener panic has been
// recovered and logged.
func WithPanicHandler(fn func(Kind, any)) Option {
	return func(b *Bus) {
		b.onPanic = fn
	}
}

// Bus is an in-memory, single-process fan-out hub keyed by Kind.
//
// Listener lists are copy-on-write: Subscribe and unsubscribe replace the
// slice for a kind under mu, and Publish iterates whatever slice it loaded,
// so registrations may change while a publish is running.
type Bus struct {
	mu        sync.Mutex
	listeners map[Kind][]registration
	nextID    uint64
	onPanic   func(Kind, any)
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{
		listeners: make(map[Kind][]registration),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers fn for events of the given kind and returns a function
// that removes the registration. The returned function is safe to call more
// than once.
func (b *Bus) Subscribe(kind Kind, fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	next := slices.Clone(b.listeners[kind])
	next = append(next, registration{id: id, fn: fn})
	b.listeners[kind] = next
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.remove(kind, id)
		})
	}
}

func (b *Bus) remove(kind Kind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.listeners[kind]
	i := slices.IndexFunc(current, func(r registration) bool { return r.id == id })
	if i < 0 {
		return
	}
	next := slices.Delete(slices.Clone(current), i, i+1)
	if len(next) == 0 {
		delete(b.listeners, kind)
		return
	}
	b.listeners[kind] = next
}

// Publish delivers ev to every listener registered for ev.Kind, in
// registration order. It never returns an error and never panics: a failing
// listener is logged and skipped.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	regs := b.listeners[ev.Kind]
	b.mu.Unlock()

	if glog.V(2) {
		glog.Infof("publish %s entity=%s scope=%s listeners=%d", ev.Kind, ev.EntityID, ev.ScopeID, len(regs))
	}
	for _, r := range regs {
		b.safeCall(r.fn, ev)
	}
}

func (b *Bus) safeCall(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("change listener panicked on %s scope=%s: %v\n%s", ev.Kind, ev.ScopeID, r, debug.Stack())
			if b.onPanic != nil {
				b.onPanic(ev.Kind, r)
			}
		}
	}()
	fn(ev)
}

// ListenerCount returns the number of listeners registered for kind.
func (b *Bus) ListenerCount(kind Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[kind])
}

// TotalListeners returns the number of registrations across all kinds.
func (b *Bus) TotalListeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, regs := range b.listeners {
		n += len(regs)
	}
	return n
}
