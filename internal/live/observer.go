package live

// Close reasons reported to an Observer.
const (
	ReasonCanceled    = "canceled"
	ReasonExpired     = "expired"
	ReasonLoaderError = "loader_error"
	ReasonEmitError   = "emit_error"
	ReasonShutdown    = "shutdown"
)

// Observer receives session lifecycle notifications, typically for metrics.
type Observer interface {
	SessionOpened(feed string)
	Emitted(feed string, heartbeat bool)
	SessionClosed(feed, reason string)
}

type nopObserver struct{}

func (nopObserver) SessionOpened(string)         {}
func (nopObserver) Emitted(string, bool)         {}
func (nopObserver) SessionClosed(string, string) {}
