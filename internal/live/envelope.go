package live

import "time"

// Heartbeat marks a keep-alive envelope. It carries no domain data.
type Heartbeat struct {
	At time.Time `json:"at"`
}

// Envelope is one unit pushed to a client stream: either a freshly loaded
// payload or a heartbeat, never both.
type Envelope struct {
	CursorKey string
	Payload   any
	Heartbeat *Heartbeat
}

func (e Envelope) IsHeartbeat() bool {
	return e.Heartbeat != nil
}

func dataEnvelope(key string, payload any) Envelope {
	return Envelope{CursorKey: key, Payload: payload}
}

func heartbeatEnvelope(key string, at time.Time) Envelope {
	return Envelope{CursorKey: key, Heartbeat: &Heartbeat{At: at}}
}
