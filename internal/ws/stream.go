package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/juju/errors"

	"github.com/planboard/backend/internal/live"
)

// ErrClientTooSlow ends a stream whose send buffer is full.
const ErrClientTooSlow = errors.ConstError("client too slow")

const (
	sendBuffer     = 64
	maxClientFrame = 4096
)

// wsClient owns one WebSocket connection. Frames are queued on send and
// written by writePump; readPump only watches for the client going away.
type wsClient struct {
	conn         *websocket.Conn
	send         chan []byte
	writeTimeout time.Duration
	done         chan struct{}
}

func newWSClient(conn *websocket.Conn, writeTimeout time.Duration, cancel context.CancelFunc) *wsClient {
	c := &wsClient{
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	go c.writePump(cancel)
	go c.readPump(cancel)
	return c
}

func (c *wsClient) writePump(cancel context.CancelFunc) {
	defer close(c.done)
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			glog.V(1).Infof("ws: write to %s failed: %v", c.conn.RemoteAddr(), err)
			cancel()
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump discards client frames. Any read error means the peer is gone.
func (c *wsClient) readPump(cancel context.CancelFunc) {
	defer cancel()
	c.conn.SetReadLimit(maxClientFrame)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) enqueue(msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Annotate(err, "encoding frame")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrClientTooSlow
	}
}

func (c *wsClient) emit(env live.Envelope) error {
	return c.enqueue(messageFor(env))
}

// finish queues the closing error frame, if any, and waits for the writer
// to flush and close the connection.
func (c *wsClient) finish(cursorKey string, err error) {
	if reportable(err) {
		if qerr := c.enqueue(errorMessage(cursorKey, err)); qerr != nil {
			glog.Warningf("ws: dropping error frame for %s: %v", cursorKey, qerr)
		}
	}
	close(c.send)
	<-c.done
}

// sseWriter streams frames as Server-Sent Events, one event per frame with
// the frame type as the event name.
type sseWriter struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration
}

func newSSEWriter(w http.ResponseWriter, writeTimeout time.Duration) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w), writeTimeout: writeTimeout}
}

func (s *sseWriter) start() error {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	return errors.Trace(s.rc.Flush())
}

func (s *sseWriter) write(msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Annotate(err, "encoding frame")
	}
	// Not every ResponseWriter supports deadlines; ignore ErrNotSupported.
	_ = s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", msg.Type, data); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.rc.Flush())
}

func (s *sseWriter) emit(env live.Envelope) error {
	return s.write(messageFor(env))
}

func (s *sseWriter) finish(cursorKey string, err error) {
	if reportable(err) {
		s.write(errorMessage(cursorKey, err))
	}
}
