package ws

import (
	"context"
	"net/http"

	"github.com/juju/errors"

	"github.com/planboard/backend/internal/live"
)

type MessageType string

const (
	MsgData      MessageType = "data"
	MsgHeartbeat MessageType = "heartbeat"
	MsgError     MessageType = "error"
)

// WSMessage is the frame written to WebSocket and SSE streams.
type WSMessage struct {
	Type      MessageType `json:"type"`
	CursorKey string      `json:"cursorKey"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Error codes carried by MsgError frames and HTTP error bodies.
const (
	CodeNotFound     = "not_found"
	CodeForbidden    = "forbidden"
	CodeUnauthorized = "unauthorized"
	CodeInvalid      = "invalid"
	CodeConflict     = "conflict"
	CodeExpired      = "expired"
	CodeUnavailable  = "unavailable"
	CodeInternal     = "internal"
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func messageFor(env live.Envelope) WSMessage {
	if env.IsHeartbeat() {
		return WSMessage{Type: MsgHeartbeat, CursorKey: env.CursorKey, Payload: env.Heartbeat}
	}
	return WSMessage{Type: MsgData, CursorKey: env.CursorKey, Payload: env.Payload}
}

func errorMessage(cursorKey string, err error) WSMessage {
	return WSMessage{
		Type:      MsgError,
		CursorKey: cursorKey,
		Payload:   ErrorPayload{Code: errorCode(err), Message: err.Error()},
	}
}

var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{errors.NotFound, CodeNotFound, http.StatusNotFound},
	{errors.Forbidden, CodeForbidden, http.StatusForbidden},
	{errors.Unauthorized, CodeUnauthorized, http.StatusUnauthorized},
	{errors.NotValid, CodeInvalid, http.StatusBadRequest},
	{errors.BadRequest, CodeInvalid, http.StatusBadRequest},
	{errors.AlreadyExists, CodeConflict, http.StatusConflict},
	{live.ErrSessionExpired, CodeExpired, http.StatusGone},
	{live.ErrTooManySessions, CodeUnavailable, http.StatusServiceUnavailable},
	{live.ErrHubShutdown, CodeUnavailable, http.StatusServiceUnavailable},
}

func classify(err error) (string, int) {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code, c.status
		}
	}
	return CodeInternal, http.StatusInternalServerError
}

func errorCode(err error) string {
	code, _ := classify(err)
	return code
}

func httpStatus(err error) int {
	_, status := classify(err)
	return status
}

// reportable reports whether a stream that ended with err should tell the
// client why. Streams the client itself ended get no error frame.
func reportable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, live.ErrSessionClosed)
}
