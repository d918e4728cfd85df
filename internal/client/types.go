package client

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	MsgData      MessageType = "data"
	MsgHeartbeat MessageType = "heartbeat"
	MsgError     MessageType = "error"
)

// WSMessage is one frame received from a live stream.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	CursorKey string          `json:"cursorKey"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the body of error frames and HTTP error responses.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type HeartbeatPayload struct {
	At time.Time `json:"at"`
}

type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"createdAt"`
}

type Task struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Assignee    string    `json:"assignee,omitempty"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type TimeEntry struct {
	ID        string        `json:"id"`
	TaskID    string        `json:"taskId"`
	User      string        `json:"user"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Note      string        `json:"note,omitempty"`
}

type Health struct {
	Status    string         `json:"status"`
	Uptime    string         `json:"uptime"`
	Sessions  int            `json:"sessions"`
	Feeds     map[string]int `json:"feeds"`
	Listeners int            `json:"listeners"`
}
