package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/juju/errors"
)

// HTTPClient makes REST calls to the planboard backend.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8080").
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *HTTPClient) ListProjects(ctx context.Context) ([]Project, error) {
	var out []Project
	if err := c.do(ctx, http.MethodGet, "/api/projects", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	var out []Task
	if err := c.do(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(projectID)+"/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CreateTask(ctx context.Context, projectID, title string) (*Task, error) {
	var out Task
	body := map[string]string{"title": title}
	if err := c.do(ctx, http.MethodPost, "/api/projects/"+url.PathEscape(projectID)+"/tasks", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetStatus moves a task to another column.
func (c *HTTPClient) SetStatus(ctx context.Context, taskID, status string) (*Task, error) {
	var out Task
	body := map[string]string{"status": status}
	if err := c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(taskID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) AddComment(ctx context.Context, taskID, body string) (*Comment, error) {
	var out Comment
	req := map[string]string{"body": body}
	if err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(taskID)+"/comments", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Trace(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return errors.Trace(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Annotatef(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return responseError(method, path, resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return errors.Trace(json.NewDecoder(resp.Body).Decode(out))
	}
	return nil
}

// responseError turns an error response back into a typed error so callers
// can check errors.NotFound, errors.Forbidden and friends.
func responseError(method, path string, resp *http.Response) error {
	var p ErrorPayload
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &p) != nil || p.Code == "" {
		p = ErrorPayload{Code: "internal", Message: string(data)}
	}
	return errors.Annotatef(codeError(p), "%s %s: %d", method, path, resp.StatusCode)
}

func codeError(p ErrorPayload) error {
	switch p.Code {
	case "not_found":
		return errors.NewNotFound(nil, p.Message)
	case "forbidden":
		return errors.NewForbidden(nil, p.Message)
	case "unauthorized":
		return errors.NewUnauthorized(nil, p.Message)
	case "invalid":
		return errors.NewNotValid(nil, p.Message)
	case "conflict":
		return errors.NewAlreadyExists(nil, p.Message)
	case "expired":
		return errors.Annotate(ErrExpired, p.Message)
	case "unavailable":
		return errors.Annotate(ErrUnavailable, p.Message)
	}
	return errors.New(p.Message)
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
