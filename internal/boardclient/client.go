// Package boardclient talks to the board API: it fetches boards, requests
// moves and follows a space's realtime events, keeping a board.Board in step.
package boardclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"agileflow/internal/board"
	"agileflow/internal/domain"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status    int
	Message   string
	Retryable bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("board api: %d %s", e.Status, e.Message)
}

// Unwrap exposes the domain error matching the status so callers can use
// errors.Is with the domain sentinels.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusBadRequest:
		return domain.ErrInvalidArgument
	case http.StatusUnprocessableEntity:
		return domain.ErrCrossSpace
	case http.StatusConflict:
		if e.Retryable {
			return domain.ErrConflict
		}
		if strings.Contains(e.Message, domain.ErrPositionExhausted.Error()) {
			return domain.ErrPositionExhausted
		}
		return domain.ErrConflict
	case http.StatusServiceUnavailable:
		return domain.ErrPersistence
	}
	return nil
}

// Client is a board API client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
	logger  *log.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithToken sends token as a bearer credential.
func WithToken(token string) Option { return func(c *Client) { c.token = token } }

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithLogger overrides the logger.
func WithLogger(l *log.Logger) Option { return func(c *Client) { c.logger = l } }

// New creates a Client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		dialer:  websocket.DefaultDialer,
		logger:  log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Board fetches the columns of a space.
func (c *Client) Board(ctx context.Context, spaceID string) ([]domain.Column, error) {
	var cols []domain.Column
	err := c.do(ctx, http.MethodGet, "/api/spaces/"+url.PathEscape(spaceID)+"/board", nil, nil, &cols)
	return cols, err
}

// Move requests a move. A non-empty idempotencyKey makes replays fail with a
// conflict instead of moving the task again.
func (c *Client) Move(ctx context.Context, req domain.MoveRequest, idempotencyKey string) (domain.Task, error) {
	var task domain.Task
	var hdr http.Header
	if idempotencyKey != "" {
		hdr = http.Header{"Idempotency-Key": []string{idempotencyKey}}
	}
	err := c.do(ctx, http.MethodPatch, "/api/tasks/move", req, hdr, &task)
	return task, err
}

// CreateTask adds a task at the end of its column.
func (c *Client) CreateTask(ctx context.Context, req domain.CreateTaskRequest) (domain.Task, error) {
	var task domain.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks", req, nil, &task)
	return task, err
}

// MoveOptimistic applies the move to b at once, then asks the server to
// persist it. The server's task confirms the move; any failure rolls b back
// to the state it had before the move.
func (c *Client) MoveOptimistic(ctx context.Context, b *board.Board, taskID, toStatusID string, index int) (domain.Task, error) {
	pending, err := b.MoveLocal(taskID, toStatusID, index)
	if err != nil {
		return domain.Task{}, err
	}
	task, err := c.Move(ctx, domain.MoveRequest{
		TaskID:         taskID,
		TargetStatusID: toStatusID,
		TargetPosition: &index,
	}, uuid.NewString())
	if err != nil {
		if rbErr := b.Rollback(pending); rbErr != nil {
			c.logger.WithError(rbErr).WithField("task", taskID).Warn("rollback skipped")
		}
		return domain.Task{}, err
	}
	if err := b.Confirm(pending, task); err != nil {
		return task, err
	}
	return task, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, hdr http.Header, out any) error {
	var rdr io.Reader
	if body != nil {
		payload, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var e struct {
			Error     string `json:"error"`
			Retryable bool   `json:"retryable"`
		}
		if sonic.Unmarshal(data, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
			apiErr.Retryable = e.Retryable
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Subscribe joins the space's topic on the realtime websocket and calls
// handle for every event until ctx is cancelled or the connection drops.
func (c *Client) Subscribe(ctx context.Context, spaceID string, handle func(domain.Event)) error {
	u, err := url.Parse(c.baseURL + "/realtime")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}
	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(map[string]string{"action": "join:space", "spaceId": spaceID}); err != nil {
		return fmt.Errorf("join %s: %w", spaceID, err)
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var ev domain.Event
		if err := sonic.Unmarshal(payload, &ev); err != nil {
			c.logger.WithError(err).Warn("skipping undecodable realtime frame")
			continue
		}
		handle(ev)
	}
}

// Follow keeps b in step with the space's events. It returns when ctx is
// cancelled or the connection drops.
func (c *Client) Follow(ctx context.Context, b *board.Board) error {
	return c.Subscribe(ctx, b.SpaceID(), func(ev domain.Event) {
		if err := b.Apply(ev); err != nil {
			c.logger.WithError(err).WithField("event", ev.Type).Warn("event not applied")
		}
	})
}

// IsRetryable reports whether err is a conflict the caller may retry.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable
}
