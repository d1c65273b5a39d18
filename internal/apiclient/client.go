// Package apiclient speaks the audit backend's REST contract on top of a
// webclient.WebClient. Non-2xx replies come back as *APIError so callers can
// classify them once at the boundary.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/raysh454/scanflow/internal/logging"
	"github.com/raysh454/scanflow/internal/model"
	"github.com/raysh454/scanflow/internal/session"
	"github.com/raysh454/scanflow/internal/webclient"
)

// ErrUnauthenticated is returned by user-scoped calls answered with 401.
var ErrUnauthenticated = errors.New("not authenticated")

// APIError is a non-2xx response from the backend.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, body)
}

func (e *APIError) HTTPStatus() int { return e.StatusCode }
func (e *APIError) Payload() []byte { return e.Body }

type Config struct {
	BaseURL string
	Locale  string
}

// Client is safe for concurrent use.
type Client struct {
	base    string
	locale  string
	wc      webclient.WebClient
	session *session.Session
	logger  logging.Logger
}

func New(cfg Config, wc webclient.WebClient, sess *session.Session, logger logging.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("apiclient: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("apiclient: parse base url: %w", err)
	}
	if wc == nil {
		return nil, errors.New("apiclient: webclient is required")
	}
	if sess == nil {
		sess = session.New("")
	}
	return &Client{
		base:    base,
		locale:  cfg.Locale,
		wc:      wc,
		session: sess,
		logger:  logger.With(logging.Field{Key: "component", Value: "apiclient"}),
	}, nil
}

// Session returns the session whose token authenticates requests.
func (c *Client) Session() *session.Session { return c.session }

// CreateTask posts a new audit. locale overrides the configured language when
// non-empty.
func (c *Client) CreateTask(ctx context.Context, req model.CreateTaskRequest) (model.TaskID, error) {
	if req.Language == "" {
		req.Language = c.locale
	}
	var resp model.CreateTaskResponse
	if err := c.call(ctx, http.MethodPost, "/tasks", req, &resp); err != nil {
		return "", err
	}
	id := resp.ID
	if id == "" {
		id = resp.TaskID
	}
	if id == "" {
		return "", errors.New("create task: response carried no task id")
	}
	return id, nil
}

func (c *Client) GetTaskStatus(ctx context.Context, id model.TaskID) (*model.Task, error) {
	var task model.Task
	if err := c.call(ctx, http.MethodGet, "/tasks/"+url.PathEscape(string(id))+"/status", nil, &task); err != nil {
		return nil, err
	}
	if task.ID == "" {
		task.ID = id
	}
	return &task, nil
}

// GetTaskResults returns the per-module payloads keyed by their wire name.
// Only completed modules are present.
func (c *Client) GetTaskResults(ctx context.Context, id model.TaskID) (map[string]json.RawMessage, error) {
	out := map[string]json.RawMessage{}
	if err := c.call(ctx, http.MethodGet, "/tasks/"+url.PathEscape(string(id))+"/results", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetFeaturePricing accepts both a bare list and a {"features": [...]} envelope.
func (c *Client) GetFeaturePricing(ctx context.Context) ([]model.FeaturePricing, error) {
	var raw json.RawMessage
	if err := c.call(ctx, http.MethodGet, "/features/pricing", nil, &raw); err != nil {
		return nil, err
	}
	var list []model.FeaturePricing
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var env struct {
		Features []model.FeaturePricing `json:"features"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode pricing: %w", err)
	}
	return env.Features, nil
}

func (c *Client) GetCreditBalance(ctx context.Context) (*model.CreditBalance, error) {
	var bal model.CreditBalance
	if err := c.call(ctx, http.MethodGet, "/credits/balance", nil, &bal); err != nil {
		return nil, unauthenticated(err)
	}
	return &bal, nil
}

func (c *Client) GetSubscriptionStatus(ctx context.Context) (*model.Subscription, error) {
	var sub model.Subscription
	if err := c.call(ctx, http.MethodGet, "/subscription/status", nil, &sub); err != nil {
		return nil, unauthenticated(err)
	}
	return &sub, nil
}

func unauthenticated(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return err
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	req := &webclient.Request{
		Method:  method,
		URL:     c.base + path,
		Headers: http.Header{},
	}
	req.Headers.Set("Accept", "application/json")
	req.Headers.Set("X-Request-ID", uuid.NewString())
	if c.locale != "" {
		req.Headers.Set("Accept-Language", c.locale)
	}
	if tok := c.session.Token(); tok != "" {
		req.Headers.Set("Authorization", "Bearer "+tok)
	}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s %s: encode body: %w", method, path, err)
		}
		req.Body = body
		req.Headers.Set("Content-Type", "application/json")
	}

	resp, err := c.wc.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if !resp.OK() {
		c.logger.Debug("backend returned error status",
			logging.Field{Key: "path", Value: path},
			logging.Field{Key: "status", Value: resp.StatusCode})
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: resp.Body}
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
