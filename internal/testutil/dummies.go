// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/raysh454/scanflow/internal/logging"
	"github.com/raysh454/scanflow/internal/model"
	"github.com/raysh454/scanflow/internal/webclient"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// ErrorCount returns the number of recorded error lines.
func (l *DummyLogger) ErrorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Errors)
}

// ─── WebClient ─────────────────────────────────────────────────────────

// DummyWebClient implements webclient.WebClient.
// By default it returns body "{}" with status 200.
// Set Responses["GET /path"] to script a reply for a method and path, and
// FailPaths[path] = true to force a transport error.
type DummyWebClient struct {
	ResponseDelay time.Duration
	Responses     map[string]DummyResponse
	FailPaths     map[string]bool

	mu       sync.Mutex
	Requests []*webclient.Request
}

type DummyResponse struct {
	Status int
	Body   string
}

func (d *DummyWebClient) Do(ctx context.Context, req *webclient.Request) (*webclient.Response, error) {
	if d.ResponseDelay > 0 {
		select {
		case <-time.After(d.ResponseDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	d.Requests = append(d.Requests, req)
	d.mu.Unlock()

	path := pathOf(req.URL)
	if d.FailPaths != nil && d.FailPaths[path] {
		return nil, &errString{"dummy transport failure for " + path}
	}

	status, body := http.StatusOK, "{}"
	if r, ok := d.Responses[req.Method+" "+path]; ok {
		status, body = r.Status, r.Body
	}
	return &webclient.Response{
		Request:    req,
		Body:       []byte(body),
		StatusCode: status,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		FetchedAt:  time.Now(),
	}, nil
}

func (d *DummyWebClient) Close() error { return nil }

// RequestCount returns how many requests hit the given method and path.
func (d *DummyWebClient) RequestCount(method, path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, r := range d.Requests {
		if r.Method == method && pathOf(r.URL) == path {
			n++
		}
	}
	return n
}

func pathOf(rawURL string) string {
	if i := strings.Index(rawURL, "://"); i >= 0 {
		rawURL = rawURL[i+3:]
		if j := strings.Index(rawURL, "/"); j >= 0 {
			rawURL = rawURL[j:]
		} else {
			rawURL = "/"
		}
	}
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		rawURL = rawURL[:i]
	}
	return rawURL
}

// ─── Backend ───────────────────────────────────────────────────────────

// FakeBackend is an httptest server speaking the audit backend's REST
// contract. Status and result replies are served in order and the last one
// repeats. Fields are guarded by the backend's lock; mutate them through
// Configure once requests may be in flight.
type FakeBackend struct {
	Server *httptest.Server

	mu sync.Mutex

	Pricing       []model.FeaturePricing
	PricingStatus int
	Credits       int
	BalanceStatus int
	Subscription  model.Subscription

	CreateStatus  int
	CreatePayload string
	CreatedID     model.TaskID
	CreateDelay   time.Duration

	Statuses      []model.Task
	StatusError   int
	// StatusGate, when set, holds status replies until it is closed.
	StatusGate    chan struct{}
	Results       []string
	ResultsStatus int

	// RequireToken makes user-scoped endpoints answer 401 without this bearer.
	RequireToken string

	calls   map[string]int
	creates []model.CreateTaskRequest
	headers []http.Header
}

// NewFakeBackend starts a backend with every module priced as basic and a
// single completed status reply.
func NewFakeBackend(t *testing.T) *FakeBackend {
	t.Helper()

	b := &FakeBackend{
		CreatedID: "abc",
		calls:     make(map[string]int),
	}
	for _, m := range model.AllModules {
		b.Pricing = append(b.Pricing, model.FeaturePricing{
			FeatureCode:     m,
			FeatureCategory: model.CategoryBasic,
			IsAvailable:     true,
		})
	}

	r := chi.NewRouter()
	r.Post("/tasks", b.handleCreate)
	r.Get("/tasks/{taskID}/status", b.handleStatus)
	r.Get("/tasks/{taskID}/results", b.handleResults)
	r.Get("/features/pricing", b.handlePricing)
	r.Get("/credits/balance", b.handleBalance)
	r.Get("/subscription/status", b.handleSubscription)

	b.Server = httptest.NewServer(r)
	t.Cleanup(b.Server.Close)
	return b
}

// URL is the base URL to configure clients with.
func (b *FakeBackend) URL() string { return b.Server.URL }

// Configure mutates the backend under its lock.
func (b *FakeBackend) Configure(fn func(b *FakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

// Premium prices code as a credit-costing feature.
func (b *FakeBackend) Premium(code model.Module, cost int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.Pricing {
		if b.Pricing[i].FeatureCode == code {
			b.Pricing[i].FeatureCategory = "premium"
			b.Pricing[i].CreditsCost = cost
			return
		}
	}
	b.Pricing = append(b.Pricing, model.FeaturePricing{
		FeatureCode: code, FeatureCategory: "premium", CreditsCost: cost, IsAvailable: true,
	})
}

// Calls returns how many times the route pattern was hit, e.g. "POST /tasks"
// or "GET /tasks/{taskID}/status".
func (b *FakeBackend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

// Creates returns every decoded task submission.
func (b *FakeBackend) Creates() []model.CreateTaskRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.CreateTaskRequest(nil), b.creates...)
}

// LastHeaders returns the headers of the most recent request.
func (b *FakeBackend) LastHeaders() http.Header {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.headers) == 0 {
		return nil
	}
	return b.headers[len(b.headers)-1]
}

func (b *FakeBackend) record(r *http.Request) {
	route := r.Method + " " + chi.RouteContext(r.Context()).RoutePattern()
	b.calls[route]++
	b.headers = append(b.headers, r.Header.Clone())
}

func (b *FakeBackend) authorized(r *http.Request) bool {
	if b.RequireToken == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+b.RequireToken
}

func (b *FakeBackend) handleCreate(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.record(r)
	var req model.CreateTaskRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	b.creates = append(b.creates, req)
	status, payload, id, delay := b.CreateStatus, b.CreatePayload, b.CreatedID, b.CreateDelay
	b.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 && status >= 300 {
		writeRaw(w, status, payload)
		return
	}
	if status == 0 {
		status = http.StatusAccepted
	}
	writeJSON(w, status, model.CreateTaskResponse{ID: id})
}

func (b *FakeBackend) handleStatus(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	gate := b.StatusGate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(r)

	if b.StatusError != 0 {
		writeRaw(w, b.StatusError, `{"detail":"status unavailable"}`)
		return
	}
	id := model.TaskID(chi.URLParam(r, "taskID"))
	task := model.Task{ID: id, Status: model.TaskCompleted}
	if len(b.Statuses) > 0 {
		task = b.Statuses[0]
		if len(b.Statuses) > 1 {
			b.Statuses = b.Statuses[1:]
		}
	}
	task.ID = id
	writeJSON(w, http.StatusOK, task)
}

func (b *FakeBackend) handleResults(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(r)

	if b.ResultsStatus != 0 {
		writeRaw(w, b.ResultsStatus, `{"detail":"results unavailable"}`)
		return
	}
	body := "{}"
	if len(b.Results) > 0 {
		body = b.Results[0]
		if len(b.Results) > 1 {
			b.Results = b.Results[1:]
		}
	}
	writeRaw(w, http.StatusOK, body)
}

func (b *FakeBackend) handlePricing(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(r)

	if b.PricingStatus != 0 {
		writeRaw(w, b.PricingStatus, `{"detail":"pricing unavailable"}`)
		return
	}
	writeJSON(w, http.StatusOK, b.Pricing)
}

func (b *FakeBackend) handleBalance(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(r)

	if !b.authorized(r) {
		writeRaw(w, http.StatusUnauthorized, `{"detail":"not authenticated"}`)
		return
	}
	if b.BalanceStatus != 0 {
		writeRaw(w, b.BalanceStatus, `{"detail":"balance unavailable"}`)
		return
	}
	writeJSON(w, http.StatusOK, model.CreditBalance{Credits: b.Credits})
}

func (b *FakeBackend) handleSubscription(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(r)

	if !b.authorized(r) {
		writeRaw(w, http.StatusUnauthorized, `{"detail":"not authenticated"}`)
		return
	}
	writeJSON(w, http.StatusOK, b.Subscription)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, body)
}

// ─── helpers ───────────────────────────────────────────────────────────

// Eventually polls cond until it holds or the timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

type errString struct{ s string }

func (e *errString) Error() string { return e.s }
