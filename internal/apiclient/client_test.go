package apiclient_test

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"testing"

	"github.com/raysh454/scanflow/internal/apiclient"
	"github.com/raysh454/scanflow/internal/classify"
	"github.com/raysh454/scanflow/internal/model"
	"github.com/raysh454/scanflow/internal/session"
	"github.com/raysh454/scanflow/internal/testutil"
	"github.com/raysh454/scanflow/internal/webclient"
)

func newClient(t *testing.T, base string, sess *session.Session) *apiclient.Client {
	t.Helper()
	logger := &testutil.DummyLogger{}
	wc, err := webclient.NewWebClient(webclient.Config{}, logger)
	if err != nil {
		t.Fatalf("NewWebClient: %v", err)
	}
	t.Cleanup(func() { wc.Close() })

	c, err := apiclient.New(apiclient.Config{BaseURL: base + "/", Locale: "en"}, wc, sess, logger)
	if err != nil {
		t.Fatalf("apiclient.New: %v", err)
	}
	return c
}

func TestClient_CreateTask(t *testing.T) {
	t.Parallel()
	b := testutil.NewFakeBackend(t)
	c := newClient(t, b.URL(), session.New("tok"))

	id, err := c.CreateTask(context.Background(), model.CreateTaskRequest{
		URL:     "https://example.com",
		Options: []string{"link-health"},
		AIMode:  "fast",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if id != "abc" {
		t.Errorf("expected id abc, got %q", id)
	}

	creates := b.Creates()
	if len(creates) != 1 {
		t.Fatalf("expected 1 create, got %d", len(creates))
	}
	got := creates[0]
	if got.URL != "https://example.com" || !reflect.DeepEqual(got.Options, []string{"link-health"}) {
		t.Errorf("unexpected body %+v", got)
	}
	if got.Language != "en" || got.AIMode != "fast" {
		t.Errorf("expected language en and ai_mode fast, got %+v", got)
	}

	h := b.LastHeaders()
	if h.Get("Authorization") != "Bearer tok" {
		t.Errorf("expected bearer token, got %q", h.Get("Authorization"))
	}
	if h.Get("Accept-Language") != "en" {
		t.Errorf("expected Accept-Language en, got %q", h.Get("Accept-Language"))
	}
	if h.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestClient_CreateTask_ConflictIsAPIError(t *testing.T) {
	t.Parallel()
	b := testutil.NewFakeBackend(t)
	b.Configure(func(b *testutil.FakeBackend) {
		b.CreateStatus = http.StatusConflict
		b.CreatePayload = `{"detail":"already running","task_id":"old-1"}`
	})
	c := newClient(t, b.URL(), session.New("tok"))

	_, err := c.CreateTask(context.Background(), model.CreateTaskRequest{URL: "https://example.com", Options: []string{"seo"}})
	var apiErr *apiclient.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T %v", err, err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", apiErr.StatusCode)
	}

	cl := classify.FromError(err, true)
	if !cl.Redirect() || cl.TaskID != "old-1" {
		t.Errorf("expected redirect to old-1, got %+v", cl)
	}
}

func TestClient_StatusAndResults(t *testing.T) {
	t.Parallel()
	b := testutil.NewFakeBackend(t)
	b.Configure(func(b *testutil.FakeBackend) {
		b.Statuses = []model.Task{{
			Status:   model.TaskRunning,
			Progress: model.Progress{Current: 1, Total: 3},
			Modules:  map[model.Module]model.ModuleStatus{model.ModuleSEO: {Status: model.TaskCompleted}},
		}}
		b.Results = []string{`{"seo":{"score":90}}`}
	})
	c := newClient(t, b.URL(), session.New(""))

	task, err := c.GetTaskStatus(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetTaskStatus: %v", err)
	}
	if task.ID != "t1" || task.Status != model.TaskRunning || task.Progress.Current != 1 {
		t.Errorf("unexpected task %+v", task)
	}
	if !task.ModuleCompleted(model.ModuleSEO) {
		t.Error("expected seo completed")
	}

	res, err := c.GetTaskResults(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetTaskResults: %v", err)
	}
	if string(res["seo"]) != `{"score":90}` {
		t.Errorf("unexpected seo payload %s", res["seo"])
	}
}

func TestClient_Pricing(t *testing.T) {
	t.Parallel()
	b := testutil.NewFakeBackend(t)
	b.Premium(model.ModuleAIAnalysis, 5)
	c := newClient(t, b.URL(), session.New(""))

	list, err := c.GetFeaturePricing(context.Background())
	if err != nil {
		t.Fatalf("GetFeaturePricing: %v", err)
	}
	var found bool
	for _, p := range list {
		if p.FeatureCode == model.ModuleAIAnalysis {
			found = true
			if p.Free() || p.CreditsCost != 5 {
				t.Errorf("expected premium cost 5, got %+v", p)
			}
		}
	}
	if !found {
		t.Error("ai-analysis missing from pricing")
	}
}

func TestClient_PricingEnvelope(t *testing.T) {
	t.Parallel()
	wc := &testutil.DummyWebClient{Responses: map[string]testutil.DummyResponse{
		"GET /features/pricing": {Status: 200, Body: `{"features":[{"feature_code":"seo","feature_category":"basic"}]}`},
	}}
	c, err := apiclient.New(apiclient.Config{BaseURL: "http://backend.test"}, wc, nil, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	list, err := c.GetFeaturePricing(context.Background())
	if err != nil {
		t.Fatalf("GetFeaturePricing: %v", err)
	}
	if len(list) != 1 || list[0].FeatureCode != model.ModuleSEO {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestClient_BalanceUnauthenticated(t *testing.T) {
	t.Parallel()
	b := testutil.NewFakeBackend(t)
	b.Configure(func(b *testutil.FakeBackend) { b.RequireToken = "good" })

	c := newClient(t, b.URL(), session.New("bad"))
	if _, err := c.GetCreditBalance(context.Background()); !errors.Is(err, apiclient.ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := c.GetSubscriptionStatus(context.Background()); !errors.Is(err, apiclient.ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}

	c.Session().Login("good")
	b.Configure(func(b *testutil.FakeBackend) { b.Credits = 7 })
	bal, err := c.GetCreditBalance(context.Background())
	if err != nil {
		t.Fatalf("GetCreditBalance: %v", err)
	}
	if bal.Credits != 7 {
		t.Errorf("expected 7 credits, got %d", bal.Credits)
	}
}

func TestClient_TransportError(t *testing.T) {
	t.Parallel()
	wc := &testutil.DummyWebClient{FailPaths: map[string]bool{"/tasks/x/status": true}}
	c, err := apiclient.New(apiclient.Config{BaseURL: "http://backend.test"}, wc, nil, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.GetTaskStatus(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		t.Error("transport failure must not be an APIError")
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	t.Parallel()
	if _, err := apiclient.New(apiclient.Config{}, &testutil.DummyWebClient{}, nil, &testutil.DummyLogger{}); err == nil {
		t.Error("expected error for empty base url")
	}
}
