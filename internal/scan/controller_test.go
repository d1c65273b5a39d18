package scan_test

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/raysh454/scanflow/internal/access"
	"github.com/raysh454/scanflow/internal/apiclient"
	"github.com/raysh454/scanflow/internal/classify"
	"github.com/raysh454/scanflow/internal/guard"
	"github.com/raysh454/scanflow/internal/model"
	"github.com/raysh454/scanflow/internal/scan"
	"github.com/raysh454/scanflow/internal/session"
	"github.com/raysh454/scanflow/internal/testutil"
	"github.com/raysh454/scanflow/internal/webclient"
)

type harness struct {
	ctrl    *scan.Controller
	backend *testutil.FakeBackend
	session *session.Session
	history *memHistory
}

type memHistory struct {
	mu       sync.Mutex
	records  map[model.TaskID][]model.HistoryRecord
	onRecord func(model.HistoryRecord)
}

func (m *memHistory) Record(_ context.Context, rec model.HistoryRecord) error {
	m.mu.Lock()
	if m.records == nil {
		m.records = make(map[model.TaskID][]model.HistoryRecord)
	}
	m.records[rec.TaskID] = append(m.records[rec.TaskID], rec)
	hook := m.onRecord
	m.mu.Unlock()
	if hook != nil {
		hook(rec)
	}
	return nil
}

func (m *memHistory) get(id model.TaskID) []model.HistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.HistoryRecord(nil), m.records[id]...)
}

func newHarness(t *testing.T, token string) *harness {
	t.Helper()
	return newHarnessWith(t, token, 500*time.Millisecond, nil)
}

func newHarnessWith(t *testing.T, token string, window time.Duration, onRecord func(model.HistoryRecord)) *harness {
	t.Helper()
	logger := &testutil.DummyLogger{}
	fb := testutil.NewFakeBackend(t)

	wc, err := webclient.NewWebClient(webclient.Config{Timeout: 5 * time.Second}, logger)
	if err != nil {
		t.Fatalf("NewWebClient: %v", err)
	}
	t.Cleanup(func() { wc.Close() })

	sess := session.New(token)
	api, err := apiclient.New(apiclient.Config{BaseURL: fb.URL(), Locale: "en"}, wc, sess, logger)
	if err != nil {
		t.Fatalf("apiclient.New: %v", err)
	}
	resolver := access.NewResolver(api, sess, access.NewCache(time.Minute), logger)
	hist := &memHistory{onRecord: onRecord}

	cfg := scan.Config{
		ID:              "view-1",
		Locale:          "en",
		DebounceWindow:  window,
		PollInterval:    10 * time.Millisecond,
		PollMaxInterval: 20 * time.Millisecond,
	}
	c := scan.NewController(context.Background(), cfg, api, resolver, sess, hist, logger)
	t.Cleanup(c.Close)
	return &harness{ctrl: c, backend: fb, session: sess, history: hist}
}

func (h *harness) waitState(t *testing.T, want scan.State) scan.Snapshot {
	t.Helper()
	testutil.Eventually(t, 3*time.Second, func() bool { return h.ctrl.State() == want }, "state "+string(want))
	return h.ctrl.Snapshot()
}

func completed(mods ...model.Module) map[model.Module]model.ModuleStatus {
	out := make(map[model.Module]model.ModuleStatus, len(mods))
	for _, m := range mods {
		out[m] = model.ModuleStatus{Status: model.TaskCompleted}
	}
	return out
}

// ─── Submission ─────────────────────────────────────────────────────────

func TestController_SubmitStartsPollingReturnedTask(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")
	h.backend.Configure(func(b *testutil.FakeBackend) {
		b.Statuses = []model.Task{
			{Status: model.TaskRunning, Progress: model.Progress{Current: 0, Total: 1}},
			{Status: model.TaskCompleted, Progress: model.Progress{Current: 1, Total: 1}, Modules: completed(model.ModuleLinkHealth)},
		}
		b.Results = []string{`{"link_health":[{"url":"https://example.com/x","status":404}]}`}
	})

	outcome, err := h.ctrl.Submit(scan.SubmitRequest{
		URL:     "example.com",
		Options: model.NewScanOptions(model.ModuleLinkHealth),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if outcome != guard.Accepted {
		t.Fatalf("expected accepted, got %s", outcome)
	}

	snap := h.waitState(t, scan.StateDone)
	if snap.TaskID != "abc" {
		t.Errorf("expected poller on abc, got %q", snap.TaskID)
	}
	if len(snap.Results.LinkHealth) == 0 {
		t.Error("expected link health results merged")
	}
	if snap.Warning != "" || snap.Classification != nil {
		t.Errorf("clean completion should carry no warning, got %+v", snap)
	}
	if h.backend.Calls("GET /tasks/{taskID}/status") < 2 {
		t.Errorf("expected polling on abc, got %d status calls", h.backend.Calls("GET /tasks/{taskID}/status"))
	}

	creates := h.backend.Creates()
	if len(creates) != 1 {
		t.Fatalf("expected 1 create, got %d", len(creates))
	}
	if creates[0].URL != "https://example.com" || !reflect.DeepEqual(creates[0].Options, []string{"link-health"}) {
		t.Errorf("unexpected create body %+v", creates[0])
	}

	// The guard was released, so a later submission is not rejected as in flight.
	time.Sleep(550 * time.Millisecond)
	if o, _ := h.ctrl.Submit(scan.SubmitRequest{URL: "example.com", Options: model.NewScanOptions(model.ModuleSEO)}); o != guard.Accepted {
		t.Errorf("expected guard released after redirect, got %s", o)
	}
}

func TestController_SubmitValidationNeverReachesNetwork(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")

	cases := []scan.SubmitRequest{
		{URL: "", Options: model.NewScanOptions(model.ModuleSEO)},
		{URL: "ftp://example.com", Options: model.NewScanOptions(model.ModuleSEO)},
		{URL: "example.com"},
	}
	for _, req := range cases {
		if _, err := h.ctrl.Submit(req); !errors.Is(err, model.ErrValidation) {
			t.Errorf("%+v: expected validation error, got %v", req, err)
		}
	}
	time.Sleep(20 * time.Millisecond)
	if n := h.backend.Calls("POST /tasks") + h.backend.Calls("GET /features/pricing"); n != 0 {
		t.Errorf("validation failures made %d network calls", n)
	}
	if h.ctrl.State() != scan.StateIdle {
		t.Errorf("expected idle, got %s", h.ctrl.State())
	}
}

func TestController_AIAnalysisDeniedPromptsPricing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "tok")
	h.backend.Premium(model.ModuleAIAnalysis, 5)
	h.backend.Configure(func(b *testutil.FakeBackend) { b.Credits = 1 })

	if _, err := h.ctrl.Submit(scan.SubmitRequest{
		URL:     "https://example.com",
		Options: model.NewScanOptions(model.ModuleAIAnalysis),
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	testutil.Eventually(t, 2*time.Second, func() bool { return h.ctrl.Snapshot().Prompt != nil }, "prompt")
	snap := h.ctrl.Snapshot()
	if snap.Prompt.Kind != scan.PromptPricing || snap.Prompt.Feature != model.ModuleAIAnalysis {
		t.Errorf("expected pricing prompt for ai-analysis, got %+v", snap.Prompt)
	}
	if snap.State != scan.StateIdle {
		t.Errorf("expected idle after denial, got %s", snap.State)
	}
	if h.backend.Calls("POST /tasks") != 0 {
		t.Error("no task may be created after a denial")
	}
}

func TestController_AnonymousPremiumPromptsLogin(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")
	h.backend.Premium(model.ModuleDeepScan, 2)

	h.ctrl.Submit(scan.SubmitRequest{URL: "https://example.com", Options: model.NewScanOptions(model.ModuleDeepScan)})

	testutil.Eventually(t, 2*time.Second, func() bool { return h.ctrl.Snapshot().Prompt != nil }, "prompt")
	if p := h.ctrl.Snapshot().Prompt; p.Kind != scan.PromptLogin {
		t.Errorf("expected login prompt, got %+v", p)
	}
	if h.backend.Calls("POST /tasks") != 0 {
		t.Error("no task may be created after a denial")
	}
}

func TestController_DuplicateTaskRedirectsSilently(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "tok")
	h.backend.Configure(func(b *testutil.FakeBackend) {
		b.CreateStatus = http.StatusConflict
		b.CreatePayload = `{"detail":"A scan is already running","task_id":"old-1"}`
	})

	h.ctrl.Submit(scan.SubmitRequest{URL: "https://example.com", Options: model.NewScanOptions(model.ModuleSEO)})

	snap := h.waitState(t, scan.StateDone)
	if snap.TaskID != "old-1" {
		t.Errorf("expected redirect to old-1, got %q", snap.TaskID)
	}
	if snap.Classification != nil {
		t.Errorf("redirect must not surface an error, got %+v", snap.Classification)
	}
}

func TestController_SubmissionErrorsAreClassified(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status  int
		payload string
		kind    classify.Kind
	}{
		{http.StatusTooManyRequests, `{"detail":"Task creating, please wait"}`, classify.KindCreationInProgress},
		{http.StatusTooManyRequests, `{"detail":"slow down"}`, classify.KindRateLimited},
		{http.StatusForbidden, `{"detail":"domain is blacklisted"}`, classify.KindBlocked},
		{http.StatusPaymentRequired, `{}`, classify.KindPaymentRequired},
		{http.StatusConflict, `{"detail":"exists"}`, classify.KindDuplicateTaskUnknown},
		{http.StatusInternalServerError, `boom`, classify.KindUnclassified},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind)+"_"+http.StatusText(tc.status), func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, "tok")
			h.backend.Configure(func(b *testutil.FakeBackend) {
				b.CreateStatus = tc.status
				b.CreatePayload = tc.payload
			})

			h.ctrl.Submit(scan.SubmitRequest{URL: "https://example.com", Options: model.NewScanOptions(model.ModuleSEO)})
			snap := h.waitState(t, scan.StateError)
			if snap.Classification == nil || snap.Classification.Kind != tc.kind {
				t.Errorf("expected %s, got %+v", tc.kind, snap.Classification)
			}
			if h.backend.Calls("GET /tasks/{taskID}/status") != 0 {
				t.Error("failed submission must not start polling")
			}
		})
	}
}

func TestController_DebouncedSecondSubmission(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")
	h.backend.Configure(func(b *testutil.FakeBackend) {
		b.Statuses = []model.Task{{Status: model.TaskRunning}}
	})

	start := time.Now()
	req := scan.SubmitRequest{URL: "https://example.com", Options: model.NewScanOptions(model.ModuleSEO)}
	if o, _ := h.ctrl.Submit(req); o != guard.Accepted {
		t.Fatalf("expected accepted, got %s", o)
	}
	h.waitState(t, scan.StatePolling)

	time.Sleep(time.Until(start.Add(100 * time.Millisecond)))
	if o, _ := h.ctrl.Submit(req); o != guard.Deferred {
		t.Fatalf("expected deferred, got %s", o)
	}

	testutil.Eventually(t, 2*time.Second, func() bool { return len(h.backend.Creates()) == 2 }, "deferred create")
	if elapsed := time.Since(start); elapsed < 450*time.Millisecond {
		t.Errorf("deferred submission ran after %v, before the window elapsed", elapsed)
	}
}

// ─── Polling outcomes ───────────────────────────────────────────────────

func TestController_PartialFailureIsDoneWithWarning(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")
	h.backend.Configure(func(b *testutil.FakeBackend) {
		b.Statuses = []model.Task{
			{Status: model.TaskRunning, Progress: model.Progress{Current: 1, Total: 2}, Modules: completed(model.ModuleSEO)},
			{
				Status:   model.TaskFailed,
				Progress: model.Progress{Current: 2, Total: 2},
				Modules: map[model.Module]model.ModuleStatus{
					model.ModuleSEO:     {Status: model.TaskCompleted},
					model.ModuleSSLInfo: {Status: model.TaskFailed},
				},
			},
		}
		b.Results = []string{`{"seo":{"score":88}}`}
	})

	h.ctrl.Submit(scan.SubmitRequest{
		URL:     "https://example.com",
		Options: model.NewScanOptions(model.ModuleSEO, model.ModuleSSLInfo),
	})

	snap := h.waitState(t, scan.StateDone)
	if snap.Warning == "" {
		t.Error("expected degraded-results warning")
	}
	if snap.Classification != nil {
		t.Errorf("partial failure is not an error, got %+v", snap.Classification)
	}
	if string(snap.Results.SEO) != `{"score":88}` {
		t.Errorf("expected seo results kept, got %s", snap.Results.SEO)
	}

	recs := h.history.get("abc")
	if len(recs) < 2 {
		t.Fatalf("expected start and finish history records, got %d", len(recs))
	}
	last := recs[len(recs)-1]
	if last.State != string(scan.StateDone) || last.Warning == "" || last.EndedAt.IsZero() {
		t.Errorf("unexpected final record %+v", last)
	}
}

func TestController_TotalFailureIsError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")
	h.backend.Configure(func(b *testutil.FakeBackend) {
		b.Statuses = []model.Task{{
			Status:  model.TaskFailed,
			Modules: map[model.Module]model.ModuleStatus{model.ModuleSEO: {Status: model.TaskFailed}},
		}}
	})

	if err := h.ctrl.Load("t-9"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := h.waitState(t, scan.StateError)
	if snap.Classification == nil || snap.Classification.Kind != classify.KindTaskFailed {
		t.Errorf("expected task_failed, got %+v", snap.Classification)
	}
}

func TestController_PollErrorsKeepPollingUnlessTerminal(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")
	h.backend.Configure(func(b *testutil.FakeBackend) { b.StatusError = http.StatusBadGateway })

	h.ctrl.Load("t-1")
	testutil.Eventually(t, 2*time.Second, func() bool {
		return h.backend.Calls("GET /tasks/{taskID}/status") >= 3
	}, "retries after 502")
	if h.ctrl.State() != scan.StatePolling {
		t.Fatalf("expected still polling, got %s", h.ctrl.State())
	}

	h.backend.Configure(func(b *testutil.FakeBackend) { b.StatusError = 0 })
	h.waitState(t, scan.StateDone)
}

func TestController_BlockedDuringPollStops(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")
	h.backend.Configure(func(b *testutil.FakeBackend) { b.StatusError = http.StatusPaymentRequired })

	h.ctrl.Load("t-2")
	snap := h.waitState(t, scan.StateError)
	if snap.Classification.Kind != classify.KindPaymentRequired {
		t.Errorf("expected payment_required, got %+v", snap.Classification)
	}
	if snap.Classification.Recovery != classify.RecoveryLogin {
		t.Errorf("anonymous payment_required should steer to login, got %s", snap.Classification.Recovery)
	}
}

func TestController_IncrementalResults(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")
	h.backend.Configure(func(b *testutil.FakeBackend) {
		b.Statuses = []model.Task{
			{Status: model.TaskRunning, Progress: model.Progress{Current: 1, Total: 3}, Modules: completed(model.ModuleSEO)},
			{Status: model.TaskRunning, Progress: model.Progress{Current: 1, Total: 3}, Modules: completed(model.ModuleSEO)},
			{Status: model.TaskRunning, Progress: model.Progress{Current: 2, Total: 3}, Modules: completed(model.ModuleSEO, model.ModuleAIAnalysis)},
			{Status: model.TaskCompleted, Progress: model.Progress{Current: 3, Total: 3}, Modules: completed(model.ModuleSEO, model.ModuleAIAnalysis, model.ModuleSecurity)},
		}
		b.Results = []string{
			`{"seo":{"score":1}}`,
			`{"seo":{"score":2},"ai_analysis":"{\"summary\":\"good\"}"}`,
			`{"seo":{"score":3},"ai_analysis":"{\"summary\":\"final\"}","security":{"headers":[]}}`,
		}
	})

	h.ctrl.Load("t-3")
	snap := h.waitState(t, scan.StateDone)

	if string(snap.Results.SEO) != `{"score":3}` {
		t.Errorf("final fetch should overwrite, got %s", snap.Results.SEO)
	}
	if snap.Results.AIAnalysis == nil || string(snap.Results.AIAnalysis.Analysis) != `{"summary":"final"}` {
		t.Errorf("unexpected ai analysis %+v", snap.Results.AIAnalysis)
	}
	if len(snap.Results.Security) == 0 {
		t.Error("expected security results")
	}
	if n := h.backend.Calls("GET /tasks/{taskID}/results"); n != 3 {
		t.Errorf("expected results fetched only when modules completed plus final, got %d", n)
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────────

func TestController_CloseStopsPollingAndEvents(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")
	h.backend.Configure(func(b *testutil.FakeBackend) { b.Statuses = []model.Task{{Status: model.TaskRunning}} })

	events, _ := h.ctrl.Subscribe()
	h.ctrl.Load("t-4")
	testutil.Eventually(t, 2*time.Second, func() bool {
		return h.backend.Calls("GET /tasks/{taskID}/status") >= 2
	}, "polling")

	h.ctrl.Close()
	h.ctrl.Close()
	n := h.backend.Calls("GET /tasks/{taskID}/status")
	time.Sleep(60 * time.Millisecond)
	if got := h.backend.Calls("GET /tasks/{taskID}/status"); got != n {
		t.Errorf("polling continued after Close: %d -> %d", n, got)
	}

	for range events {
	}
	after, _ := h.ctrl.Subscribe()
	if _, ok := <-after; ok {
		t.Error("subscribing to a closed view should yield a closed stream")
	}
	if err := h.ctrl.Load("t-5"); !errors.Is(err, scan.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestController_LoadReplacesActivePoll(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")
	h.backend.Configure(func(b *testutil.FakeBackend) { b.Statuses = []model.Task{{Status: model.TaskRunning}} })

	h.ctrl.Load("first")
	h.waitState(t, scan.StatePolling)
	if err := h.ctrl.Load("second"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if id := h.ctrl.Snapshot().TaskID; id != "second" {
		t.Errorf("expected second, got %q", id)
	}
	if err := h.ctrl.Load(""); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected validation error for empty id, got %v", err)
	}
}

func TestController_EventsStream(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")
	events, _ := h.ctrl.Subscribe()

	h.ctrl.Submit(scan.SubmitRequest{URL: "https://example.com", Options: model.NewScanOptions(model.ModuleSEO)})
	h.waitState(t, scan.StateDone)
	h.ctrl.Close()

	var types []scan.EventType
	for ev := range events {
		if ev.ViewID != "view-1" {
			t.Errorf("event without view id: %+v", ev)
		}
		types = append(types, ev.Type)
	}
	want := []scan.EventType{scan.EventState, scan.EventRedirect, scan.EventState, scan.EventProgress, scan.EventResult, scan.EventState}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("expected events %v, got %v", want, types)
	}
}

func TestController_LateSubscriberStartsEmpty(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")
	early, _ := h.ctrl.Subscribe()

	h.ctrl.Submit(scan.SubmitRequest{URL: "https://example.com", Options: model.NewScanOptions(model.ModuleSEO)})
	h.waitState(t, scan.StateDone)

	late, unsubscribe := h.ctrl.Subscribe()
	select {
	case ev := <-late:
		t.Fatalf("late subscriber received an old event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	unsubscribe()
	unsubscribe()
	if _, ok := <-late; ok {
		t.Error("expected stream closed by its cancel func")
	}

	// The earlier subscriber keeps its own copy of every event.
	h.ctrl.Close()
	var n int
	for range early {
		n++
	}
	if n != 6 {
		t.Errorf("expected 6 events for the early subscriber, got %d", n)
	}
}

func TestController_EverySubscriberSeesEachEvent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")
	a, _ := h.ctrl.Subscribe()
	b, _ := h.ctrl.Subscribe()

	h.ctrl.Load("t-10")
	h.waitState(t, scan.StateDone)
	h.ctrl.Close()

	var na, nb int
	for range a {
		na++
	}
	for range b {
		nb++
	}
	if na == 0 || na != nb {
		t.Errorf("subscribers diverged: %d vs %d events", na, nb)
	}
}

func TestController_GuardHeldUntilViewIsPolling(t *testing.T) {
	t.Parallel()
	var (
		once     sync.Once
		state    scan.State
		outcome  guard.Outcome
		ctrlRef  *scan.Controller
		refReady = make(chan struct{})
		checked  = make(chan struct{})
	)
	h := newHarnessWith(t, "", time.Nanosecond, func(model.HistoryRecord) {
		once.Do(func() {
			<-refReady
			state = ctrlRef.State()
			outcome, _ = ctrlRef.Submit(scan.SubmitRequest{URL: "https://example.com", Options: model.NewScanOptions(model.ModuleSEO)})
			close(checked)
		})
	})
	h.backend.Configure(func(b *testutil.FakeBackend) { b.Statuses = []model.Task{{Status: model.TaskRunning}} })
	ctrlRef = h.ctrl
	close(refReady)

	if _, err := h.ctrl.Submit(scan.SubmitRequest{URL: "https://example.com", Options: model.NewScanOptions(model.ModuleSEO)}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case <-checked:
	case <-time.After(2 * time.Second):
		t.Fatal("task was never recorded")
	}
	if state != scan.StatePolling {
		t.Errorf("expected view polling when the task is first recorded, got %s", state)
	}
	if outcome != guard.Rejected {
		t.Errorf("submission before the view left submitting should be rejected, got %s", outcome)
	}

	// Once polling, a new submission is accepted and really runs.
	testutil.Eventually(t, 2*time.Second, func() bool {
		out, _ := h.ctrl.Submit(scan.SubmitRequest{URL: "https://example.com", Options: model.NewScanOptions(model.ModuleSEO)})
		return out == guard.Accepted
	}, "second submission accepted")
	testutil.Eventually(t, 2*time.Second, func() bool { return len(h.backend.Creates()) == 2 }, "second create")
}

func TestController_TaskUnknownUntilFirstStatus(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	h := newHarness(t, "")
	h.backend.Configure(func(b *testutil.FakeBackend) {
		b.Statuses = []model.Task{{Status: model.TaskRunning, TargetURL: "https://example.com"}}
		b.StatusGate = release
	})

	if err := h.ctrl.Load("t-11"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := h.ctrl.Snapshot()
	if snap.TaskID != "t-11" {
		t.Errorf("expected task id t-11, got %q", snap.TaskID)
	}
	if snap.Task != nil {
		t.Errorf("task shown before any status response: %+v", snap.Task)
	}

	close(release)
	testutil.Eventually(t, 2*time.Second, func() bool { return h.ctrl.Snapshot().Task != nil }, "first status")
	if got := h.ctrl.Snapshot().Task.Status; got != model.TaskRunning {
		t.Errorf("expected backend status running, got %s", got)
	}
}
