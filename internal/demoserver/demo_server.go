// Package demoserver is a self-contained stand-in for the audit backend. Tasks
// advance one module per step so the whole submit and poll cycle can be
// tried locally.
package demoserver

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/raysh454/scanflow/internal/model"
)

// DemoServer serves the task, pricing and credit endpoints.
type DemoServer struct {
	cfg    Config
	now    func() time.Time
	router chi.Router

	mu      sync.Mutex
	credits int
	tasks   map[model.TaskID]*demoTask
	order   []model.TaskID
}

type demoTask struct {
	id      model.TaskID
	target  string
	modules []model.Module
	created time.Time
}

// NewDemoServer creates a new demo backend instance.
func NewDemoServer(cfg Config) *DemoServer {
	if cfg.StepInterval <= 0 {
		cfg.StepInterval = DefaultConfig().StepInterval
	}
	s := &DemoServer{
		cfg:     cfg,
		now:     time.Now,
		credits: cfg.Credits,
		tasks:   make(map[model.TaskID]*demoTask),
	}

	r := chi.NewRouter()
	r.Post("/tasks", s.handleCreate)
	r.Get("/tasks/{taskID}/status", s.handleStatus)
	r.Get("/tasks/{taskID}/results", s.handleResults)
	r.Get("/features/pricing", s.handlePricing)
	r.Get("/credits/balance", s.handleBalance)
	r.Get("/subscription/status", s.handleSubscription)

	// Control panel
	r.Get("/demo/control", s.controlPanelHandler)
	r.Post("/demo/credits", s.setCreditsHandler)
	r.Post("/demo/reset", s.resetHandler)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *DemoServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start starts the demo backend.
func (s *DemoServer) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	fmt.Printf("Demo backend starting on http://localhost%s\n", addr)
	fmt.Printf("Control panel at http://localhost%s/demo/control\n", addr)
	return http.ListenAndServe(addr, s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func authorized(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (s *DemoServer) cost(m model.Module) int {
	return s.cfg.Premium[m]
}

func (s *DemoServer) fails(m model.Module) bool {
	for _, f := range s.cfg.FailModules {
		if f == m {
			return true
		}
	}
	return false
}

// Tasks

func (s *DemoServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req model.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" || len(req.Options) == 0 {
		writeDetail(w, http.StatusBadRequest, "url and options are required")
		return
	}

	modules := make([]model.Module, 0, len(req.Options))
	total := 0
	for _, o := range req.Options {
		m := model.Module(o)
		if !m.Known() {
			writeDetail(w, http.StatusBadRequest, "unknown option "+o)
			return
		}
		modules = append(modules, m)
		total += s.cost(m)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		t := s.tasks[id]
		if t.target == req.URL && !s.statusLocked(t).Status.Terminal() {
			writeJSON(w, http.StatusConflict, map[string]string{
				"detail":  "a scan for this website is already running",
				"task_id": string(t.id),
			})
			return
		}
	}

	if total > 0 {
		if !authorized(r) {
			writeDetail(w, http.StatusPaymentRequired, "")
			return
		}
		if s.credits < total {
			writeDetail(w, http.StatusPaymentRequired, fmt.Sprintf("%d credits required, %d available", total, s.credits))
			return
		}
		s.credits -= total
	}

	t := &demoTask{
		id:      model.TaskID(uuid.New().String()),
		target:  req.URL,
		modules: modules,
		created: s.now(),
	}
	s.tasks[t.id] = t
	s.order = append(s.order, t.id)
	writeJSON(w, http.StatusAccepted, model.CreateTaskResponse{ID: t.id})
}

func (s *DemoServer) task(w http.ResponseWriter, r *http.Request) *demoTask {
	id := model.TaskID(chi.URLParam(r, "taskID"))
	t, ok := s.tasks[id]
	if !ok {
		writeDetail(w, http.StatusNotFound, "task not found")
		return nil
	}
	return t
}

// statusLocked derives the task status from elapsed time: module i finishes
// after (i+1) steps.
func (s *DemoServer) statusLocked(t *demoTask) model.Task {
	steps := int(s.now().Sub(t.created) / s.cfg.StepInterval)
	out := model.Task{
		ID:        t.id,
		TargetURL: t.target,
		Modules:   make(map[model.Module]model.ModuleStatus, len(t.modules)),
		Progress:  model.Progress{Total: len(t.modules)},
	}
	failed := 0
	for i, m := range t.modules {
		st := model.TaskPending
		switch {
		case i < steps && s.fails(m):
			st = model.TaskFailed
			failed++
		case i < steps:
			st = model.TaskCompleted
		case i == steps:
			st = model.TaskRunning
		}
		out.Modules[m] = model.ModuleStatus{Status: st}
	}
	out.Progress.Current = min(steps, len(t.modules))

	switch {
	case out.Progress.Current < len(t.modules):
		out.Status = model.TaskRunning
	case failed > 0:
		out.Status = model.TaskFailed
	default:
		out.Status = model.TaskCompleted
	}
	return out
}

func (s *DemoServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.task(w, r)
	if t == nil {
		return
	}
	writeJSON(w, http.StatusOK, s.statusLocked(t))
}

func (s *DemoServer) handleResults(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.task(w, r)
	if t == nil {
		return
	}
	st := s.statusLocked(t)

	out := make(map[string]any)
	for _, m := range t.modules {
		if st.Modules[m].Status != model.TaskCompleted {
			continue
		}
		out[wireKey(m)] = samplePayload(m, t.target)
	}
	writeJSON(w, http.StatusOK, out)
}

// wireKey maps a module code to its results key. deep-scan reports under
// link_health.
func wireKey(m model.Module) string {
	if m == model.ModuleDeepScan {
		m = model.ModuleLinkHealth
	}
	return strings.ReplaceAll(string(m), "-", "_")
}

func samplePayload(m model.Module, target string) any {
	switch m {
	case model.ModuleAIAnalysis:
		// Served as a JSON document inside a string, as the real backend does.
		doc, _ := json.Marshal(map[string]any{
			"summary":         "Demo analysis of " + target,
			"recommendations": []string{"Enable HSTS", "Compress images"},
		})
		return string(doc)
	case model.ModuleLinkHealth, model.ModuleDeepScan:
		return []map[string]any{{"url": target + "/missing", "status": 404}}
	default:
		return map[string]any{"module": string(m), "target": target, "score": 80}
	}
}

// Pricing and credits

func (s *DemoServer) handlePricing(w http.ResponseWriter, r *http.Request) {
	out := make([]model.FeaturePricing, 0, len(model.AllModules))
	for _, m := range model.AllModules {
		p := model.FeaturePricing{FeatureCode: m, FeatureCategory: model.CategoryBasic, IsAvailable: true}
		if c := s.cost(m); c > 0 {
			p.FeatureCategory = "premium"
			p.CreditsCost = c
		}
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"features": out})
}

func (s *DemoServer) handleBalance(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		writeDetail(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, model.CreditBalance{Credits: s.credits})
}

func (s *DemoServer) handleSubscription(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		writeDetail(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, model.Subscription{Active: false})
}

// Control panel

// setCreditsHandler sets the shared balance from the "credits" form value.
func (s *DemoServer) setCreditsHandler(w http.ResponseWriter, r *http.Request) {
	var n int
	if _, err := fmt.Sscanf(r.FormValue("credits"), "%d", &n); err != nil || n < 0 {
		writeDetail(w, http.StatusBadRequest, "credits must be a non-negative integer")
		return
	}
	s.mu.Lock()
	s.credits = n
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "credits": n})
}

// resetHandler forgets every task and restores the starting balance.
func (s *DemoServer) resetHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.tasks = make(map[model.TaskID]*demoTask)
	s.order = nil
	s.credits = s.cfg.Credits
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Demo backend reset"})
}

type panelRow struct {
	ID       model.TaskID
	Target   string
	Status   model.TaskStatus
	Progress model.Progress
	Modules  string
}

func (s *DemoServer) controlPanelHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rows := make([]panelRow, 0, len(s.order))
	for _, id := range s.order {
		t := s.tasks[id]
		st := s.statusLocked(t)
		mods := make([]string, 0, len(t.modules))
		for _, m := range t.modules {
			mods = append(mods, string(m)+":"+string(st.Modules[m].Status))
		}
		sort.Strings(mods)
		rows = append(rows, panelRow{ID: id, Target: t.target, Status: st.Status, Progress: st.Progress, Modules: strings.Join(mods, " ")})
	}
	credits := s.credits
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = controlPanel.Execute(w, map[string]any{"Credits": credits, "Tasks": rows})
}

var controlPanel = template.Must(template.New("panel").Parse(controlPanelHTML))

const controlPanelHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Demo Backend Control Panel</title>
    <style>
        body { font-family: system-ui, -apple-system, sans-serif; max-width: 1200px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        h1 { color: #333; border-bottom: 2px solid #007bff; padding-bottom: 10px; }
        table { width: 100%; border-collapse: collapse; background: white; }
        td, th { padding: 8px; border-bottom: 1px solid #e9ecef; text-align: left; }
        .credits { background: #fff3cd; padding: 20px; border-radius: 8px; margin-bottom: 20px; }
    </style>
</head>
<body>
    <h1>Demo Backend Control Panel</h1>
    <div class="credits">
        <form method="post" action="/demo/credits">
            Credits: <input name="credits" value="{{.Credits}}"> <button type="submit">Set</button>
        </form>
        <form method="post" action="/demo/reset"><button type="submit">Reset</button></form>
    </div>
    <table>
        <tr><th>Task</th><th>Target</th><th>Status</th><th>Progress</th><th>Modules</th></tr>
        {{range .Tasks}}
        <tr><td>{{.ID}}</td><td>{{.Target}}</td><td>{{.Status}}</td><td>{{.Progress.Current}}/{{.Progress.Total}}</td><td>{{.Modules}}</td></tr>
        {{end}}
    </table>
</body>
</html>`
