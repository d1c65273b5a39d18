// Package scan runs the submit, poll and merge workflow for one scan view.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/raysh454/scanflow/internal/access"
	"github.com/raysh454/scanflow/internal/classify"
	"github.com/raysh454/scanflow/internal/guard"
	"github.com/raysh454/scanflow/internal/logging"
	"github.com/raysh454/scanflow/internal/model"
	"github.com/raysh454/scanflow/internal/poller"
	"github.com/raysh454/scanflow/internal/results"
)

// ErrClosed is returned by operations on a closed controller.
var ErrClosed = errors.New("scan view closed")

// Backend is everything the controller needs from the API client.
type Backend interface {
	TaskCreator
	GetTaskStatus(ctx context.Context, id model.TaskID) (*model.Task, error)
	GetTaskResults(ctx context.Context, id model.TaskID) (map[string]json.RawMessage, error)
}

// Recorder persists the history of tasks run through a view. Record is an
// upsert keyed by task id.
type Recorder interface {
	Record(ctx context.Context, rec model.HistoryRecord) error
}

// Authenticator reports whether a session token is present.
type Authenticator interface {
	Authenticated() bool
}

type Config struct {
	ID              string
	Locale          string
	AIMode          string
	DebounceWindow  time.Duration
	PollInterval    time.Duration
	PollMaxInterval time.Duration
	EventBuffer     int
}

func DefaultConfig() Config {
	return Config{
		Locale:          "en",
		DebounceWindow:  guard.DefaultWindow,
		PollInterval:    poller.DefaultInterval,
		PollMaxInterval: 10 * time.Second,
		EventBuffer:     64,
	}
}

type SubmitRequest struct {
	URL     string            `json:"url"`
	Options model.ScanOptions `json:"-"`
	Locale  string            `json:"locale,omitempty"`
	AIMode  string            `json:"ai_mode,omitempty"`
}

// Snapshot is a point-in-time copy of the view.
type Snapshot struct {
	ID             string                   `json:"id"`
	State          State                    `json:"state"`
	TaskID         model.TaskID             `json:"task_id,omitempty"`
	TargetURL      string                   `json:"target_url,omitempty"`
	Options        []string                 `json:"options,omitempty"`
	Task           *model.Task              `json:"task,omitempty"`
	Results        results.ResultSet        `json:"results"`
	Warning        string                   `json:"warning,omitempty"`
	Classification *classify.Classification `json:"classification,omitempty"`
	Prompt         *Prompt                  `json:"prompt,omitempty"`
	StartedAt      time.Time                `json:"started_at,omitempty"`
	DurationMS     int64                    `json:"duration_ms,omitempty"`
}

// Controller owns one guard, at most one poll loop and the displayed state
// of a single view. All methods are safe for concurrent use.
type Controller struct {
	cfg       Config
	backend   Backend
	submitter *Submitter
	access    access.Checker
	auth      Authenticator
	recorder  Recorder
	guard     *guard.Guard
	machine   *Machine
	logger    logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	taskID         model.TaskID
	task           *model.Task
	targetURL      string
	options        []string
	results        results.ResultSet
	warning        string
	classification *classify.Classification
	prompt         *Prompt
	startedAt      time.Time
	duration       time.Duration
	run            *pollRun
	closed         bool

	evMu     sync.Mutex
	subs     map[chan Event]struct{}
	evClosed bool
}

type pollRun struct {
	ctx    context.Context
	cancel context.CancelFunc
	handle *poller.Handle
}

// NewController builds a view. recorder and auth may be nil.
func NewController(ctx context.Context, cfg Config, backend Backend, checker access.Checker, auth Authenticator, recorder Recorder, logger logging.Logger) *Controller {
	def := DefaultConfig()
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = def.DebounceWindow
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollMaxInterval < cfg.PollInterval {
		cfg.PollMaxInterval = cfg.PollInterval
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	logger = logger.With(logging.Field{Key: "component", Value: "scan"}, logging.Field{Key: "view", Value: cfg.ID})

	cctx, cancel := context.WithCancel(ctx)
	return &Controller{
		cfg:       cfg,
		backend:   backend,
		submitter: NewSubmitter(backend, logger),
		access:    checker,
		auth:      auth,
		recorder:  recorder,
		guard:     guard.New(cfg.DebounceWindow),
		machine:   NewMachine(),
		logger:    logger,
		ctx:       cctx,
		cancel:    cancel,
		subs:      make(map[chan Event]struct{}),
	}
}

func (c *Controller) ID() string { return c.cfg.ID }

// Subscribe opens an event stream that only carries events emitted after
// the call. The channel is closed by the returned cancel func or by Close.
// A reader that falls behind loses events instead of stalling the view.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, c.cfg.EventBuffer)
	c.evMu.Lock()
	defer c.evMu.Unlock()
	if c.evClosed {
		close(ch)
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.evMu.Lock()
			defer c.evMu.Unlock()
			if _, ok := c.subs[ch]; ok {
				delete(c.subs, ch)
				close(ch)
			}
		})
	}
}

func (c *Controller) State() State { return c.machine.State() }

func (c *Controller) authenticated() bool {
	return c.auth != nil && c.auth.Authenticated()
}

// Submit validates the request and hands it to the guard. Validation errors
// are returned without any network call. An accepted or deferred submission
// continues in the background and reports to subscribers.
func (c *Controller) Submit(req SubmitRequest) (guard.Outcome, error) {
	if c.isClosed() {
		return guard.Rejected, ErrClosed
	}
	target, options, err := Prepare(req.URL, req.Options)
	if err != nil {
		return guard.Rejected, err
	}
	if req.Locale == "" {
		req.Locale = c.cfg.Locale
	}
	if req.AIMode == "" {
		req.AIMode = c.cfg.AIMode
	}
	req.URL = target

	outcome := c.guard.Submit(func() {
		go c.runSubmission(req, options)
	})
	c.logger.Debug("submission", logging.Field{Key: "outcome", Value: string(outcome)})
	return outcome, nil
}

func (c *Controller) runSubmission(req SubmitRequest, options []string) {
	if c.isClosed() {
		c.guard.Release()
		return
	}
	c.stopPoll()

	c.mu.Lock()
	if err := c.machine.Transition(StateSubmitting); err != nil {
		c.mu.Unlock()
		c.logger.Warn("cannot start submission", logging.Err(err))
		c.guard.Release()
		return
	}
	c.taskID = ""
	c.task = nil
	c.targetURL = req.URL
	c.options = options
	c.results = results.Reset()
	c.warning = ""
	c.classification = nil
	c.prompt = nil
	c.startedAt = c.guard.LastAccepted()
	c.duration = 0
	c.mu.Unlock()
	c.emit(Event{Type: EventState, State: StateSubmitting})

	for _, m := range req.Options.List() {
		if c.access == nil {
			break
		}
		res := c.access.Refresh(c.ctx, m)
		if res.CanAccess {
			continue
		}
		c.deny(m, res)
		return
	}

	id, err := c.submitter.CreateTask(c.ctx, req.URL, req.Options, req.Locale, req.AIMode)
	if err != nil {
		cl := classify.FromError(err, c.authenticated())
		if cl.Redirect() {
			c.logger.Info("task already exists, opening it", logging.Field{Key: "task_id", Value: string(cl.TaskID)})
			c.emit(Event{Type: EventRedirect, TaskID: cl.TaskID})
			_ = c.load(cl.TaskID, true)
			return
		}
		c.guard.Release()
		if c.isClosed() {
			return
		}
		c.logger.Warn("task submission failed",
			logging.Field{Key: "kind", Value: string(cl.Kind)}, logging.Err(err))
		c.fail(cl)
		return
	}

	c.emit(Event{Type: EventRedirect, TaskID: id})
	_ = c.load(id, true)
}

func (c *Controller) deny(m model.Module, res model.FeatureAccessResult) {
	cl := classify.AccessDenied(m, res)
	p := &Prompt{Kind: PromptPricing, Feature: m, Message: cl.Message}
	if cl.Recovery == classify.RecoveryLogin {
		p.Kind = PromptLogin
	}

	c.mu.Lock()
	c.prompt = p
	c.classification = &cl
	if err := c.machine.Transition(StateIdle); err != nil {
		c.logger.Warn("access denial transition", logging.Err(err))
	}
	c.mu.Unlock()

	c.guard.Release()
	c.logger.Info("submission blocked by feature access",
		logging.Field{Key: "feature", Value: string(m)},
		logging.Field{Key: "reason", Value: string(res.Reason)})
	c.emit(Event{Type: EventPrompt, State: StateIdle, Prompt: p, Classification: &cl})
}

// Load starts polling an existing task, replacing any loop already running
// in this view.
func (c *Controller) Load(id model.TaskID) error {
	if id == "" {
		return fmt.Errorf("%w: task id is required", model.ErrValidation)
	}
	return c.load(id, false)
}

// load moves the view to polling id. When fromSubmit is set the guard is
// released only once the view has left submitting, so the next accepted
// submission always finds a state it can start from.
func (c *Controller) load(id model.TaskID, fromSubmit bool) error {
	if fromSubmit {
		defer c.guard.Release()
	}
	if c.isClosed() {
		return ErrClosed
	}
	c.stopPoll()

	c.mu.Lock()
	if err := c.machine.Transition(StatePolling); err != nil {
		c.mu.Unlock()
		return err
	}
	if !fromSubmit {
		c.targetURL = ""
		c.options = nil
		c.startedAt = time.Now()
		c.prompt = nil
	}
	// The task stays unknown until the backend reports its status.
	c.taskID = id
	c.task = nil
	c.results = results.Reset()
	c.warning = ""
	c.classification = nil
	c.duration = 0

	rctx, rcancel := context.WithCancel(c.ctx)
	run := &pollRun{ctx: rctx, cancel: rcancel}
	c.run = run
	rec := c.recordLocked()
	c.mu.Unlock()

	c.emit(Event{Type: EventState, State: StatePolling, TaskID: id})
	c.record(rec)

	interval := c.cfg.PollInterval
	lastProgress := -1
	h := poller.Poll(rctx, id, poller.Config{Interval: interval}, c.backend.GetTaskStatus,
		func(task *model.Task) poller.Directive {
			d := c.onStatus(run, task, lastProgress, interval)
			lastProgress = task.Progress.Current
			if d.Interval > 0 {
				interval = d.Interval
			}
			return d
		},
		func(err error) poller.Directive {
			return c.onPollError(run, err)
		})

	c.mu.Lock()
	run.handle = h
	c.mu.Unlock()
	c.logger.Info("polling task", logging.Field{Key: "task_id", Value: string(id)})
	return nil
}

func (c *Controller) current(run *pollRun) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run == run && !c.closed
}

func (c *Controller) onStatus(run *pollRun, task *model.Task, lastProgress int, interval time.Duration) poller.Directive {
	c.mu.Lock()
	if c.run != run || c.closed {
		c.mu.Unlock()
		return poller.Stop()
	}
	prev := c.task
	c.task = task
	if c.targetURL == "" {
		c.targetURL = task.TargetURL
	}
	c.mu.Unlock()

	c.emit(Event{Type: EventProgress, State: StatePolling, TaskID: task.ID, Progress: &task.Progress})

	switch task.Status {
	case model.TaskCompleted:
		c.finishWithResults(run, task, "")
		return poller.Stop()

	case model.TaskFailed:
		out := classify.TaskOutcome(task)
		if out.Kind == classify.KindPartialFailure {
			c.finishWithResults(run, task, out.Message)
		} else {
			c.finish(run, StateError, "", &out)
		}
		return poller.Stop()
	}

	if newlyCompleted(prev, task) {
		c.fetchResults(run, task, false)
	}

	if task.Progress.Current > lastProgress {
		return poller.Continue(c.cfg.PollInterval)
	}
	return poller.Continue(poller.Backoff(interval, c.cfg.PollInterval, c.cfg.PollMaxInterval))
}

func (c *Controller) onPollError(run *pollRun, err error) poller.Directive {
	if !c.current(run) || errors.Is(err, context.Canceled) {
		return poller.Stop()
	}
	cl := classify.FromError(err, c.authenticated())
	switch cl.Kind {
	case classify.KindBlocked, classify.KindPaymentRequired:
		c.logger.Warn("polling stopped", logging.Field{Key: "kind", Value: string(cl.Kind)}, logging.Err(err))
		c.finish(run, StateError, "", &cl)
		return poller.Stop()
	}
	c.logger.Warn("status fetch failed, will retry", logging.Field{Key: "kind", Value: string(cl.Kind)}, logging.Err(err))
	return poller.Continue(0)
}

// fetchResults merges the current results. It reports false when a final
// fetch failed and the view was moved to the error state.
func (c *Controller) fetchResults(run *pollRun, task *model.Task, final bool) bool {
	incoming, err := c.backend.GetTaskResults(run.ctx, task.ID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		cl := classify.FromError(err, c.authenticated())
		if final {
			c.logger.Error("final results fetch failed", logging.Err(err))
			c.finish(run, StateError, "", &cl)
			return false
		}
		c.logger.Warn("partial results fetch failed", logging.Field{Key: "kind", Value: string(cl.Kind)}, logging.Err(err))
		return true
	}

	c.mu.Lock()
	if c.run != run {
		c.mu.Unlock()
		return false
	}
	c.results = results.Merge(c.results, incoming, task, final)
	populated := c.results.Populated()
	c.mu.Unlock()

	c.emit(Event{Type: EventResult, State: c.State(), TaskID: task.ID, Modules: populated})
	return true
}

func (c *Controller) finishWithResults(run *pollRun, task *model.Task, warning string) {
	if !c.fetchResults(run, task, true) {
		return
	}
	c.finish(run, StateDone, warning, nil)
}

func (c *Controller) finish(run *pollRun, state State, warning string, cl *classify.Classification) {
	c.mu.Lock()
	if c.run != run || c.closed {
		c.mu.Unlock()
		return
	}
	if err := c.machine.Transition(state); err != nil {
		c.mu.Unlock()
		c.logger.Warn("finish transition", logging.Err(err))
		return
	}
	c.warning = warning
	c.classification = cl
	if !c.startedAt.IsZero() {
		c.duration = time.Since(c.startedAt)
	}
	taskID := c.taskID
	rec := c.recordLocked()
	c.mu.Unlock()

	ev := Event{Type: EventState, State: state, TaskID: taskID, Warning: warning, Classification: cl}
	if state == StateError {
		ev.Type = EventError
	}
	c.emit(ev)
	c.record(rec)
	c.logger.Info("task finished",
		logging.Field{Key: "task_id", Value: string(taskID)},
		logging.Field{Key: "state", Value: string(state)})
}

func (c *Controller) fail(cl classify.Classification) {
	c.mu.Lock()
	if err := c.machine.Transition(StateError); err != nil {
		c.mu.Unlock()
		c.logger.Warn("fail transition", logging.Err(err))
		return
	}
	c.classification = &cl
	c.mu.Unlock()
	c.emit(Event{Type: EventError, State: StateError, Classification: &cl})
}

func (c *Controller) stopPoll() {
	c.mu.Lock()
	run := c.run
	c.run = nil
	var h *poller.Handle
	if run != nil {
		h = run.handle
	}
	c.mu.Unlock()
	if run == nil {
		return
	}
	run.cancel()
	if h != nil {
		h.Stop()
	}
}

// Close stops polling, cancels any pending deferred submission and closes
// the event stream. It is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.stopPoll()
	c.guard.Reset()

	c.mu.Lock()
	c.closed = true
	c.machine.Reset()
	c.mu.Unlock()
	c.cancel()

	c.evMu.Lock()
	c.evClosed = true
	for ch := range c.subs {
		close(ch)
	}
	c.subs = nil
	c.evMu.Unlock()
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Snapshot copies the view's current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		ID:             c.cfg.ID,
		State:          c.machine.State(),
		TargetURL:      c.targetURL,
		Options:        append([]string(nil), c.options...),
		Results:        c.results,
		Warning:        c.warning,
		Classification: c.classification,
		Prompt:         c.prompt,
		StartedAt:      c.startedAt,
		DurationMS:     c.duration.Milliseconds(),
		TaskID:         c.taskID,
	}
	if c.task != nil {
		t := *c.task
		s.Task = &t
	}
	return s
}

func (c *Controller) emit(ev Event) {
	ev.ViewID = c.cfg.ID
	ev.At = time.Now().UTC()
	c.evMu.Lock()
	defer c.evMu.Unlock()
	if c.evClosed {
		return
	}
	// Non-blocking send; drop if buffer is full.
	for ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// recordLocked builds the history row for the current task. c.mu must be held.
func (c *Controller) recordLocked() *model.HistoryRecord {
	if c.taskID == "" {
		return nil
	}
	rec := &model.HistoryRecord{
		TaskID:     c.taskID,
		TargetURL:  c.targetURL,
		Options:    append([]string(nil), c.options...),
		State:      string(c.machine.State()),
		Warning:    c.warning,
		StartedAt:  c.startedAt.UTC(),
		DurationMS: c.duration.Milliseconds(),
	}
	if c.classification != nil {
		rec.ErrorKind = string(c.classification.Kind)
	}
	if c.machine.State().Terminal() {
		rec.EndedAt = time.Now().UTC()
		if b, err := json.Marshal(c.results); err == nil {
			rec.Results = b
		}
	}
	return rec
}

func (c *Controller) record(rec *model.HistoryRecord) {
	if c.recorder == nil || rec == nil {
		return
	}
	if err := c.recorder.Record(context.WithoutCancel(c.ctx), *rec); err != nil {
		c.logger.Warn("failed to record history", logging.Field{Key: "task_id", Value: string(rec.TaskID)}, logging.Err(err))
	}
}

func newlyCompleted(prev, next *model.Task) bool {
	for _, m := range next.CompletedModules() {
		if !prev.ModuleCompleted(m) {
			return true
		}
	}
	return false
}
