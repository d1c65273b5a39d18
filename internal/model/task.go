package model

// TaskStatus is the backend lifecycle state of a task or one of its modules.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the backend will no longer change this status.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

type TaskID string

type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

type ModuleStatus struct {
	Status TaskStatus `json:"status"`
}

// Task is the backend's view of an audit job, as returned by the status
// endpoint. It is only ever replaced by a newer poll response.
type Task struct {
	ID        TaskID                  `json:"id"`
	Status    TaskStatus              `json:"status"`
	Progress  Progress                `json:"progress"`
	Modules   map[Module]ModuleStatus `json:"modules"`
	TargetURL string                  `json:"target_url"`
}

// CompletedModules returns the modules that reached completed.
func (t *Task) CompletedModules() []Module {
	if t == nil {
		return nil
	}
	var out []Module
	for _, m := range AllModules {
		if ms, ok := t.Modules[m]; ok && ms.Status == TaskCompleted {
			out = append(out, m)
		}
	}
	// Modules the backend reports that this build does not know about.
	for m, ms := range t.Modules {
		if !m.Known() && ms.Status == TaskCompleted {
			out = append(out, m)
		}
	}
	return out
}

// PartialFailure reports a failed task where at least one module still
// completed. Such a task ends as done with a warning, not as an error.
func (t *Task) PartialFailure() bool {
	return t != nil && t.Status == TaskFailed && len(t.CompletedModules()) > 0
}

// ModuleCompleted reports whether m reached completed in this snapshot.
func (t *Task) ModuleCompleted(m Module) bool {
	if t == nil {
		return false
	}
	ms, ok := t.Modules[m]
	return ok && ms.Status == TaskCompleted
}

// CreateTaskRequest is the body of a task submission.
type CreateTaskRequest struct {
	URL      string   `json:"url"`
	Options  []string `json:"options"`
	Language string   `json:"language"`
	AIMode   string   `json:"ai_mode,omitempty"`
}

// CreateTaskResponse is the backend's acknowledgement of a new task.
type CreateTaskResponse struct {
	ID     TaskID `json:"id"`
	TaskID TaskID `json:"task_id,omitempty"`
}
