package scan

import (
	"context"
	"fmt"

	"github.com/raysh454/scanflow/internal/logging"
	"github.com/raysh454/scanflow/internal/model"
)

// TaskCreator posts a task to the backend.
type TaskCreator interface {
	CreateTask(ctx context.Context, req model.CreateTaskRequest) (model.TaskID, error)
}

// Submitter validates a scan request and creates the task. It does not poll;
// whoever displays the task owns polling.
type Submitter struct {
	api    TaskCreator
	logger logging.Logger
}

func NewSubmitter(api TaskCreator, logger logging.Logger) *Submitter {
	return &Submitter{api: api, logger: logger}
}

// Prepare normalises the target and freezes the options. Errors wrap
// model.ErrValidation and never touch the network.
func Prepare(rawURL string, opts model.ScanOptions) (string, []string, error) {
	target, err := model.NormalizeTargetURL(rawURL)
	if err != nil {
		return "", nil, err
	}
	if err := opts.Validate(); err != nil {
		return "", nil, err
	}
	return target, opts.Strings(), nil
}

// CreateTask returns the new task's id. Backend failures come back
// unclassified so the caller classifies them exactly once.
func (s *Submitter) CreateTask(ctx context.Context, rawURL string, opts model.ScanOptions, locale, aiMode string) (model.TaskID, error) {
	target, options, err := Prepare(rawURL, opts)
	if err != nil {
		return "", err
	}
	req := model.CreateTaskRequest{
		URL:      target,
		Options:  options,
		Language: locale,
	}
	if opts.Enabled(model.ModuleAIAnalysis) {
		req.AIMode = aiMode
	}

	id, err := s.api.CreateTask(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	s.logger.Info("task created",
		logging.Field{Key: "task_id", Value: string(id)},
		logging.Field{Key: "url", Value: target},
		logging.Field{Key: "options", Value: options})
	return id, nil
}
