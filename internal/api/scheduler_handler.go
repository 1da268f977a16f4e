package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/engagepush/backend/internal/domain"
	"github.com/engagepush/backend/internal/scheduler"
	"github.com/engagepush/backend/pkg/response"
)

const (
	TaskAll = "all"
	TaskDue = "due"
)

// TaskRunner runs reengagement tasks.
type TaskRunner interface {
	Run(ctx context.Context, task scheduler.Task, now time.Time) (scheduler.TaskResult, error)
	RunAll(ctx context.Context, now time.Time) ([]scheduler.TaskResult, error)
	RunDue(ctx context.Context, now time.Time) ([]scheduler.TaskResult, error)
	Status(now time.Time) []scheduler.NextRun
}

type SchedulerHandler struct {
	runner TaskRunner
	now    func() time.Time
	logger *zap.Logger
}

func NewSchedulerHandler(runner TaskRunner, logger *zap.Logger) *SchedulerHandler {
	return &SchedulerHandler{
		runner: runner,
		now:    time.Now,
		logger: logger,
	}
}

type RunRequest struct {
	TaskType string `json:"task_type"`
}

type RunResponse struct {
	Results   []scheduler.TaskResult `json:"results"`
	Timestamp time.Time              `json:"timestamp"`
}

type StatusResponse struct {
	Status      string              `json:"status"`
	CurrentTime time.Time           `json:"current_time"`
	NextTasks   []scheduler.NextRun `json:"next_tasks"`
}

// Run executes one task, every task, or the tasks due now. An empty body runs
// the due tasks.
func (h *SchedulerHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "invalid request body")
		return
	}

	now := h.now()
	var (
		results []scheduler.TaskResult
		err     error
	)
	switch req.TaskType {
	case "", TaskDue:
		results, err = h.runner.RunDue(r.Context(), now)
	case TaskAll:
		results, err = h.runner.RunAll(r.Context(), now)
	default:
		task, perr := scheduler.ParseTask(req.TaskType)
		if perr != nil {
			response.BadRequest(w, perr.Error())
			return
		}
		var res scheduler.TaskResult
		res, err = h.runner.Run(r.Context(), task, now)
		results = []scheduler.TaskResult{res}
	}

	if err != nil {
		if domain.IsConfigurationError(err) {
			h.logger.Error("scheduler misconfigured", zap.Error(err))
			response.ServiceUnavailable(w, "push delivery is not configured")
			return
		}
		h.logger.Error("scheduler run failed", zap.String("task_type", req.TaskType), zap.Error(err))
		response.InternalError(w, "scheduler run failed")
		return
	}

	response.OK(w, RunResponse{Results: results, Timestamp: now.UTC()})
}

// Status lists when each task fires next.
func (h *SchedulerHandler) Status(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	response.OK(w, StatusResponse{
		Status:      "active",
		CurrentTime: now.UTC(),
		NextTasks:   h.runner.Status(now),
	})
}
