package jobs

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskFeedbackPrompt asks the client of a delivered dispatch for feedback.
	TaskFeedbackPrompt = "dispatch:feedback_prompt"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// FeedbackPromptPayload identifies the delivered dispatch.
type FeedbackPromptPayload struct {
	DispatchID int64 `json:"dispatch_id"`
}

// NewFeedbackPromptTask constructs the prompt task. The task id is derived
// from the dispatch so a dispatch is prompted at most once while the task is
// retained.
func NewFeedbackPromptTask(dispatchID int64) (*asynq.Task, error) {
	data, err := json.Marshal(FeedbackPromptPayload{DispatchID: dispatchID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFeedbackPrompt, data,
		asynq.TaskID(feedbackPromptTaskID(dispatchID)),
		asynq.MaxRetry(5),
		asynq.Retention(24*time.Hour),
	), nil
}

func feedbackPromptTaskID(dispatchID int64) string {
	return "feedback-prompt-" + strconv.FormatInt(dispatchID, 10)
}

// IdempotencyCleanupPayload configures a cleanup run.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
