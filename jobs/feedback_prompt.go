package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/invoice-ledger/internal/dispatch"
	jobmetrics "github.com/odyssey-erp/invoice-ledger/internal/jobs"
	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// DispatchReader loads a dispatch with its feedback flag derived.
type DispatchReader interface {
	GetDispatch(ctx context.Context, id int64) (dispatch.Dispatch, error)
}

// FeedbackPromptJob records a feedback request for delivered dispatches that
// still have no feedback by the time the task runs.
type FeedbackPromptJob struct {
	Dispatches DispatchReader
	Audit      shared.AuditPort
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	clock      func() time.Time
}

// NewFeedbackPromptJob wires dependencies for the prompt handler.
func NewFeedbackPromptJob(dispatches DispatchReader, audit shared.AuditPort, logger *slog.Logger, metrics *jobmetrics.Metrics) *FeedbackPromptJob {
	return &FeedbackPromptJob{
		Dispatches: dispatches,
		Audit:      audit,
		Logger:     logger,
		Metrics:    metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskFeedbackPrompt tasks.
func (j *FeedbackPromptJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Dispatches == nil {
		return errors.New("feedback prompt: handler not configured")
	}
	var payload FeedbackPromptPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.DispatchID <= 0 {
		return fmt.Errorf("feedback prompt: bad payload: %w", asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskFeedbackPrompt)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(slog.Int64("dispatch_id", payload.DispatchID))
	d, err := j.Dispatches.GetDispatch(ctx, payload.DispatchID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			logger.Info("dispatch removed before prompt")
			return nil
		}
		logger.Error("load dispatch", slog.Any("error", err))
		return err
	}
	if !d.PromptFeedback {
		logger.Info("feedback no longer pending")
		return nil
	}

	if j.Audit != nil {
		err = j.Audit.Record(ctx, shared.AuditLog{
			Action:   "dispatch.feedback_prompt",
			Entity:   "dispatch",
			EntityID: strconv.FormatInt(d.ID, 10),
			Meta: map[string]any{
				"invoice_id":   d.InvoiceID,
				"delivered_at": d.DeliveredAt,
			},
			At: j.now(),
		})
		if err != nil {
			logger.Error("record feedback prompt", slog.Any("error", err))
			return err
		}
	}
	logger.Info("feedback prompt recorded", slog.Int64("invoice_id", d.InvoiceID))
	return nil
}

func (j *FeedbackPromptJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskFeedbackPrompt))
	}
	return slog.Default().With(slog.String("job", TaskFeedbackPrompt))
}

func (j *FeedbackPromptJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *FeedbackPromptJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
