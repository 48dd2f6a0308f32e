package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/invoice-ledger/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	queue     *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	queue, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: asynq.NewClient(opts), queue: queue, inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.queue != nil {
		errs = append(errs, c.queue.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// TriggerCleanup enqueues an immediate idempotency cleanup run.
func (c *JobsCLI) TriggerCleanup(ctx context.Context, retention time.Duration) (string, error) {
	task, err := jobs.NewIdempotencyCleanupTask(retention)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3))
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// PromptFeedback re-enqueues the feedback prompt for a dispatch.
func (c *JobsCLI) PromptFeedback(ctx context.Context, dispatchID int64) error {
	return c.queue.EnqueueFeedbackPrompt(ctx, dispatchID)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

func newJobsCommand(env Env, flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
	}
	withQueue := func(fn func(Queue) error) error {
		q, err := env.OpenQueue(flags.redisAddr)
		if err != nil {
			return err
		}
		defer q.Close()
		return fn(q)
	}

	var retention time.Duration
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Purge expired idempotency keys now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(func(q Queue) error {
				id, err := q.TriggerCleanup(cmd.Context(), retention)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s\n", id)
				return nil
			})
		},
	}
	cleanup.Flags().DurationVar(&retention, "retention", 0, "keep keys newer than this; worker default when zero")

	prompt := &cobra.Command{
		Use:   "prompt <dispatch-id>",
		Short: "Enqueue the feedback prompt for a delivered dispatch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("dispatch id must be a positive integer, got %q", args[0])
			}
			return withQueue(func(q Queue) error {
				return q.PromptFeedback(cmd.Context(), id)
			})
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show default queue depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(func(q Queue) error {
				s, err := q.InspectQueue(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
					s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry)
				return nil
			})
		},
	}

	cmd.AddCommand(cleanup, prompt, stats)
	return cmd
}
