package batch

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/tzgateway/gateway/types"
)

// TemporalPollActivities binds a Subsystem's Poll to a Temporal activity,
// grounded on features/model/bedrock/ledger_temporal.go's client-backed
// adapter shape and runtime/agent/engine/temporal/engine.go's
// workflow/activity registration pattern. This is the durable-poll-loop
// implementation of §4.I's "poll until terminal"; callers that don't need
// cross-process durability can call Subsystem.Poll directly instead.
type TemporalPollActivities struct {
	Sub *Subsystem
}

// PollOnce is the activity body: a single status check against the provider.
func (a *TemporalPollActivities) PollOnce(ctx context.Context, batchID string) (types.BatchStatus, error) {
	activity.RecordHeartbeat(ctx, batchID)
	return a.Sub.Poll(ctx, batchID)
}

// PollWorkflowParams configures BatchPollWorkflow.
type PollWorkflowParams struct {
	BatchID     string
	Interval    time.Duration
	MaxAttempts int // 0 means unbounded
}

// BatchPollWorkflow polls batchID on a timer until it reaches a terminal
// status (Completed or Failed) or MaxAttempts is exhausted. It returns the
// last observed status.
func BatchPollWorkflow(ctx workflow.Context, p PollWorkflowParams) (types.BatchStatus, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		HeartbeatTimeout:    10 * time.Second,
	})
	var activities *TemporalPollActivities // name-only reference; Temporal dispatches by registered name

	interval := p.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	var status types.BatchStatus
	for attempt := 0; p.MaxAttempts <= 0 || attempt < p.MaxAttempts; attempt++ {
		if err := workflow.ExecuteActivity(ctx, activities.PollOnce, p.BatchID).Get(ctx, &status); err != nil {
			return status, err
		}
		if status == types.BatchStatusCompleted || status == types.BatchStatusFailed {
			return status, nil
		}
		if err := workflow.Sleep(ctx, interval); err != nil {
			return status, err
		}
	}
	return status, nil
}

// RegisterBatchPoll registers BatchPollWorkflow and its activities on w,
// bound to sub.
func RegisterBatchPoll(w worker.Worker, sub *Subsystem) {
	a := &TemporalPollActivities{Sub: sub}
	w.RegisterActivity(a.PollOnce)
	w.RegisterWorkflow(BatchPollWorkflow)
}

// StartBatchPoll launches BatchPollWorkflow on c for batchID, one workflow
// execution per batch (workflow id is derived from batchID so re-issuing a
// poll request for an in-flight batch is idempotent at the Temporal level).
func StartBatchPoll(ctx context.Context, c client.Client, taskQueue, batchID string, interval time.Duration) (client.WorkflowRun, error) {
	return c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "batch-poll-" + batchID,
		TaskQueue: taskQueue,
	}, BatchPollWorkflow, PollWorkflowParams{BatchID: batchID, Interval: interval})
}
