package optimization

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// TemporalPollActivities binds a Subsystem's Poll to a Temporal activity, the
// optimization-subsystem analogue of batch.TemporalPollActivities — §4.J's
// launch/poll verbs map the same way batch's start/poll do onto a durable
// poll loop, grounded on the same runtime/agent/engine/temporal shape.
type TemporalPollActivities struct {
	Sub *Subsystem
}

// PollOnce is the activity body: one status check against the provider.
func (a *TemporalPollActivities) PollOnce(ctx context.Context, handle JobHandle) (Status, error) {
	activity.RecordHeartbeat(ctx, handle)
	return a.Sub.Poll(ctx, handle)
}

// JobPollWorkflowParams configures JobPollWorkflow.
type JobPollWorkflowParams struct {
	Handle      JobHandle
	Interval    time.Duration
	MaxAttempts int // 0 means unbounded
}

// JobPollWorkflow polls handle on a timer until the job reaches Completed or
// Failed, or MaxAttempts is exhausted. Fireworks jobs pass through an
// intermediate Pending(Deploying) status (§4.J); the workflow treats it like
// any other non-terminal Pending and keeps polling.
func JobPollWorkflow(ctx workflow.Context, p JobPollWorkflowParams) (Status, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		HeartbeatTimeout:    10 * time.Second,
	})
	var activities *TemporalPollActivities

	interval := p.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	var status Status
	for attempt := 0; p.MaxAttempts <= 0 || attempt < p.MaxAttempts; attempt++ {
		if err := workflow.ExecuteActivity(ctx, activities.PollOnce, p.Handle).Get(ctx, &status); err != nil {
			return status, err
		}
		if status.Kind == StatusCompleted || status.Kind == StatusFailed {
			return status, nil
		}
		if err := workflow.Sleep(ctx, interval); err != nil {
			return status, err
		}
	}
	return status, nil
}

// RegisterJobPoll registers JobPollWorkflow and its activities on w, bound
// to sub.
func RegisterJobPoll(w worker.Worker, sub *Subsystem) {
	a := &TemporalPollActivities{Sub: sub}
	w.RegisterActivity(a.PollOnce)
	w.RegisterWorkflow(JobPollWorkflow)
}

// StartJobPoll launches JobPollWorkflow on c for handle.
func StartJobPoll(ctx context.Context, c client.Client, taskQueue string, handle JobHandle, interval time.Duration) (client.WorkflowRun, error) {
	return c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "optimization-poll-" + string(handle),
		TaskQueue: taskQueue,
	}, JobPollWorkflow, JobPollWorkflowParams{Handle: handle, Interval: interval})
}
