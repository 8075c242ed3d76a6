// Package optimization implements the optimization subsystem (§4.J):
// launching a provider-side fine-tuning job from rendered training examples
// and polling it to completion, producing either a fine-tuned Model or a
// DICL Variant config a caller can drop into their function config.
//
// The two verbs (launch/poll) and the Fireworks deployment-check-after-SFT
// wrinkle are grounded on tensorzero-core's optimization/fireworks_sft
// module; the provider-neutral shape mirrors this gateway's batch subsystem
// (§4.I), which has the same "submit, then poll until terminal" structure.
package optimization

import (
	"context"
	"time"

	"github.com/tzgateway/gateway/types"
)

// ProviderKind selects which fine-tuning backend a LaunchRequest targets.
type ProviderKind string

const (
	ProviderKindFireworks ProviderKind = "fireworks"
	ProviderKindOpenAI    ProviderKind = "openai"
)

// Method selects the fine-tuning method for providers that support more
// than plain supervised fine-tuning (§4.J: OpenAI's method ∈ {Supervised,
// Dpo, Reinforcement}; Fireworks only ever does SFT).
type Method string

const (
	MethodSupervised    Method = "supervised"
	MethodDPO           Method = "dpo"
	MethodReinforcement Method = "reinforcement"
)

// RenderedExample is one training or validation row: a fully-rendered input
// plus its target output, the shape tensorzero-core calls a RenderedSample.
type RenderedExample struct {
	Input      types.Input
	Output     []types.Part
	ToolParams *types.ToolCallConfig
}

// LaunchRequest bundles everything a Launcher needs to start a fine-tuning
// job (§4.J launch).
type LaunchRequest struct {
	Provider    ProviderKind
	BaseModel   string
	Method      Method // OpenAI only
	Train       []RenderedExample
	Val         []RenderedExample
	Credentials types.Credentials

	// FireworksAccountID scopes dataset and job creation under a Fireworks
	// account; required when Provider == ProviderKindFireworks.
	FireworksAccountID string
}

// JobHandle is the opaque string a caller persists between launch and poll
// (§4.J: "Returns provider job id + dashboard URL" collapsed into one
// handle; DashboardURL is carried alongside it by the Subsystem's JobRow).
type JobHandle string

// StatusKind is the terminal/non-terminal state of a launched job.
type StatusKind string

const (
	StatusPending   StatusKind = "pending"
	StatusCompleted StatusKind = "completed"
	StatusFailed    StatusKind = "failed"
)

// OptimizerOutputKind selects which shape a completed job's Output takes.
type OptimizerOutputKind string

const (
	OptimizerOutputModel   OptimizerOutputKind = "model"
	OptimizerOutputVariant OptimizerOutputKind = "variant"
)

// OptimizerOutput is the config fragment a completed job produces (§4.J):
// either a ready-to-route Model pointing at the fine-tuned id, or a DICL
// Variant for nearest-neighbour runtime use.
type OptimizerOutput struct {
	Kind    OptimizerOutputKind
	Model   *types.Model
	Variant *types.Variant
}

// Status is the result of one poll call (§4.J poll).
type Status struct {
	Kind StatusKind

	// Pending
	Message         string
	EstimatedFinish *time.Time
	TrainedTokens   *int64

	// Failed
	Err string

	// Completed
	Output *OptimizerOutput
}

// Launcher starts a provider-side fine-tuning job.
type Launcher interface {
	Launch(ctx context.Context, req LaunchRequest) (handle JobHandle, dashboardURL string, err error)
}

// Poller checks a previously-launched job's status.
type Poller interface {
	Poll(ctx context.Context, handle JobHandle) (Status, error)
}
