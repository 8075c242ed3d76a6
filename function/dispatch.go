// Package function implements the function dispatcher (§4.E): looking up a
// Function by name, validating request input against its schemas, sampling
// a Variant via the experimentation package, and retrying with the next
// sampled variant when the chosen one fails, until success or
// AllVariantsFailed.
package function

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tzgateway/gateway/experimentation"
	"github.com/tzgateway/gateway/schema"
	"github.com/tzgateway/gateway/tool"
	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
	"github.com/tzgateway/gateway/variant"
)

// Registry looks up Functions by name. Config loading populates this once at
// startup (§9 design notes: no back-references, deterministic iteration).
type Registry interface {
	Function(name string) (*types.Function, bool)
}

// Request is one inference call into the dispatcher.
type Request struct {
	FunctionName        string
	VariantName         string // pins a specific variant, bypassing sampling, when non-empty
	EpisodeID           uuid.UUID
	Input               types.Input
	Params              types.InferenceParams
	ToolRequest         tool.Request
	DynamicOutputSchema *schema.Compiled
	Tags                map[string]string
}

// Outcome is the dispatcher's result: the winning variant's name alongside
// its Result, for the caller (the inference handler) to persist via
// observability.Writer.
type Outcome struct {
	VariantName string
	Result      *variant.Result
	ElapsedMS   int64
}

// Dispatcher wires function lookup, input validation, variant sampling, and
// variant execution together (§4.E).
type Dispatcher struct {
	Functions Registry
	Executor  *variant.Executor
}

// Dispatch validates req.Input against the function's schemas, then samples
// and executes variants in turn until one succeeds or every variant has
// failed (§4.E steps 1-5).
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Outcome, error) {
	fn, ok := d.Functions.Function(req.FunctionName)
	if !ok {
		return nil, tzerr.New(tzerr.KindUnknownFunction, fmt.Sprintf("unknown function %q", req.FunctionName), nil, map[string]any{"function": req.FunctionName})
	}

	if err := d.validateInput(fn, req.Input); err != nil {
		return nil, err
	}

	if req.VariantName != "" {
		v, ok := fn.Variants[req.VariantName]
		if !ok {
			return nil, tzerr.New(tzerr.KindUnknownVariant, fmt.Sprintf("unknown variant %q for function %q", req.VariantName, req.FunctionName), nil, nil)
		}
		return d.runVariant(ctx, fn, v, req)
	}

	active := make(map[string]struct{}, len(fn.VariantNames))
	for _, n := range fn.VariantNames {
		active[n] = struct{}{}
	}

	errs := make(map[string]any)
	for len(active) > 0 {
		name, err := d.sample(fn, req.EpisodeID, active)
		if err != nil {
			if len(errs) > 0 {
				break
			}
			return nil, err
		}
		v := fn.Variants[name]
		outcome, err := d.runVariant(ctx, fn, v, req)
		if err == nil {
			return outcome, nil
		}
		errs[name] = err.Error()
		delete(active, name)
	}
	return nil, tzerr.New(tzerr.KindAllVariantsFailed, fmt.Sprintf("all variants failed for function %q", req.FunctionName), nil, map[string]any{"errors": errs})
}

// sample picks the next active variant name using the function's configured
// experimentation strategy (§4.E step 3, §4.L).
func (d *Dispatcher) sample(fn *types.Function, episodeID uuid.UUID, active map[string]struct{}) (string, error) {
	switch fn.Experimentation.Kind {
	case types.SamplerKindUniform:
		sampler := experimentation.UniformSampler{
			CandidateVariants: fn.Experimentation.CandidateVariants,
			FallbackVariants:  fn.Experimentation.FallbackVariants,
		}
		return sampler.Sample(fn.Name, episodeID, active)
	default:
		candidates := make([]experimentation.Candidate, 0, len(active))
		for _, name := range fn.VariantNames {
			if _, ok := active[name]; !ok {
				continue
			}
			candidates = append(candidates, experimentation.Candidate{Name: name, Weight: fn.Variants[name].Weight})
		}
		return experimentation.SampleWeighted(fn.Name, episodeID, candidates)
	}
}

func (d *Dispatcher) runVariant(ctx context.Context, fn *types.Function, v *types.Variant, req Request) (*Outcome, error) {
	start := time.Now()
	result, err := d.Executor.Execute(ctx, variant.Request{
		Function:            fn,
		Variant:             v,
		Input:               req.Input,
		RequestParams:       req.Params,
		ToolRequest:         req.ToolRequest,
		DynamicOutputSchema: req.DynamicOutputSchema,
		EpisodeID:           req.EpisodeID,
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{VariantName: v.Name, Result: result, ElapsedMS: time.Since(start).Milliseconds()}, nil
}

func (d *Dispatcher) validateInput(fn *types.Function, in types.Input) error {
	v := schema.InputValidator{SystemSchema: fn.SystemSchema, UserSchema: fn.UserSchema, AssistantSchema: fn.AssistantSchema}
	if err := v.ValidateSystem(in.System); err != nil {
		return err
	}
	for _, m := range in.Messages {
		for _, p := range m.Parts {
			tp, ok := p.(types.TemplatePart)
			if !ok {
				continue
			}
			if err := v.ValidateMessageContent(string(m.Role), tp.Args); err != nil {
				return err
			}
		}
	}
	return nil
}
