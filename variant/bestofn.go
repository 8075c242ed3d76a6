package variant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tzgateway/gateway/schema"
	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
)

// bestOfNCandidate is the rendered request/response pair evaluated by the
// judge variant.
type bestOfNCandidate struct {
	index  int
	result *Result
}

// evaluatorSchema is the fixed output shape the evaluator variant's Function
// must validate against: {"winner": <candidate index>}. Spec §4.D describes
// the evaluator as "a variant whose json output selects the winning
// candidate by index"; the gateway enforces that shape here rather than
// leaving it to each evaluator's own Function config.
type evaluatorSchema struct {
	Winner int `json:"winner"`
}

// evaluatorOutputSchema validates the evaluator variant's {"winner": N}
// output regardless of the outer Function's own output_schema (which
// describes a completely unrelated answer shape and must not be applied to
// the judge's response).
var evaluatorOutputSchema *schema.Compiled

func init() {
	var err error
	evaluatorOutputSchema, err = schema.Compile("best_of_n:evaluator_output", json.RawMessage(`{
		"type": "object",
		"required": ["winner"],
		"properties": {"winner": {"type": "integer"}}
	}`))
	if err != nil {
		panic(err)
	}
}

// executeBestOfN runs req.Variant.Candidates concurrently, then routes their
// outputs through the evaluator variant to select a winner (§4.D "best of n
// sampling variant"). A candidate that fails to execute is dropped from the
// judged set; AllVariantsFailed is raised only if every candidate fails.
func (e *Executor) executeBestOfN(ctx context.Context, req Request) (*Result, error) {
	if len(req.Variant.Candidates) == 0 {
		return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("best_of_n variant %q has no candidates", req.Variant.Name), nil, nil)
	}

	type outcome struct {
		idx    int
		result *Result
		err    error
	}
	outcomes := make(chan outcome, len(req.Variant.Candidates))
	for i, name := range req.Variant.Candidates {
		cv, ok := req.Function.Variants[name]
		if !ok {
			outcomes <- outcome{idx: i, err: tzerr.New(tzerr.KindUnknownVariant, fmt.Sprintf("best_of_n candidate %q not found", name), nil, nil)}
			continue
		}
		go func(i int, cv *types.Variant) {
			sub := req
			sub.Variant = cv
			res, err := e.Execute(ctx, sub)
			outcomes <- outcome{idx: i, result: res, err: err}
		}(i, cv)
	}

	candidates := make([]bestOfNCandidate, 0, len(req.Variant.Candidates))
	var allRecords []types.ModelInferenceRecord
	for range req.Variant.Candidates {
		o := <-outcomes
		if o.err != nil {
			continue
		}
		candidates = append(candidates, bestOfNCandidate{index: o.idx, result: o.result})
		allRecords = append(allRecords, o.result.ModelInferences...)
	}
	if len(candidates) == 0 {
		return nil, tzerr.New(tzerr.KindAllVariantsFailed, fmt.Sprintf("all best_of_n candidates failed for variant %q", req.Variant.Name), nil, nil)
	}
	if len(candidates) == 1 {
		return candidates[0].result, nil
	}

	evaluatorVariant, ok := req.Function.Variants[req.Variant.EvaluatorName]
	if !ok {
		return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("best_of_n evaluator %q not found", req.Variant.EvaluatorName), nil, nil)
	}

	winner, evalRecords, err := e.judgeBestOfN(ctx, req, evaluatorVariant, candidates)
	if err != nil {
		// Evaluator failure degrades to the first candidate rather than
		// failing the whole request (§4.D design note: a judge outage
		// should not take down every candidate it was meant to rank).
		winner = &candidates[0]
	} else {
		allRecords = append(allRecords, evalRecords...)
	}

	out := *winner.result
	out.ModelInferences = allRecords
	return &out, nil
}

// judgeBestOfN renders the candidates as a single evaluator prompt and asks
// the evaluator variant to pick a winner by index.
func (e *Executor) judgeBestOfN(ctx context.Context, req Request, evaluatorVariant *types.Variant, candidates []bestOfNCandidate) (*bestOfNCandidate, []types.ModelInferenceRecord, error) {
	transcript := ""
	for _, c := range candidates {
		transcript += fmt.Sprintf("Candidate %d:\n%s\n\n", c.index, renderCandidateText(c.result))
	}

	evalInput := req.Input
	evalInput.Messages = append(append([]types.Message{}, evalInput.Messages...), types.Message{
		Role:  types.RoleUser,
		Parts: []types.Part{types.TextPart{Text: transcript}},
	})

	evalReq := req
	evalReq.Variant = evaluatorVariant
	evalReq.Input = evalInput
	evalReq.Function = &types.Function{
		Name:         req.Function.Name,
		Kind:         types.FunctionKindJSON,
		OutputSchema: evaluatorOutputSchema,
		Variants:     req.Function.Variants,
		VariantNames: req.Function.VariantNames,
	}

	result, err := e.Execute(ctx, evalReq)
	if err != nil {
		return nil, nil, err
	}
	if result.JSONOutput == nil || result.JSONOutput.Parsed == nil {
		return nil, nil, tzerr.New(tzerr.KindOutputParsing, "best_of_n evaluator did not return a parsed winner", nil, nil)
	}
	var picked evaluatorSchema
	if err := json.Unmarshal(result.JSONOutput.Parsed, &picked); err != nil {
		return nil, nil, tzerr.New(tzerr.KindOutputParsing, "best_of_n evaluator output did not match {winner}", err, nil)
	}
	for i := range candidates {
		if candidates[i].index == picked.Winner {
			return &candidates[i], result.ModelInferences, nil
		}
	}
	return nil, nil, tzerr.New(tzerr.KindOutputValidation, fmt.Sprintf("best_of_n evaluator picked out-of-range winner %d", picked.Winner), nil, nil)
}

func renderCandidateText(r *Result) string {
	if r.JSONOutput != nil {
		return r.JSONOutput.Raw
	}
	var text string
	for _, p := range r.Content {
		if t, ok := p.(types.TextPart); ok {
			text += t.Text
		}
	}
	return text
}
