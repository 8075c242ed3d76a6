package variant

import (
	"context"

	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
)

// executeDICL implements the dynamic in-context-learning variant (§4.D "DICL
// variant"): embed the current input, retrieve the k nearest stored
// examples, splice them into the prompt as few-shot turns, then run an
// ordinary chat completion. Produces two ModelInferenceRecords: one for the
// embedding call, one for the chat call.
func (e *Executor) executeDICL(ctx context.Context, req Request) (*Result, error) {
	if e.Embeddings == nil || e.Examples == nil {
		return nil, tzerr.New(tzerr.KindConfig, "dicl variant requires an EmbeddingResolver and ExampleStore", nil, nil)
	}

	queryText := flattenInputText(req.Input)
	vector, usage, err := e.Embeddings.Embed(ctx, req.Variant.EmbeddingModel, queryText)
	if err != nil {
		return nil, err
	}
	embeddingID := types.MustNewID()
	embeddingRecord := types.ModelInferenceRecord{
		ID:           embeddingID,
		ModelName:    req.Variant.EmbeddingModel,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		FinishReason: types.FinishReasonStop,
	}

	k := req.Variant.K
	if k <= 0 {
		k = 1
	}
	examples, err := e.Examples.NearestExamples(ctx, req.Function.Name, req.Variant.ExampleTable, vector, k)
	if err != nil {
		return nil, err
	}

	augmented := req.Input
	augmented.Messages = make([]types.Message, 0, len(examples)*2+len(req.Input.Messages))
	for _, ex := range examples {
		augmented.Messages = append(augmented.Messages, ex.Input.Messages...)
		augmented.Messages = append(augmented.Messages, types.Message{Role: types.RoleAssistant, Parts: ex.Output})
	}
	augmented.Messages = append(augmented.Messages, req.Input.Messages...)

	chatReq := req
	chatReq.Input = augmented
	chatReq.Variant = &types.Variant{
		Name:              req.Variant.Name,
		Kind:              types.VariantKindChatCompletion,
		Model:             req.Variant.Model,
		SystemTemplate:    req.Variant.SystemTemplate,
		UserTemplate:      req.Variant.UserTemplate,
		AssistantTemplate: req.Variant.AssistantTemplate,
		DefaultParams:     req.Variant.DefaultParams,
		Timeout:           req.Variant.Timeout,
	}

	result, err := e.executeChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, err
	}
	result.ModelInferences = append([]types.ModelInferenceRecord{embeddingRecord}, result.ModelInferences...)
	return result, nil
}

func flattenInputText(in types.Input) string {
	text := ""
	if s, ok := in.System.(string); ok {
		text += s + "\n"
	}
	for _, m := range in.Messages {
		for _, p := range m.Parts {
			if t, ok := p.(types.TextPart); ok {
				text += t.Text + "\n"
			}
		}
	}
	return text
}
