package variant

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tzgateway/gateway/provider"
	"github.com/tzgateway/gateway/provider/dummy"
	"github.com/tzgateway/gateway/schema"
	"github.com/tzgateway/gateway/template"
	"github.com/tzgateway/gateway/tool"
	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
)

// staticResolver is a ClientResolver keyed by ModelProvider.Name, built for
// tests so every model provider in a fixture can point at its own dummy
// behavior set.
type staticResolver map[string]provider.Client

func (s staticResolver) Resolve(mp *types.ModelProvider) (provider.Client, error) {
	c, ok := s[mp.Name]
	if !ok {
		return nil, tzerr.New(tzerr.KindInvalidProviderConfig, "no client registered for provider", nil, map[string]any{"provider": mp.Name})
	}
	return c, nil
}

func chatFunction(name string, variants map[string]*types.Variant) *types.Function {
	names := make([]string, 0, len(variants))
	for n := range variants {
		names = append(names, n)
	}
	return &types.Function{Name: name, Kind: types.FunctionKindChat, Variants: variants, VariantNames: names}
}

func singleProviderModel(name, providerName string) *types.Model {
	return &types.Model{
		Name:    name,
		Routing: []string{providerName},
		Provider: map[string]*types.ModelProvider{
			providerName: {Name: providerName, Kind: types.ProviderKindDummy, ModelID: "dummy-1"},
		},
	}
}

func TestExecuteChatCompletionSuccess(t *testing.T) {
	client := dummy.New(map[string]dummy.Behavior{"dummy-1": {Text: "hello there"}})
	model := singleProviderModel("gpt", "p1")
	variant := &types.Variant{Name: "v1", Kind: types.VariantKindChatCompletion, Model: "gpt"}
	fn := chatFunction("greet", map[string]*types.Variant{"v1": variant})

	e := &Executor{
		Models:    map[string]*types.Model{"gpt": model},
		Clients:   staticResolver{"p1": client},
		Templates: template.NewRegistry(),
	}

	result, err := e.Execute(context.Background(), Request{
		Function: fn,
		Variant:  variant,
		Input:    types.Input{Messages: []types.Message{{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "hi"}}}}},
	})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	require.Equal(t, types.TextPart{Text: "hello there"}, result.Content[0])
	require.Len(t, result.ModelInferences, 1)
	require.Equal(t, "gpt", result.ModelInferences[0].ModelName)
}

func TestExecuteFallsBackAcrossRoutingChain(t *testing.T) {
	failing := dummy.New(map[string]dummy.Behavior{"bad-model": {FailWithKind: tzerr.KindInferenceServer}})
	working := dummy.New(map[string]dummy.Behavior{"good-model": {Text: "recovered"}})

	model := &types.Model{
		Name:    "m",
		Routing: []string{"primary", "secondary"},
		Provider: map[string]*types.ModelProvider{
			"primary":   {Name: "primary", Kind: types.ProviderKindDummy, ModelID: "bad-model"},
			"secondary": {Name: "secondary", Kind: types.ProviderKindDummy, ModelID: "good-model"},
		},
	}
	variant := &types.Variant{Name: "v1", Kind: types.VariantKindChatCompletion, Model: "m"}
	fn := chatFunction("f", map[string]*types.Variant{"v1": variant})

	e := &Executor{
		Models:    map[string]*types.Model{"m": model},
		Clients:   staticResolver{"primary": failing, "secondary": working},
		Templates: template.NewRegistry(),
	}

	result, err := e.Execute(context.Background(), Request{
		Function: fn,
		Variant:  variant,
		Input:    types.Input{Messages: []types.Message{{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "hi"}}}}},
	})
	require.NoError(t, err)
	require.Equal(t, types.TextPart{Text: "recovered"}, result.Content[0])
	require.Equal(t, "secondary", result.ModelInferences[0].ModelProviderName)
}

func TestExecuteAllProvidersFailRaisesModelProvidersExhausted(t *testing.T) {
	failing := dummy.New(map[string]dummy.Behavior{"bad-model": {FailWithKind: tzerr.KindInferenceServer}})
	model := &types.Model{
		Name:    "m",
		Routing: []string{"primary"},
		Provider: map[string]*types.ModelProvider{
			"primary": {Name: "primary", Kind: types.ProviderKindDummy, ModelID: "bad-model"},
		},
	}
	variant := &types.Variant{Name: "v1", Kind: types.VariantKindChatCompletion, Model: "m"}
	fn := chatFunction("f", map[string]*types.Variant{"v1": variant})

	e := &Executor{
		Models:    map[string]*types.Model{"m": model},
		Clients:   staticResolver{"primary": failing},
		Templates: template.NewRegistry(),
	}

	_, err := e.Execute(context.Background(), Request{
		Function: fn,
		Variant:  variant,
		Input:    types.Input{Messages: []types.Message{{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "hi"}}}}},
	})
	require.Error(t, err)
	tzErr, ok := tzerr.As(err)
	require.True(t, ok)
	require.Equal(t, tzerr.KindModelProvidersExhausted, tzErr.Kind())
}

func TestExecuteJSONFunctionParsesAndValidatesOutput(t *testing.T) {
	outputSchema, err := schema.Compile("out", json.RawMessage(`{"type":"object","required":["answer"],"properties":{"answer":{"type":"string"}}}`))
	require.NoError(t, err)

	client := dummy.New(map[string]dummy.Behavior{"dummy-1": {Text: `{"answer":"42"}`}})
	model := singleProviderModel("gpt", "p1")
	variant := &types.Variant{Name: "v1", Kind: types.VariantKindChatCompletion, Model: "gpt"}
	fn := &types.Function{
		Name: "ask", Kind: types.FunctionKindJSON, OutputSchema: (*types.CompiledSchemaRef)(outputSchema),
		Variants: map[string]*types.Variant{"v1": variant}, VariantNames: []string{"v1"},
	}

	e := &Executor{
		Models:    map[string]*types.Model{"gpt": model},
		Clients:   staticResolver{"p1": client},
		Templates: template.NewRegistry(),
	}

	result, err := e.Execute(context.Background(), Request{
		Function: fn,
		Variant:  variant,
		Input:    types.Input{Messages: []types.Message{{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "q"}}}}},
	})
	require.NoError(t, err)
	require.NotNil(t, result.JSONOutput)
	require.NotNil(t, result.JSONOutput.Parsed)
	require.JSONEq(t, `{"answer":"42"}`, string(result.JSONOutput.Parsed))
}

func TestExecuteJSONFunctionInvalidOutputLeavesParsedNil(t *testing.T) {
	outputSchema, err := schema.Compile("out2", json.RawMessage(`{"type":"object","required":["answer"],"properties":{"answer":{"type":"string"}}}`))
	require.NoError(t, err)

	client := dummy.New(map[string]dummy.Behavior{"dummy-1": {Text: `not json`}})
	model := singleProviderModel("gpt", "p1")
	variant := &types.Variant{Name: "v1", Kind: types.VariantKindChatCompletion, Model: "gpt"}
	fn := &types.Function{
		Name: "ask", Kind: types.FunctionKindJSON, OutputSchema: (*types.CompiledSchemaRef)(outputSchema),
		Variants: map[string]*types.Variant{"v1": variant}, VariantNames: []string{"v1"},
	}

	e := &Executor{
		Models:    map[string]*types.Model{"gpt": model},
		Clients:   staticResolver{"p1": client},
		Templates: template.NewRegistry(),
	}

	result, err := e.Execute(context.Background(), Request{
		Function: fn,
		Variant:  variant,
		Input:    types.Input{Messages: []types.Message{{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "q"}}}}},
	})
	require.NoError(t, err)
	require.NotNil(t, result.JSONOutput)
	require.Nil(t, result.JSONOutput.Parsed)
	require.Equal(t, "not json", result.JSONOutput.Raw)
}

func TestExecuteToolResolutionRejectsUnknownAllowedTool(t *testing.T) {
	client := dummy.New(map[string]dummy.Behavior{"dummy-1": {Text: "ok"}})
	model := singleProviderModel("gpt", "p1")
	variant := &types.Variant{Name: "v1", Kind: types.VariantKindChatCompletion, Model: "gpt"}
	fn := chatFunction("f", map[string]*types.Variant{"v1": variant})

	e := &Executor{
		Models:    map[string]*types.Model{"gpt": model},
		Clients:   staticResolver{"p1": client},
		Templates: template.NewRegistry(),
	}

	_, err := e.Execute(context.Background(), Request{
		Function:    fn,
		Variant:     variant,
		Input:       types.Input{Messages: []types.Message{{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "q"}}}}},
		ToolRequest: tool.Request{AllowedTools: []string{"does_not_exist"}},
	})
	require.Error(t, err)
	tzErr, ok := tzerr.As(err)
	require.True(t, ok)
	require.Equal(t, tzerr.KindToolNotFound, tzErr.Kind())
}

func TestExecuteRendersTemplatedUserMessage(t *testing.T) {
	client := dummy.New(map[string]dummy.Behavior{"dummy-1": {Text: "ack"}})
	model := singleProviderModel("gpt", "p1")
	tpls := template.NewRegistry()
	require.NoError(t, tpls.Register("greeting", "Hello, {{.name}}!", nil))

	variant := &types.Variant{Name: "v1", Kind: types.VariantKindChatCompletion, Model: "gpt", UserTemplate: "greeting"}
	fn := chatFunction("f", map[string]*types.Variant{"v1": variant})

	e := &Executor{
		Models:    map[string]*types.Model{"gpt": model},
		Clients:   staticResolver{"p1": client},
		Templates: tpls,
	}

	result, err := e.Execute(context.Background(), Request{
		Function: fn,
		Variant:  variant,
		Input: types.Input{Messages: []types.Message{{
			Role:  types.RoleUser,
			Parts: []types.Part{types.TemplatePart{Args: map[string]any{"name": "Ada"}}},
		}}},
	})
	require.NoError(t, err)
	require.Equal(t, "ack", result.Content[0].(types.TextPart).Text)
}

func TestExecuteBestOfNPicksEvaluatorWinner(t *testing.T) {
	candidateA := dummy.New(map[string]dummy.Behavior{"model-a": {Text: "short"}})
	candidateB := dummy.New(map[string]dummy.Behavior{"model-b": {Text: "a much more thorough and complete answer"}})
	judge := dummy.New(map[string]dummy.Behavior{"judge-model": {Text: `{"winner":1}`}})

	modelA := singleProviderModel("ma", "pa")
	modelA.Provider["pa"].ModelID = "model-a"
	modelB := singleProviderModel("mb", "pb")
	modelB.Provider["pb"].ModelID = "model-b"
	modelJudge := singleProviderModel("mj", "pj")
	modelJudge.Provider["pj"].ModelID = "judge-model"

	varA := &types.Variant{Name: "a", Kind: types.VariantKindChatCompletion, Model: "ma"}
	varB := &types.Variant{Name: "b", Kind: types.VariantKindChatCompletion, Model: "mb"}
	varJudge := &types.Variant{Name: "judge", Kind: types.VariantKindChatCompletion, Model: "mj"}
	bestOfN := &types.Variant{
		Name: "bon", Kind: types.VariantKindBestOfN,
		Candidates: []string{"a", "b"}, EvaluatorName: "judge",
	}

	schemaDoc, err := schema.Compile("winner", json.RawMessage(`{"type":"object","required":["winner"],"properties":{"winner":{"type":"integer"}}}`))
	require.NoError(t, err)

	fn := &types.Function{
		Name: "f", Kind: types.FunctionKindChat,
		OutputSchema: (*types.CompiledSchemaRef)(schemaDoc),
		Variants:     map[string]*types.Variant{"a": varA, "b": varB, "judge": varJudge, "bon": bestOfN},
		VariantNames: []string{"a", "b", "judge", "bon"},
	}

	e := &Executor{
		Models: map[string]*types.Model{"ma": modelA, "mb": modelB, "mj": modelJudge},
		Clients: staticResolver{
			"pa": candidateA, "pb": candidateB, "pj": judge,
		},
		Templates: template.NewRegistry(),
	}

	result, err := e.Execute(context.Background(), Request{
		Function: fn,
		Variant:  bestOfN,
		Input:    types.Input{Messages: []types.Message{{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "q"}}}}},
	})
	require.NoError(t, err)
	require.Equal(t, "a much more thorough and complete answer", result.Content[0].(types.TextPart).Text)
	require.GreaterOrEqual(t, len(result.ModelInferences), 3)
}

// TestExecuteBestOfNConsultsEvaluatorForJSONFunction guards against the
// evaluator's {"winner"} response being validated against the outer
// function's own answer schema instead of its own fixed shape: the outer
// function here is FunctionKindJSON with an "answer" schema completely
// unrelated to {"winner"}, so if the evaluator's output were (re)validated
// against it, parsing would fail and the result would silently degrade to
// candidates[0].
func TestExecuteBestOfNConsultsEvaluatorForJSONFunction(t *testing.T) {
	candidateA := dummy.New(map[string]dummy.Behavior{"model-a": {Text: `{"answer":"short"}`}})
	candidateB := dummy.New(map[string]dummy.Behavior{"model-b": {Text: `{"answer":"a much more thorough and complete answer"}`}})
	judge := dummy.New(map[string]dummy.Behavior{"judge-model": {Text: `{"winner":1}`}})

	modelA := singleProviderModel("ma", "pa")
	modelA.Provider["pa"].ModelID = "model-a"
	modelB := singleProviderModel("mb", "pb")
	modelB.Provider["pb"].ModelID = "model-b"
	modelJudge := singleProviderModel("mj", "pj")
	modelJudge.Provider["pj"].ModelID = "judge-model"

	varA := &types.Variant{Name: "a", Kind: types.VariantKindChatCompletion, Model: "ma"}
	varB := &types.Variant{Name: "b", Kind: types.VariantKindChatCompletion, Model: "mb"}
	varJudge := &types.Variant{Name: "judge", Kind: types.VariantKindChatCompletion, Model: "mj"}
	bestOfN := &types.Variant{
		Name: "bon", Kind: types.VariantKindBestOfN,
		Candidates: []string{"a", "b"}, EvaluatorName: "judge",
	}

	answerSchema, err := schema.Compile("answer", json.RawMessage(`{"type":"object","required":["answer"],"properties":{"answer":{"type":"string"}}}`))
	require.NoError(t, err)

	fn := &types.Function{
		Name: "f", Kind: types.FunctionKindJSON,
		OutputSchema: answerSchema,
		Variants:     map[string]*types.Variant{"a": varA, "b": varB, "judge": varJudge, "bon": bestOfN},
		VariantNames: []string{"a", "b", "judge", "bon"},
	}

	e := &Executor{
		Models: map[string]*types.Model{"ma": modelA, "mb": modelB, "mj": modelJudge},
		Clients: staticResolver{
			"pa": candidateA, "pb": candidateB, "pj": judge,
		},
		Templates: template.NewRegistry(),
	}

	result, err := e.Execute(context.Background(), Request{
		Function: fn,
		Variant:  bestOfN,
		Input:    types.Input{Messages: []types.Message{{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "q"}}}}},
	})
	require.NoError(t, err)
	require.NotNil(t, result.JSONOutput)
	require.JSONEq(t, `{"answer":"a much more thorough and complete answer"}`, result.JSONOutput.Raw)
}

func TestExecuteDICLSplicesExamplesAndRecordsEmbeddingCall(t *testing.T) {
	chat := dummy.New(map[string]dummy.Behavior{"chat-model": {Text: "dicl answer"}})
	model := singleProviderModel("m", "p")
	model.Provider["p"].ModelID = "chat-model"

	variant := &types.Variant{
		Name: "dicl1", Kind: types.VariantKindDICL, Model: "m",
		EmbeddingModel: "embed-1", K: 1, ExampleTable: "examples",
	}
	fn := chatFunction("f", map[string]*types.Variant{"dicl1": variant})

	exampleID := uuid.Must(uuid.NewV7())
	e := &Executor{
		Models:     map[string]*types.Model{"m": model},
		Clients:    staticResolver{"p": chat},
		Templates:  template.NewRegistry(),
		Embeddings: fakeEmbedder{vector: []float32{0.1, 0.2}},
		Examples: fakeExampleStore{examples: []types.DICLExample{{
			ID: exampleID, FunctionName: "f", VariantName: "dicl1",
			Input:  types.Input{Messages: []types.Message{{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "past question"}}}}},
			Output: []types.Part{types.TextPart{Text: "past answer"}},
		}}},
	}

	result, err := e.Execute(context.Background(), Request{
		Function: fn,
		Variant:  variant,
		Input:    types.Input{Messages: []types.Message{{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "new question"}}}}},
	})
	require.NoError(t, err)
	require.Equal(t, "dicl answer", result.Content[0].(types.TextPart).Text)
	require.Len(t, result.ModelInferences, 2)
	require.Equal(t, "embed-1", result.ModelInferences[0].ModelName)
}

type fakeEmbedder struct{ vector []float32 }

func (f fakeEmbedder) Embed(ctx context.Context, modelID, text string) ([]float32, types.Usage, error) {
	return f.vector, types.Usage{InputTokens: 3}, nil
}

type fakeExampleStore struct{ examples []types.DICLExample }

func (f fakeExampleStore) NearestExamples(ctx context.Context, functionName, variantName string, embedding []float32, k int) ([]types.DICLExample, error) {
	return f.examples, nil
}
