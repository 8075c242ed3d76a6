package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tzgateway/gateway/types"
)

const sampleDoc = `
templates:
  greeting_system:
    body: "You are a helpful assistant."
metrics:
  thumbs_up:
    kind: boolean
    level: inference
  quality_score:
    kind: float
    level: episode
models:
  gpt-demo-model:
    routing: [primary]
    providers:
      primary:
        kind: openai_compatible
        model_id: gpt-4o-mini
        credentials:
          kind: dynamic
          key_name: OPENAI_API_KEY
functions:
  basic_test:
    kind: chat
    variants:
      chat:
        kind: chat_completion
        weight: 1
        model: gpt-demo-model
        system_template: greeting_system
        params:
          temperature: 0.2
  extract_entities:
    kind: json
    output_schema:
      type: object
      required: [entities]
      properties:
        entities:
          type: array
          items: {type: string}
    variants:
      chain_of_thought:
        kind: chain_of_thought_json
        weight: 1
        model: gpt-demo-model
`

func TestLoad(t *testing.T) {
	reg, err := Load([]byte(sampleDoc))
	require.NoError(t, err)

	fn, ok := reg.Function("basic_test")
	require.True(t, ok)
	require.Equal(t, types.FunctionKindChat, fn.Kind)
	require.Len(t, fn.VariantNames, 1)
	variant := fn.Variants["chat"]
	require.Equal(t, types.VariantKindChatCompletion, variant.Kind)
	require.Equal(t, "gpt-demo-model", variant.Model)
	require.Equal(t, "greeting_system", variant.SystemTemplate)
	require.NotNil(t, variant.DefaultParams.Temperature)
	require.Equal(t, 0.2, *variant.DefaultParams.Temperature)

	jsonFn, ok := reg.Function("extract_entities")
	require.True(t, ok)
	require.Equal(t, types.FunctionKindJSON, jsonFn.Kind)
	require.NotNil(t, jsonFn.OutputSchema)

	model, ok := reg.Models()["gpt-demo-model"]
	require.True(t, ok)
	require.Equal(t, []string{"primary"}, model.Routing)
	require.Equal(t, types.ProviderKindOpenAICompatible, model.Provider["primary"].Kind)
	require.Equal(t, types.CredentialsKindDynamic, model.Provider["primary"].Credentials.Kind)

	require.True(t, reg.Templates().Has("greeting_system"))

	require.Equal(t, types.MetricKindBoolean, reg.Metrics()["thumbs_up"].Kind)
	require.Equal(t, types.MetricLevelInference, reg.Metrics()["thumbs_up"].Level)
	require.Equal(t, types.MetricKindFloat, reg.Metrics()["quality_score"].Kind)
	require.Equal(t, types.MetricLevelEpisode, reg.Metrics()["quality_score"].Level)
}

func TestLoad_InvalidMetricKind(t *testing.T) {
	_, err := Load([]byte(`
metrics:
  bad:
    kind: not_a_real_kind
    level: inference
`))
	require.Error(t, err)
}

func TestLoad_InvalidMetricLevel(t *testing.T) {
	_, err := Load([]byte(`
metrics:
  bad:
    kind: boolean
    level: not_a_real_level
`))
	require.Error(t, err)
}

func TestLoad_JSONFunctionRequiresOutputSchema(t *testing.T) {
	_, err := Load([]byte(`
functions:
  bad:
    kind: json
    variants:
      v1:
        kind: chat_completion
        weight: 1
`))
	require.Error(t, err)
}

func TestLoad_ModelRoutingMustReferenceDefinedProvider(t *testing.T) {
	_, err := Load([]byte(`
models:
  m1:
    routing: [missing]
    providers: {}
`))
	require.Error(t, err)
}

func TestLoad_VariantRejectsUndefinedTemplate(t *testing.T) {
	_, err := Load([]byte(`
functions:
  f1:
    kind: chat
    variants:
      v1:
        kind: chat_completion
        weight: 1
        system_template: nope
`))
	require.Error(t, err)
}

func TestLoad_InvalidProviderKind(t *testing.T) {
	_, err := Load([]byte(`
models:
  m1:
    routing: [p1]
    providers:
      p1:
        kind: not_a_real_kind
`))
	require.Error(t, err)
}
