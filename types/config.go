package types

import "time"

// FunctionKind distinguishes free-form chat functions from functions that
// must produce schema-validated JSON output.
type FunctionKind string

const (
	FunctionKindChat FunctionKind = "chat"
	FunctionKindJSON FunctionKind = "json"
)

// VariantKind selects the execution strategy a Variant realizes (§3).
type VariantKind string

const (
	VariantKindChatCompletion  VariantKind = "chat_completion"
	VariantKindBestOfN         VariantKind = "best_of_n"
	VariantKindDICL            VariantKind = "dicl"
	VariantKindChainOfThought  VariantKind = "chain_of_thought_json"
)

type (
	// Function is a named, immutable unit binding a schema-validated input to
	// one or more Variants. Functions are loaded once at config time and read
	// only thereafter; the variants map is keyed by name with deterministic
	// iteration order (callers range over VariantNames, not the map directly).
	Function struct {
		Name             string
		Kind             FunctionKind
		SystemSchema     *CompiledSchemaRef
		UserSchema       *CompiledSchemaRef
		AssistantSchema  *CompiledSchemaRef
		OutputSchema     *CompiledSchemaRef // required when Kind == FunctionKindJSON
		Variants         map[string]*Variant
		VariantNames     []string // deterministic iteration order over Variants
		Tools            []*Tool  // static tool list
		ToolChoice       *ToolChoice
		ParallelToolCalls *bool
		Experimentation  ExperimentationConfig
	}

	// Variant is a named strategy for realizing a Function.
	Variant struct {
		Name   string
		Kind   VariantKind
		Weight float64 // >= 0; sum-zero degrades sampling to uniform over names

		SystemTemplate    string // registered template name, optional
		UserTemplate      string
		AssistantTemplate string

		DefaultParams InferenceParams

		// ChatCompletion / ChainOfThought
		Model string // Model registry key

		// BestOfN
		Candidates     []string // variant names
		EvaluatorName  string   // variant name whose output selects the winner

		// DICL
		EmbeddingModel string
		K              int
		ExampleTable   string // logical table name scoping retrieved examples

		Timeout time.Duration
	}

	// Model is a named inference target: an ordered retry chain of
	// ModelProviders.
	Model struct {
		Name     string
		Routing  []string // ordered ModelProvider names; first success short-circuits
		Provider map[string]*ModelProvider
	}

	// ModelProvider binds a provider kind + model id + credentials for one
	// link in a Model's retry chain.
	ModelProvider struct {
		Name         string
		Kind         ProviderKind
		ModelID      string
		Credentials  Credentials
		ExtraHeaders map[string]string
		ExtraBody    []ExtraBodyReplacement
		ConnectTimeout time.Duration
		TotalTimeout   time.Duration
	}

	// ProviderKind identifies the wire protocol a ModelProvider speaks.
	ProviderKind string

	// ExtraBodyReplacement replaces the value at a JSON pointer path in the
	// outgoing wire body before the request is sent.
	ExtraBodyReplacement struct {
		Pointer string
		Value   any
	}

	// InferenceParams holds the subset of request-time sampling parameters a
	// variant or request can override.
	InferenceParams struct {
		Temperature        *float64
		MaxTokens          *int
		Seed               *int64
		TopP               *float64
		PresencePenalty    *float64
		FrequencyPenalty   *float64
		StopSequences      []string
		ReasoningEffort    string
		ServiceTier        string
		ThinkingBudget     *int
		Verbosity          string
	}

	// ExperimentationConfig selects the sampler a Function uses to pick a
	// Variant (§4.E / §4.L).
	ExperimentationConfig struct {
		Kind               SamplerKind
		CandidateVariants  []string // Uniform sampler only
		FallbackVariants   []string // Uniform sampler only, ranked
	}

	// SamplerKind selects between the weighted-hash sampler and the uniform
	// sampler.
	SamplerKind string

	// Metric is a named, configured feedback target: the value kind a write
	// against it must carry and the target level (inference vs episode) it
	// is scoped to (§4.K).
	Metric struct {
		Name  string
		Kind  MetricKind
		Level MetricLevel
	}

	// MetricKind distinguishes the two scalar feedback tables a Metric can
	// back (§4.K; comment and demonstration feedback are not configured
	// metrics).
	MetricKind string

	// MetricLevel is the target kind a Metric's feedback must carry.
	MetricLevel string
)

const (
	ProviderKindOpenAICompatible ProviderKind = "openai_compatible"
	ProviderKindAnthropic        ProviderKind = "anthropic"
	ProviderKindVertex           ProviderKind = "vertex"
	ProviderKindFireworks        ProviderKind = "fireworks"
	ProviderKindXAI              ProviderKind = "xai"
	ProviderKindVLLM             ProviderKind = "vllm"
	ProviderKindDummy            ProviderKind = "dummy"
)

const (
	SamplerKindWeightedHash SamplerKind = "weighted_hash"
	SamplerKindUniform      SamplerKind = "uniform"
)

const (
	MetricKindBoolean MetricKind = "boolean"
	MetricKindFloat   MetricKind = "float"
)

const (
	MetricLevelInference MetricLevel = "inference"
	MetricLevelEpisode   MetricLevel = "episode"
)

// Merge overlays request-supplied overrides on top of the variant/function
// defaults; non-nil/non-empty fields in override win (§4.D step 1).
func (p InferenceParams) Merge(override InferenceParams) InferenceParams {
	out := p
	if override.Temperature != nil {
		out.Temperature = override.Temperature
	}
	if override.MaxTokens != nil {
		out.MaxTokens = override.MaxTokens
	}
	if override.Seed != nil {
		out.Seed = override.Seed
	}
	if override.TopP != nil {
		out.TopP = override.TopP
	}
	if override.PresencePenalty != nil {
		out.PresencePenalty = override.PresencePenalty
	}
	if override.FrequencyPenalty != nil {
		out.FrequencyPenalty = override.FrequencyPenalty
	}
	if len(override.StopSequences) > 0 {
		out.StopSequences = override.StopSequences
	}
	if override.ReasoningEffort != "" {
		out.ReasoningEffort = override.ReasoningEffort
	}
	if override.ServiceTier != "" {
		out.ServiceTier = override.ServiceTier
	}
	if override.ThinkingBudget != nil {
		out.ThinkingBudget = override.ThinkingBudget
	}
	if override.Verbosity != "" {
		out.Verbosity = override.Verbosity
	}
	return out
}
