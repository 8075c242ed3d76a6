// Package config loads Functions, Variants, Models, and Templates from a
// single YAML document into the read-only, name-keyed registries the rest
// of the module operates on (function.Registry, the variant executor's
// Models map, template.Registry). Nothing in this module re-reads the
// document after Load returns; a changed file requires a fresh Load and a
// swap of the embedder's registry reference.
//
// No repo in the retrieved pack uses a bespoke config format here; the
// pack's config-file convention (also followed by the teacher for its own
// agent manifests) is YAML via gopkg.in/yaml.v3, so this package follows
// that rather than reaching for encoding/json or a DSL.
package config

import "time"

type document struct {
	Models    map[string]modelDoc    `yaml:"models"`
	Functions map[string]functionDoc `yaml:"functions"`
	Templates map[string]templateDoc `yaml:"templates"`
	Metrics   map[string]metricDoc   `yaml:"metrics"`
}

type metricDoc struct {
	Kind  string `yaml:"kind"`
	Level string `yaml:"level"`
}

type modelDoc struct {
	Routing   []string               `yaml:"routing"`
	Providers map[string]providerDoc `yaml:"providers"`
}

type providerDoc struct {
	Kind           string            `yaml:"kind"`
	ModelID        string            `yaml:"model_id"`
	Credentials    credentialsDoc    `yaml:"credentials"`
	ExtraHeaders   map[string]string `yaml:"extra_headers"`
	ExtraBody      []extraBodyDoc    `yaml:"extra_body"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout"`
	TotalTimeout   time.Duration     `yaml:"total_timeout"`
}

type credentialsDoc struct {
	Kind     string          `yaml:"kind"`
	Static   string          `yaml:"static"`
	KeyName  string          `yaml:"key_name"`
	Fallback *credentialsDoc `yaml:"fallback"`
}

type extraBodyDoc struct {
	Pointer string `yaml:"pointer"`
	Value   any    `yaml:"value"`
}

type functionDoc struct {
	Kind              string                `yaml:"kind"`
	SystemSchema      map[string]any        `yaml:"system_schema"`
	UserSchema        map[string]any        `yaml:"user_schema"`
	AssistantSchema   map[string]any        `yaml:"assistant_schema"`
	OutputSchema      map[string]any        `yaml:"output_schema"`
	Variants          map[string]variantDoc `yaml:"variants"`
	Tools             []toolDoc             `yaml:"tools"`
	ToolChoice        *toolChoiceDoc        `yaml:"tool_choice"`
	ParallelToolCalls *bool                 `yaml:"parallel_tool_calls"`
	Experimentation   *experimentationDoc   `yaml:"experimentation"`
}

type toolDoc struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
	Strict      bool           `yaml:"strict"`
}

type toolChoiceDoc struct {
	Mode string `yaml:"mode"`
	Name string `yaml:"name"`
}

type experimentationDoc struct {
	Kind              string   `yaml:"kind"`
	CandidateVariants []string `yaml:"candidate_variants"`
	FallbackVariants  []string `yaml:"fallback_variants"`
}

type variantDoc struct {
	Kind              string             `yaml:"kind"`
	Weight            float64            `yaml:"weight"`
	SystemTemplate    string             `yaml:"system_template"`
	UserTemplate      string             `yaml:"user_template"`
	AssistantTemplate string             `yaml:"assistant_template"`
	Params            inferenceParamsDoc `yaml:"params"`
	Model             string             `yaml:"model"`
	Candidates        []string           `yaml:"candidates"`
	Evaluator         string             `yaml:"evaluator"`
	EmbeddingModel    string             `yaml:"embedding_model"`
	K                 int                `yaml:"k"`
	ExampleTable      string             `yaml:"example_table"`
	Timeout           time.Duration      `yaml:"timeout"`
}

type inferenceParamsDoc struct {
	Temperature      *float64 `yaml:"temperature"`
	MaxTokens        *int     `yaml:"max_tokens"`
	Seed             *int64   `yaml:"seed"`
	TopP             *float64 `yaml:"top_p"`
	PresencePenalty  *float64 `yaml:"presence_penalty"`
	FrequencyPenalty *float64 `yaml:"frequency_penalty"`
	StopSequences    []string `yaml:"stop_sequences"`
	ReasoningEffort  string   `yaml:"reasoning_effort"`
	ServiceTier      string   `yaml:"service_tier"`
	ThinkingBudget   *int     `yaml:"thinking_budget_tokens"`
	Verbosity        string   `yaml:"verbosity"`
}

type templateDoc struct {
	Body   string         `yaml:"body"`
	Schema map[string]any `yaml:"schema"`
}
