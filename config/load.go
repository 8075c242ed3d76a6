package config

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/tzgateway/gateway/experimentation"
	"github.com/tzgateway/gateway/schema"
	"github.com/tzgateway/gateway/template"
	"github.com/tzgateway/gateway/types"
	"github.com/tzgateway/gateway/tzerr"
)

// Registry is the immutable result of Load: every Function, Model, and
// Template the document declared, keyed by name. It implements
// function.Registry directly.
type Registry struct {
	functions map[string]*types.Function
	models    map[string]*types.Model
	templates *template.Registry
	metrics   map[string]*types.Metric
}

// Function implements function.Registry.
func (r *Registry) Function(name string) (*types.Function, bool) {
	f, ok := r.functions[name]
	return f, ok
}

// Models returns the loaded model map, for wiring into variant.Executor.
func (r *Registry) Models() map[string]*types.Model { return r.models }

// Templates returns the loaded template registry, for wiring into
// variant.Executor.
func (r *Registry) Templates() *template.Registry { return r.templates }

// Metrics returns the loaded metric map, for validating feedback writes
// (§4.K) before they reach observability.Writer.
func (r *Registry) Metrics() map[string]*types.Metric { return r.metrics }

// Load parses raw as a single YAML document and compiles it into a
// Registry. Templates are registered before functions are built, since a
// variant's *_template fields are validated against the template registry
// at load time rather than deferred to first render.
func Load(raw []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, tzerr.New(tzerr.KindConfig, "parse config document", err, nil)
	}

	templates := template.NewRegistry()
	for name, t := range doc.Templates {
		var compiled *schema.Compiled
		if len(t.Schema) > 0 {
			raw, err := toRawJSON(t.Schema)
			if err != nil {
				return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("template %q schema", name), err, nil)
			}
			compiled, err = schema.Compile("template:"+name, raw)
			if err != nil {
				return nil, err
			}
		}
		if err := templates.Register(name, t.Body, compiled); err != nil {
			return nil, err
		}
	}

	models := make(map[string]*types.Model, len(doc.Models))
	for name, m := range doc.Models {
		model, err := buildModel(name, m)
		if err != nil {
			return nil, err
		}
		models[name] = model
	}

	functions := make(map[string]*types.Function, len(doc.Functions))
	for name, f := range doc.Functions {
		fn, err := buildFunction(name, f, templates, models)
		if err != nil {
			return nil, err
		}
		functions[name] = fn
	}

	metrics := make(map[string]*types.Metric, len(doc.Metrics))
	for name, m := range doc.Metrics {
		metric, err := buildMetric(name, m)
		if err != nil {
			return nil, err
		}
		metrics[name] = metric
	}

	return &Registry{functions: functions, models: models, templates: templates, metrics: metrics}, nil
}

func buildMetric(name string, m metricDoc) (*types.Metric, error) {
	kind, err := toMetricKind(m.Kind)
	if err != nil {
		return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("metric %q", name), err, nil)
	}
	level, err := toMetricLevel(m.Level)
	if err != nil {
		return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("metric %q", name), err, nil)
	}
	return &types.Metric{Name: name, Kind: kind, Level: level}, nil
}

func buildModel(name string, m modelDoc) (*types.Model, error) {
	if len(m.Routing) == 0 {
		return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("model %q: routing must name at least one provider", name), nil, nil)
	}
	providers := make(map[string]*types.ModelProvider, len(m.Providers))
	for pname, p := range m.Providers {
		kind, err := toProviderKind(p.Kind)
		if err != nil {
			return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("model %q provider %q", name, pname), err, nil)
		}
		creds, err := buildCredentials(p.Credentials)
		if err != nil {
			return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("model %q provider %q credentials", name, pname), err, nil)
		}
		extraBody := make([]types.ExtraBodyReplacement, 0, len(p.ExtraBody))
		for _, eb := range p.ExtraBody {
			extraBody = append(extraBody, types.ExtraBodyReplacement{Pointer: eb.Pointer, Value: eb.Value})
		}
		providers[pname] = &types.ModelProvider{
			Name:           pname,
			Kind:           kind,
			ModelID:        p.ModelID,
			Credentials:    creds,
			ExtraHeaders:   p.ExtraHeaders,
			ExtraBody:      extraBody,
			ConnectTimeout: p.ConnectTimeout,
			TotalTimeout:   p.TotalTimeout,
		}
	}
	for _, routed := range m.Routing {
		if _, ok := providers[routed]; !ok {
			return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("model %q: routing references undefined provider %q", name, routed), nil, nil)
		}
	}
	return &types.Model{Name: name, Routing: m.Routing, Provider: providers}, nil
}

func buildCredentials(c credentialsDoc) (types.Credentials, error) {
	kind, err := toCredentialsKind(c.Kind)
	if err != nil {
		return types.Credentials{}, err
	}
	out := types.Credentials{Kind: kind, Static: c.Static, KeyName: c.KeyName}
	if kind == types.CredentialsKindWithFallback {
		if c.Fallback == nil {
			return types.Credentials{}, fmt.Errorf("with_fallback credentials require a fallback entry")
		}
		fb, err := buildCredentials(*c.Fallback)
		if err != nil {
			return types.Credentials{}, err
		}
		out.Fallback = &fb
	}
	return out, nil
}

func buildFunction(name string, f functionDoc, templates *template.Registry, models map[string]*types.Model) (*types.Function, error) {
	kind, err := toFunctionKind(f.Kind)
	if err != nil {
		return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("function %q", name), err, nil)
	}

	fn := &types.Function{Name: name, Kind: kind}

	if fn.SystemSchema, err = compileOptionalSchema(name, "system_schema", f.SystemSchema); err != nil {
		return nil, err
	}
	if fn.UserSchema, err = compileOptionalSchema(name, "user_schema", f.UserSchema); err != nil {
		return nil, err
	}
	if fn.AssistantSchema, err = compileOptionalSchema(name, "assistant_schema", f.AssistantSchema); err != nil {
		return nil, err
	}
	if fn.OutputSchema, err = compileOptionalSchema(name, "output_schema", f.OutputSchema); err != nil {
		return nil, err
	}
	if kind == types.FunctionKindJSON && fn.OutputSchema == nil {
		return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("function %q: json functions require output_schema", name), nil, nil)
	}

	fn.Tools = make([]*types.Tool, 0, len(f.Tools))
	for _, t := range f.Tools {
		var compiled *schema.Compiled
		if len(t.Parameters) > 0 {
			raw, err := toRawJSON(t.Parameters)
			if err != nil {
				return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("function %q tool %q parameters", name, t.Name), err, nil)
			}
			compiled, err = schema.Compile(fmt.Sprintf("function:%s:tool:%s", name, t.Name), raw)
			if err != nil {
				return nil, err
			}
		}
		fn.Tools = append(fn.Tools, &types.Tool{Name: t.Name, Description: t.Description, Parameters: compiled, Strict: t.Strict})
	}
	if f.ToolChoice != nil {
		mode, err := toToolChoiceMode(f.ToolChoice.Mode)
		if err != nil {
			return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("function %q tool_choice", name), err, nil)
		}
		fn.ToolChoice = &types.ToolChoice{Mode: mode, Name: f.ToolChoice.Name}
	}
	fn.ParallelToolCalls = f.ParallelToolCalls

	if f.Experimentation != nil {
		kind, err := toSamplerKind(f.Experimentation.Kind)
		if err != nil {
			return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("function %q experimentation", name), err, nil)
		}
		fn.Experimentation = types.ExperimentationConfig{
			Kind:              kind,
			CandidateVariants: f.Experimentation.CandidateVariants,
			FallbackVariants:  f.Experimentation.FallbackVariants,
		}
	} else {
		fn.Experimentation = types.ExperimentationConfig{Kind: types.SamplerKindWeightedHash}
	}

	fn.Variants = make(map[string]*types.Variant, len(f.Variants))
	fn.VariantNames = make([]string, 0, len(f.Variants))
	for vname, v := range f.Variants {
		variant, err := buildVariant(name, vname, v, templates, models)
		if err != nil {
			return nil, err
		}
		fn.Variants[vname] = variant
		fn.VariantNames = append(fn.VariantNames, vname)
	}
	sort.Strings(fn.VariantNames)
	if len(fn.VariantNames) == 0 {
		return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("function %q: at least one variant is required", name), nil, nil)
	}

	if fn.Experimentation.Kind == types.SamplerKindUniform {
		names := make(map[string]struct{}, len(fn.VariantNames))
		for _, n := range fn.VariantNames {
			names[n] = struct{}{}
		}
		s := experimentation.UniformSampler{CandidateVariants: fn.Experimentation.CandidateVariants, FallbackVariants: fn.Experimentation.FallbackVariants}
		if err := s.Validate(names); err != nil {
			return nil, err
		}
	}

	return fn, nil
}

func buildVariant(fnName, vname string, v variantDoc, templates *template.Registry, models map[string]*types.Model) (*types.Variant, error) {
	kind, err := toVariantKind(v.Kind)
	if err != nil {
		return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("function %q variant %q", fnName, vname), err, nil)
	}
	for _, tname := range []string{v.SystemTemplate, v.UserTemplate, v.AssistantTemplate} {
		if tname != "" && !templates.Has(tname) {
			return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("function %q variant %q references undefined template %q", fnName, vname, tname), nil, nil)
		}
	}
	if v.Model != "" {
		if _, ok := models[v.Model]; !ok {
			return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("function %q variant %q references undefined model %q", fnName, vname, v.Model), nil, nil)
		}
	}
	return &types.Variant{
		Name:              vname,
		Kind:              kind,
		Weight:            v.Weight,
		SystemTemplate:    v.SystemTemplate,
		UserTemplate:      v.UserTemplate,
		AssistantTemplate: v.AssistantTemplate,
		DefaultParams: types.InferenceParams{
			Temperature:      v.Params.Temperature,
			MaxTokens:        v.Params.MaxTokens,
			Seed:             v.Params.Seed,
			TopP:             v.Params.TopP,
			PresencePenalty:  v.Params.PresencePenalty,
			FrequencyPenalty: v.Params.FrequencyPenalty,
			StopSequences:    v.Params.StopSequences,
			ReasoningEffort:  v.Params.ReasoningEffort,
			ServiceTier:      v.Params.ServiceTier,
			ThinkingBudget:   v.Params.ThinkingBudget,
			Verbosity:        v.Params.Verbosity,
		},
		Model:          v.Model,
		Candidates:     v.Candidates,
		EvaluatorName:  v.Evaluator,
		EmbeddingModel: v.EmbeddingModel,
		K:              v.K,
		ExampleTable:   v.ExampleTable,
		Timeout:        v.Timeout,
	}, nil
}

func compileOptionalSchema(fnName, field string, doc map[string]any) (*schema.Compiled, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	raw, err := toRawJSON(doc)
	if err != nil {
		return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("function %q %s", fnName, field), err, nil)
	}
	return schema.Compile(fmt.Sprintf("function:%s:%s", fnName, field), raw)
}

func toRawJSON(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

func toFunctionKind(s string) (types.FunctionKind, error) {
	switch types.FunctionKind(s) {
	case types.FunctionKindChat, types.FunctionKindJSON:
		return types.FunctionKind(s), nil
	default:
		return "", fmt.Errorf("unknown function kind %q", s)
	}
}

func toVariantKind(s string) (types.VariantKind, error) {
	switch types.VariantKind(s) {
	case types.VariantKindChatCompletion, types.VariantKindBestOfN, types.VariantKindDICL, types.VariantKindChainOfThought:
		return types.VariantKind(s), nil
	default:
		return "", fmt.Errorf("unknown variant kind %q", s)
	}
}

func toProviderKind(s string) (types.ProviderKind, error) {
	switch types.ProviderKind(s) {
	case types.ProviderKindOpenAICompatible, types.ProviderKindAnthropic, types.ProviderKindVertex,
		types.ProviderKindFireworks, types.ProviderKindXAI, types.ProviderKindVLLM, types.ProviderKindDummy:
		return types.ProviderKind(s), nil
	default:
		return "", fmt.Errorf("unknown provider kind %q", s)
	}
}

func toCredentialsKind(s string) (types.CredentialsKind, error) {
	if s == "" {
		return types.CredentialsKindNone, nil
	}
	switch types.CredentialsKind(s) {
	case types.CredentialsKindStatic, types.CredentialsKindDynamic, types.CredentialsKindWithFallback, types.CredentialsKindNone:
		return types.CredentialsKind(s), nil
	default:
		return "", fmt.Errorf("unknown credentials kind %q", s)
	}
}

func toToolChoiceMode(s string) (types.ToolChoiceMode, error) {
	switch types.ToolChoiceMode(s) {
	case types.ToolChoiceNone, types.ToolChoiceAuto, types.ToolChoiceRequired, types.ToolChoiceSpecific:
		return types.ToolChoiceMode(s), nil
	default:
		return "", fmt.Errorf("unknown tool_choice mode %q", s)
	}
}

func toSamplerKind(s string) (types.SamplerKind, error) {
	switch types.SamplerKind(s) {
	case types.SamplerKindWeightedHash, types.SamplerKindUniform:
		return types.SamplerKind(s), nil
	default:
		return "", fmt.Errorf("unknown experimentation kind %q", s)
	}
}

func toMetricKind(s string) (types.MetricKind, error) {
	switch types.MetricKind(s) {
	case types.MetricKindBoolean, types.MetricKindFloat:
		return types.MetricKind(s), nil
	default:
		return "", fmt.Errorf("unknown metric kind %q", s)
	}
}

func toMetricLevel(s string) (types.MetricLevel, error) {
	switch types.MetricLevel(s) {
	case types.MetricLevelInference, types.MetricLevelEpisode:
		return types.MetricLevel(s), nil
	default:
		return "", fmt.Errorf("unknown metric level %q", s)
	}
}
