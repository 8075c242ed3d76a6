package types

// Tool describes one function-callable tool, static (function config) or
// dynamic (request additional_tools).
type Tool struct {
	Name        string
	Description string
	Parameters  *CompiledSchemaRef // JSON Schema for the tool's arguments
	Strict      bool
	Dynamic     bool
}

// ToolChoiceMode controls how a model is expected to use tools for a
// request.
type ToolChoiceMode string

const (
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceSpecific ToolChoiceMode = "specific"
)

// ToolChoice configures tool-use behavior; Name is set only when Mode is
// ToolChoiceSpecific.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// ToolCallConfig is the fully resolved tool bundle for a single inference:
// the merged tool list, tool choice, allowed-tools constraint, and the
// parallel-tool-calls flag (§3, §4.F).
type ToolCallConfig struct {
	Tools              []*Tool
	ToolChoice         *ToolChoice
	AllowedTools       []string // nil means "function default", i.e. no restriction
	ParallelToolCalls  *bool
}

// ToolCallConfigDatabaseInsert is the persisted shape of a ToolCallConfig.
// Per design notes, persistence collapses static+dynamic tools into a single
// list and drops the static/dynamic distinction on read-back; reconstruction
// consults the function config. tool.UnmarshalDatabaseInsert accepts both
// this decomposed shape and a legacy single-string tool_params column.
type ToolCallConfigDatabaseInsert struct {
	Tools             []ToolCallConfigDatabaseTool `json:"tools,omitempty"`
	ToolChoice        *ToolChoice                  `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool                        `json:"parallel_tool_calls,omitempty"`
}

// ToolCallConfigDatabaseTool is one persisted tool entry: name, description,
// and the raw JSON Schema bytes (schemas are not recompiled on read; callers
// needing validation recompile from Parameters via schema.Compile).
type ToolCallConfigDatabaseTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []byte          `json:"parameters,omitempty"`
	Strict      bool            `json:"strict,omitempty"`
}
