package tool

import (
	"bytes"
	"encoding/json"

	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
)

// ToDatabaseInsert collapses a resolved ToolCallConfig into the persisted
// shape (§4.F "storage format", §9 "tool config storage lossiness"): the
// static/dynamic distinction is dropped on write and must be reconstructed
// on read by consulting the function config.
func ToDatabaseInsert(cfg *types.ToolCallConfig) *types.ToolCallConfigDatabaseInsert {
	if cfg == nil {
		return nil
	}
	out := &types.ToolCallConfigDatabaseInsert{
		ToolChoice:        cfg.ToolChoice,
		ParallelToolCalls: cfg.ParallelToolCalls,
	}
	for _, t := range cfg.Tools {
		var params []byte
		if t.Parameters != nil {
			params = t.Parameters.Raw()
		}
		out.Tools = append(out.Tools, types.ToolCallConfigDatabaseTool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
			Strict:      t.Strict,
		})
	}
	return out
}

// legacyShape is the pre-decomposition persisted form: a single JSON string
// column holding the entire serialized ToolCallConfigDatabaseInsert (§9).
type legacyShape struct {
	ToolParams string `json:"tool_params"`
}

// UnmarshalDatabaseInsert accepts both the current decomposed column shape
// and tensorzero's legacy single-string tool_params column, trying the
// decomposed shape first (§9 design notes, §8 round-trip property).
func UnmarshalDatabaseInsert(raw []byte) (*types.ToolCallConfigDatabaseInsert, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	var direct types.ToolCallConfigDatabaseInsert
	if err := dec.Decode(&direct); err == nil && (len(direct.Tools) > 0 || direct.ToolChoice != nil || direct.ParallelToolCalls != nil) {
		return &direct, nil
	}

	var legacy legacyShape
	if err := json.Unmarshal(raw, &legacy); err == nil && legacy.ToolParams != "" {
		var inner types.ToolCallConfigDatabaseInsert
		if err := json.Unmarshal([]byte(legacy.ToolParams), &inner); err != nil {
			return nil, tzerr.New(tzerr.KindOutputParsing, "unmarshal legacy tool_params string", err, nil)
		}
		return &inner, nil
	}

	// Empty/zero-value decomposed shape is also valid (no tools configured).
	return &direct, nil
}

// Reconstruct rebuilds a full ToolCallConfig from a persisted
// ToolCallConfigDatabaseInsert plus the owning function's static tool list,
// restoring the static/dynamic distinction that storage drops (§4.F,
// §9 "reconstruct by consulting the function config"). Dynamic tools come
// back without a Parameters schema, and AllowedTools is not restored.
func Reconstruct(persisted *types.ToolCallConfigDatabaseInsert, staticTools []*types.Tool) *types.ToolCallConfig {
	if persisted == nil {
		return &types.ToolCallConfig{Tools: staticTools}
	}
	staticByName := make(map[string]*types.Tool, len(staticTools))
	for _, t := range staticTools {
		staticByName[t.Name] = t
	}
	tools := make([]*types.Tool, 0, len(persisted.Tools))
	for _, pt := range persisted.Tools {
		if st, ok := staticByName[pt.Name]; ok {
			tools = append(tools, st)
			continue
		}
		tools = append(tools, &types.Tool{
			Name:        pt.Name,
			Description: pt.Description,
			Strict:      pt.Strict,
			Dynamic:     true,
		})
	}
	return &types.ToolCallConfig{
		Tools:             tools,
		ToolChoice:        persisted.ToolChoice,
		ParallelToolCalls: persisted.ParallelToolCalls,
	}
}
