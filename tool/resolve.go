// Package tool implements the tool protocol layer (§4.F): resolving a
// single request's ToolCallConfig from the function's static tool list plus
// request-time allowed_tools/additional_tools/tool_choice overrides, and the
// dual-shape database persistence format for the resolved config.
package tool

import (
	"fmt"

	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
)

// Request carries the request-time tool overrides a caller may supply
// alongside a function's static configuration (§6 inference request body).
type Request struct {
	AllowedTools      []string
	AdditionalTools   []*types.Tool // dynamic tools; schemas already compiled by the caller
	ToolChoice        *types.ToolChoice
	ParallelToolCalls *bool
}

// FunctionDefaults is the subset of a Function's static tool configuration
// Resolve needs.
type FunctionDefaults struct {
	Tools             []*types.Tool
	ToolChoice        *types.ToolChoice
	ParallelToolCalls *bool
}

// Resolve merges a function's static tools with a request's dynamic
// overrides into the fully resolved ToolCallConfig for one inference (§4.F
// resolution order).
func Resolve(fn FunctionDefaults, req Request) (*types.ToolCallConfig, error) {
	merged := make([]*types.Tool, 0, len(fn.Tools)+len(req.AdditionalTools))
	seen := make(map[string]struct{}, len(fn.Tools)+len(req.AdditionalTools))
	for _, t := range fn.Tools {
		if _, dup := seen[t.Name]; dup {
			return nil, tzerr.New(tzerr.KindInvalidRequest, fmt.Sprintf("duplicate tool name %q", t.Name), nil, nil)
		}
		seen[t.Name] = struct{}{}
		merged = append(merged, t)
	}
	for _, t := range req.AdditionalTools {
		if _, dup := seen[t.Name]; dup {
			return nil, tzerr.New(tzerr.KindInvalidRequest, fmt.Sprintf("duplicate tool name %q", t.Name), nil, nil)
		}
		seen[t.Name] = struct{}{}
		merged = append(merged, t)
	}

	var allowed []string
	if req.AllowedTools != nil {
		for _, name := range req.AllowedTools {
			if _, ok := seen[name]; !ok {
				return nil, tzerr.New(tzerr.KindToolNotFound, fmt.Sprintf("allowed_tools references unknown tool %q", name), nil, map[string]any{"tool": name})
			}
		}
		allowed = req.AllowedTools
	}

	choice := fn.ToolChoice
	if req.ToolChoice != nil {
		choice = req.ToolChoice
	}
	if choice != nil && choice.Mode == types.ToolChoiceSpecific {
		if _, ok := seen[choice.Name]; !ok {
			return nil, tzerr.New(tzerr.KindToolNotFound, fmt.Sprintf("tool_choice references unknown tool %q", choice.Name), nil, map[string]any{"tool": choice.Name})
		}
	}

	parallel := fn.ParallelToolCalls
	if req.ParallelToolCalls != nil {
		parallel = req.ParallelToolCalls
	}

	return &types.ToolCallConfig{
		Tools:             merged,
		ToolChoice:        choice,
		AllowedTools:      allowed,
		ParallelToolCalls: parallel,
	}, nil
}

// Active returns the subset of cfg.Tools a provider adapter should send on
// the wire, applying the AllowedTools restriction when present.
func Active(cfg *types.ToolCallConfig) []*types.Tool {
	if cfg == nil || len(cfg.AllowedTools) == 0 {
		if cfg == nil {
			return nil
		}
		return cfg.Tools
	}
	allow := make(map[string]struct{}, len(cfg.AllowedTools))
	for _, n := range cfg.AllowedTools {
		allow[n] = struct{}{}
	}
	out := make([]*types.Tool, 0, len(cfg.AllowedTools))
	for _, t := range cfg.Tools {
		if _, ok := allow[t.Name]; ok {
			out = append(out, t)
		}
	}
	return out
}

// AllowedToolsMode translates cfg's AllowedTools + ToolChoice into the
// provider-neutral "allowed_tools" wire shape some providers natively
// support (mode auto|required + a list of tool refs); providers lacking
// native allowed_tools support instead call Active above and send a plain
// tool_choice (§4.F translation helper).
func AllowedToolsMode(cfg *types.ToolCallConfig) (mode string, names []string, ok bool) {
	if cfg == nil || len(cfg.AllowedTools) == 0 {
		return "", nil, false
	}
	mode = "auto"
	if cfg.ToolChoice != nil && cfg.ToolChoice.Mode == types.ToolChoiceRequired {
		mode = "required"
	}
	return mode, cfg.AllowedTools, true
}
