package types

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes a Message while preserving the concrete Part type of
// each content block via an explicit "kind" discriminator, mirroring the
// provider-neutral wire shape used by the observability writer.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias struct {
		Role  Role  `json:"role"`
		Parts []any `json:"parts"`
	}
	if len(m.Parts) == 0 {
		return json.Marshal(alias{Role: m.Role})
	}
	parts := make([]any, 0, len(m.Parts))
	for i, p := range m.Parts {
		enc, err := encodePart(p)
		if err != nil {
			return nil, fmt.Errorf("encode parts[%d]: %w", i, err)
		}
		parts = append(parts, enc)
	}
	return json.Marshal(alias{Role: m.Role, Parts: parts})
}

// UnmarshalJSON decodes a Message, materializing the concrete Part
// implementation named by each block's "kind" discriminator.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role  Role              `json:"role"`
		Parts []json.RawMessage `json:"parts"`
	}
	var tmp alias
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	m.Role = tmp.Role
	if len(tmp.Parts) == 0 {
		m.Parts = nil
		return nil
	}
	m.Parts = make([]Part, 0, len(tmp.Parts))
	for i, raw := range tmp.Parts {
		part, err := decodePart(raw)
		if err != nil {
			return fmt.Errorf("decode parts[%d]: %w", i, err)
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

func encodePart(p Part) (any, error) {
	switch v := p.(type) {
	case TextPart:
		return struct {
			Kind string `json:"kind"`
			TextPart
		}{"text", v}, nil
	case TemplatePart:
		return struct {
			Kind string `json:"kind"`
			TemplatePart
		}{"template", v}, nil
	case ToolCallPart:
		return struct {
			Kind string `json:"kind"`
			ToolCallPart
		}{"tool_call", v}, nil
	case ToolResultPart:
		return struct {
			Kind string `json:"kind"`
			ToolResultPart
		}{"tool_result", v}, nil
	case FilePart:
		return struct {
			Kind string `json:"kind"`
			FilePart
		}{"file", v}, nil
	case ThoughtPart:
		return struct {
			Kind string `json:"kind"`
			ThoughtPart
		}{"thought", v}, nil
	case UnknownPart:
		return struct {
			Kind string `json:"kind"`
			UnknownPart
		}{"unknown", v}, nil
	default:
		return nil, fmt.Errorf("types: unknown part type %T", p)
	}
}

func decodePart(raw json.RawMessage) (Part, error) {
	var disc struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &disc); err != nil {
		return nil, fmt.Errorf("decode kind: %w", err)
	}
	switch disc.Kind {
	case "text":
		var p TextPart
		return p, json.Unmarshal(raw, &p)
	case "template":
		var p TemplatePart
		return p, json.Unmarshal(raw, &p)
	case "tool_call":
		var p ToolCallPart
		return p, json.Unmarshal(raw, &p)
	case "tool_result":
		var p ToolResultPart
		return p, json.Unmarshal(raw, &p)
	case "file":
		var p FilePart
		return p, json.Unmarshal(raw, &p)
	case "thought":
		var p ThoughtPart
		return p, json.Unmarshal(raw, &p)
	case "unknown", "":
		var p UnknownPart
		if err := json.Unmarshal(raw, &p.Raw); err != nil {
			return nil, err
		}
		return p, nil
	default:
		var p UnknownPart
		if err := json.Unmarshal(raw, &p.Raw); err != nil {
			return nil, err
		}
		return p, nil
	}
}
