package apitypes

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
)

// ToInput converts the wire InputDTO into the internal types.Input the
// dispatcher validates and the variant executor renders (§4.A, §4.D).
func ToInput(in InputDTO) (types.Input, error) {
	out := types.Input{Messages: make([]types.Message, 0, len(in.Messages))}
	if len(in.System) > 0 {
		var v any
		if err := json.Unmarshal(in.System, &v); err != nil {
			return types.Input{}, tzerr.New(tzerr.KindInvalidMessage, "malformed system value", err, nil)
		}
		out.System = v
	}
	for i, m := range in.Messages {
		msg, err := toMessage(m)
		if err != nil {
			return types.Input{}, tzerr.New(tzerr.KindInvalidMessage, fmt.Sprintf("malformed message at index %d", i), err, map[string]any{"index": i})
		}
		out.Messages = append(out.Messages, msg)
	}
	return out, nil
}

func toMessage(m MessageDTO) (types.Message, error) {
	var role types.Role
	switch m.Role {
	case "user":
		role = types.RoleUser
	case "assistant":
		role = types.RoleAssistant
	default:
		return types.Message{}, fmt.Errorf("unknown role %q", m.Role)
	}
	parts := make([]types.Part, 0, len(m.Content))
	for _, p := range m.Content {
		part, err := toPart(p)
		if err != nil {
			return types.Message{}, err
		}
		parts = append(parts, part)
	}
	return types.Message{Role: role, Parts: parts}, nil
}

func toPart(p PartDTO) (types.Part, error) {
	switch p.Type {
	case "text":
		return types.TextPart{Text: p.Text}, nil
	case "template":
		return types.TemplatePart{Name: p.TemplateName, Args: p.TemplateArgs}, nil
	case "tool_call":
		return types.ToolCallPart{ID: p.ToolCallID, Name: p.ToolName, RawArgs: p.ToolRawArgs}, nil
	case "tool_result":
		return types.ToolResultPart{ToolCallID: p.ToolResultID, Result: p.ToolResult, IsError: p.ToolIsError}, nil
	case "file":
		return types.FilePart{Bytes: p.FileBase64, MIME: p.FileMIME, Storage: p.FileStorage}, nil
	case "thought":
		return types.ThoughtPart{Text: p.ThoughtText, Signature: p.ThoughtSignature}, nil
	default:
		return types.UnknownPart{Raw: map[string]any{"type": p.Type}}, nil
	}
}

// FromParts converts internal content blocks back into their wire shape for
// an InferenceResponse/StreamChunk.
func FromParts(parts []types.Part) []PartDTO {
	out := make([]PartDTO, 0, len(parts))
	for _, p := range parts {
		out = append(out, fromPart(p))
	}
	return out
}

func fromPart(p types.Part) PartDTO {
	switch v := p.(type) {
	case types.TextPart:
		return PartDTO{Type: "text", Text: v.Text}
	case types.TemplatePart:
		return PartDTO{Type: "template", TemplateName: v.Name, TemplateArgs: v.Args}
	case types.ToolCallPart:
		return PartDTO{Type: "tool_call", ToolCallID: v.ID, ToolName: v.Name, ToolRawArgs: v.RawArgs}
	case types.ToolResultPart:
		return PartDTO{Type: "tool_result", ToolResultID: v.ToolCallID, ToolResult: v.Result, ToolIsError: v.IsError}
	case types.FilePart:
		return PartDTO{Type: "file", FileBase64: v.Bytes, FileMIME: v.MIME, FileStorage: v.Storage}
	case types.ThoughtPart:
		return PartDTO{Type: "thought", ThoughtText: v.Text, ThoughtSignature: v.Signature}
	default:
		return PartDTO{Type: "unknown"}
	}
}

// ToInferenceParams converts the wire params namespace into
// types.InferenceParams (§6's params.chat_completion).
func ToInferenceParams(p *ParamsDTO) types.InferenceParams {
	if p == nil || p.ChatCompletion == nil {
		return types.InferenceParams{}
	}
	c := p.ChatCompletion
	return types.InferenceParams{
		Temperature:      c.Temperature,
		MaxTokens:        c.MaxTokens,
		Seed:             c.Seed,
		TopP:             c.TopP,
		PresencePenalty:  c.PresencePenalty,
		FrequencyPenalty: c.FrequencyPenalty,
		StopSequences:    c.StopSequences,
		ReasoningEffort:  c.ReasoningEffort,
		ServiceTier:      c.ServiceTier,
		ThinkingBudget:   c.ThinkingBudgetTokens,
		Verbosity:        c.Verbosity,
	}
}

// ToToolChoice converts the wire tool_choice into types.ToolChoice.
func ToToolChoice(d *ToolChoiceDTO) (*types.ToolChoice, error) {
	if d == nil {
		return nil, nil
	}
	switch d.Mode {
	case "none":
		return &types.ToolChoice{Mode: types.ToolChoiceNone}, nil
	case "auto":
		return &types.ToolChoice{Mode: types.ToolChoiceAuto}, nil
	case "required":
		return &types.ToolChoice{Mode: types.ToolChoiceRequired}, nil
	case "specific":
		if d.Name == "" {
			return nil, tzerr.New(tzerr.KindInvalidRequest, "tool_choice mode \"specific\" requires a name", nil, nil)
		}
		return &types.ToolChoice{Mode: types.ToolChoiceSpecific, Name: d.Name}, nil
	default:
		return nil, tzerr.New(tzerr.KindInvalidRequest, fmt.Sprintf("unknown tool_choice mode %q", d.Mode), nil, map[string]any{"mode": d.Mode})
	}
}

// ParseEpisodeID parses raw. An empty raw means the caller did not supply
// one: it returns the zero UUID and a nil error, and no id is minted here.
func ParseEpisodeID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.UUID{}, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, tzerr.New(tzerr.KindInvalidTensorzeroUUID, "episode_id is not a valid UUID", err, map[string]any{"episode_id": raw})
	}
	return id, nil
}

// FromInferenceRecord builds the unary InferenceResponse for a completed
// chat-function inference (§6).
func FromInferenceRecord(rec types.InferenceRecord) InferenceResponse {
	return InferenceResponse{
		InferenceID: rec.ID,
		EpisodeID:   rec.EpisodeID,
		VariantName: rec.VariantName,
		Content:     FromParts(rec.OutputContent),
		Usage:       UsageDTO{InputTokens: rec.Usage.InputTokens, OutputTokens: rec.Usage.OutputTokens},
	}
}

// FromInferenceRecordJSON builds the unary InferenceResponse for a completed
// json-function inference, populating Output instead of Content (§6).
func FromInferenceRecordJSON(rec types.InferenceRecord) InferenceResponse {
	resp := InferenceResponse{
		InferenceID: rec.ID,
		EpisodeID:   rec.EpisodeID,
		VariantName: rec.VariantName,
		Usage:       UsageDTO{InputTokens: rec.Usage.InputTokens, OutputTokens: rec.Usage.OutputTokens},
	}
	if rec.OutputJSON != nil {
		resp.Output = &JSONOutputDTO{Raw: rec.OutputJSON.Raw, Parsed: rec.OutputJSON.Parsed}
	}
	return resp
}
