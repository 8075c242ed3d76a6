package apitypes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tzgateway/gateway/types"
)

func TestToInputRoundTrip(t *testing.T) {
	in := InputDTO{
		System: json.RawMessage(`"system content"`),
		Messages: []MessageDTO{
			{Role: "user", Content: []PartDTO{{Type: "text", Text: "What is the capital of Japan?"}}},
		},
	}
	out, err := ToInput(in)
	require.NoError(t, err)
	require.Equal(t, "system content", out.System)
	require.Len(t, out.Messages, 1)
	require.Equal(t, types.RoleUser, out.Messages[0].Role)
	require.Equal(t, types.TextPart{Text: "What is the capital of Japan?"}, out.Messages[0].Parts[0])
}

func TestToInputUnknownRole(t *testing.T) {
	_, err := ToInput(InputDTO{Messages: []MessageDTO{{Role: "system", Content: nil}}})
	require.Error(t, err)
}

func TestFromPartsRoundTrip(t *testing.T) {
	parts := []types.Part{
		types.TextPart{Text: "hi"},
		types.ToolCallPart{ID: "call_1", Name: "get_weather", RawArgs: []byte(`{"city":"Tokyo"}`)},
	}
	dtos := FromParts(parts)
	require.Len(t, dtos, 2)
	require.Equal(t, "text", dtos[0].Type)
	require.Equal(t, "tool_call", dtos[1].Type)
	require.Equal(t, "get_weather", dtos[1].ToolName)
}

func TestToToolChoiceSpecificRequiresName(t *testing.T) {
	_, err := ToToolChoice(&ToolChoiceDTO{Mode: "specific"})
	require.Error(t, err)

	tc, err := ToToolChoice(&ToolChoiceDTO{Mode: "specific", Name: "get_weather"})
	require.NoError(t, err)
	require.Equal(t, types.ToolChoiceSpecific, tc.Mode)
	require.Equal(t, "get_weather", tc.Name)
}

func TestParseEpisodeIDEmptyIsZero(t *testing.T) {
	id, err := ParseEpisodeID("")
	require.NoError(t, err)
	require.True(t, id == [16]byte{})
}

func TestParseEpisodeIDInvalid(t *testing.T) {
	_, err := ParseEpisodeID("not-a-uuid")
	require.Error(t, err)
}

func TestFromInferenceRecordJSON(t *testing.T) {
	rec := types.InferenceRecord{
		VariantName: "json_variant",
		OutputJSON:  &types.JSONOutput{Raw: `{"answer":"Tokyo"}`, Parsed: json.RawMessage(`{"answer":"Tokyo"}`)},
		Usage:       types.Usage{InputTokens: 10, OutputTokens: 5},
	}
	resp := FromInferenceRecordJSON(rec)
	require.NotNil(t, resp.Output)
	require.Equal(t, `{"answer":"Tokyo"}`, resp.Output.Raw)
	require.Equal(t, 10, resp.Usage.InputTokens)
}
