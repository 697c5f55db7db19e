// ABOUTME: Tests for message JSON encoding and helpers.
// ABOUTME: Checks the part discriminator and rejection of unknown part types.

package transcript

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_JSON(t *testing.T) {
	msg := Message{
		ID:   "m1",
		Role: RoleAssistant,
		Parts: []Part{
			ReasoningPart{Text: "hmm"},
			ToolCallPart{ToolName: "getWeather", CallID: "c1", Input: json.RawMessage(`{"city":"Oslo"}`)},
			ToolResultPart{CallID: "c1", Error: &ErrorPayload{Code: CodeToolTimeout, Message: "slow"}},
			TextPart{Text: "cold"},
			FilePart{MediaType: "image/png", URL: "data:image/png;base64,AA==", Filename: "a.png"},
			SourceURLPart{URL: "https://met.no", Title: "MET"},
		},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"tool-call"`)
	assert.Contains(t, string(data), `"toolCallId":"c1"`)

	var got Message
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, got.Sealed)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, msg.Role, got.Role)
	require.Len(t, got.Parts, len(msg.Parts))
	assert.Equal(t, msg.Parts[0], got.Parts[0])
	assert.Equal(t, msg.Parts[2], got.Parts[2])
	assert.Equal(t, msg.Parts[4], got.Parts[4])
	assert.JSONEq(t, `{"city":"Oslo"}`, string(got.Parts[1].(ToolCallPart).Input))
}

func TestMessage_UnmarshalUnknownPart(t *testing.T) {
	var m Message
	err := json.Unmarshal([]byte(`{"id":"m","role":"user","parts":[{"type":"hologram"}]}`), &m)
	assert.ErrorIs(t, err, ErrUnknownPart)
}

func TestMessage_Helpers(t *testing.T) {
	m := Message{Parts: []Part{
		TextPart{Text: "a"},
		ToolCallPart{ToolName: "x", CallID: "1"},
		TextPart{Text: "b"},
		ToolCallPart{ToolName: "y", CallID: "2"},
	}}
	assert.Equal(t, "ab", m.Text())
	calls := m.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "y", calls[1].ToolName)
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleSystem.Valid())
	assert.False(t, Role("tool").Valid())
}
