package events

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithCursor_StampsRowID(t *testing.T) {
	payload, err := json.Marshal(MessageCreatedPayload{
		Type:      EventTypeMessageCreated,
		MessageID: "m-1",
		SessionID: "s-1",
		Content:   "hi",
	})
	require.NoError(t, err)

	out, err := withCursor(payload, 42)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, float64(42), m["cursor"])
	assert.Equal(t, EventTypeMessageCreated, m["type"])
	assert.Equal(t, "hi", m["content"])
}

func TestWithCursor_RejectsNonObjectPayload(t *testing.T) {
	_, err := withCursor([]byte(`"just a string"`), 1)
	assert.Error(t, err)
}

func TestCapNotifyPayload_SmallPayloadUntouched(t *testing.T) {
	in := `{"type":"stream.chunk","session_id":"s-1","delta":"hi"}`
	out, err := capNotifyPayload(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCapNotifyPayload_OversizedPayloadBecomesEnvelope(t *testing.T) {
	big, err := json.Marshal(MessageCompletedPayload{
		Type:      EventTypeMessageCompleted,
		MessageID: "m-9",
		SessionID: "s-9",
		Content:   strings.Repeat("x", notifyByteLimit+100),
	})
	require.NoError(t, err)

	out, err := capNotifyPayload(string(big))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), notifyByteLimit)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, EventTypeMessageCompleted, m["type"])
	assert.Equal(t, "m-9", m["message_id"])
	assert.Equal(t, "s-9", m["session_id"])
	assert.Equal(t, true, m["truncated"])
	assert.NotContains(t, m, "content")
}

func TestCapNotifyPayload_OversizedKeepsCursorIfPresent(t *testing.T) {
	m := map[string]any{
		"type":       EventTypeMessageCompleted,
		"message_id": "m-1",
		"session_id": "s-1",
		"content":    strings.Repeat("y", notifyByteLimit+1),
		"cursor":     int64(17),
	}
	raw, err := json.Marshal(m)
	require.NoError(t, err)

	out, err := capNotifyPayload(string(raw))
	require.NoError(t, err)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &envelope))
	assert.Equal(t, float64(17), envelope["cursor"])
	assert.Equal(t, true, envelope["truncated"])
}

// The payload structs are the wire contract with dashboard clients:
// renaming a JSON key is a breaking change, so the key names are
// pinned here.
func TestPayloadWireContract(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		keys    []string
	}{
		{
			name: "message.created",
			payload: MessageCreatedPayload{
				Type: EventTypeMessageCreated, MessageID: "m", SessionID: "s",
				Role: "user", Status: "completed", Content: "c", Sequence: 1, Timestamp: "t",
			},
			keys: []string{"type", "message_id", "session_id", "role", "status", "content", "sequence", "timestamp"},
		},
		{
			name: "stream.chunk",
			payload: StreamChunkPayload{
				Type: EventTypeStreamChunk, SessionID: "s", Delta: "d", Timestamp: "t",
			},
			keys: []string{"type", "session_id", "delta", "timestamp"},
		},
		{
			name: "session.status",
			payload: SessionStatusPayload{
				Type: EventTypeSessionStatus, SessionID: "s", Status: SessionStatusArchived, Timestamp: "t",
			},
			keys: []string{"type", "session_id", "status", "timestamp"},
		},
		{
			name: "roundtable.turn",
			payload: RoundtableTurnPayload{
				Type: EventTypeRoundtableTurn, SessionID: "s", Participant: "p",
				Round: 1, Content: "c", Timestamp: "t",
			},
			keys: []string{"type", "session_id", "participant", "round", "content", "timestamp"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.payload)
			require.NoError(t, err)

			var m map[string]any
			require.NoError(t, json.Unmarshal(raw, &m))
			for _, key := range tt.keys {
				assert.Contains(t, m, key)
			}
		})
	}
}
