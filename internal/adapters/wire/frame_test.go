package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFrameCode(t *testing.T) {
	f := ErrorFrame("u1", CodeUnreachable)
	b, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","to":"u1","data":{"error":"unreachable"}}`, string(b))

	var back Frame
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, CodeUnreachable, ErrorCode(back))
	assert.Empty(t, ErrorCode(Frame{Type: "mic_changed", Data: json.RawMessage(`{"error":"x"}`)}))
}

func TestIsControl(t *testing.T) {
	for _, typ := range []string{TypePing, TypePong, TypeError, TypeWelcome} {
		assert.True(t, IsControl(typ), typ)
	}
	assert.False(t, IsControl("interaction_invitation"))
}
