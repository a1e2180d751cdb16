package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUserID(t *testing.T) {
	assert.ErrorIs(t, ValidateUserID(""), ErrUserIDEmpty)
	assert.ErrorIs(t, ValidateUserID(UserID(strings.Repeat("x", MaxUserIDLen+1))), ErrUserIDTooLong)
	assert.NoError(t, ValidateUserID("u1"))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("moderator")
	require.NoError(t, err)
	assert.Equal(t, RoleTeacher, r)

	r, err = ParseRole("student")
	require.NoError(t, err)
	assert.Equal(t, RoleStudent, r)

	_, err = ParseRole("assistant")
	assert.Error(t, err)
}

func TestBodyKeepsExplicitFalse(t *testing.T) {
	raw, err := json.Marshal(Body{SessionID: "1_toggle_mic", StudentID: "u1", TurnOn: Bool(false)})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"turnOn":false`)
	assert.NotContains(t, string(raw), "failed")

	var back Body
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.False(t, BoolValue(back.TurnOn, true))
	assert.True(t, BoolValue(back.InteractionAllowed, true))
}
