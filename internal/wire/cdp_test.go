package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_IsResponseWhenIDPresent(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"result":{}}`), &env))
	assert.True(t, env.IsResponse())
}

func TestEnvelope_IsNotResponseForEvent(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"method":"Debugger.paused","params":{}}`), &env))
	assert.False(t, env.IsResponse())
}

func TestEnvelope_ErrorUnmarshals(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"id":2,"error":{"code":-32000,"message":"boom"}}`), &env))
	require.NotNil(t, env.Error)
	assert.Equal(t, -32000, env.Error.Code)
	assert.Equal(t, "boom", env.Error.Message)
}
