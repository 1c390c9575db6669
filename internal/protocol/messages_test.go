package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_PositionUpdate(t *testing.T) {
	raw := []byte(`{"type":"position_update","position":{"x":1,"y":2,"z":3},"rotation":{"x":0,"y":90,"z":0},"animation":"run"}`)
	env, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, TypePositionUpdate, env.Type)
	assert.Equal(t, "run", env.Animation)

	pos, err := DecodeVector(env.Position)
	require.NoError(t, err)
	assert.Equal(t, Vector3{X: 1, Y: 2, Z: 3}, pos)

	rot, err := DecodeVector(env.Rotation)
	require.NoError(t, err)
	assert.Equal(t, Vector3{X: 0, Y: 90, Z: 0}, rot)
}

func TestDecode_Ping(t *testing.T) {
	env, err := Decode([]byte(`{"type":"ping","timestamp":1234}`))
	require.NoError(t, err)
	assert.Equal(t, TypePing, env.Type)
	assert.Equal(t, int64(1234), env.Timestamp)
}

func TestDecode_MissingType(t *testing.T) {
	_, err := Decode([]byte(`{"timestamp":1}`))
	assert.Error(t, err)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode([]byte(`not json at all`))
	assert.Error(t, err)
}

func TestDecodeVector_RejectsNonObjects(t *testing.T) {
	cases := map[string]string{
		"number": `42`,
		"string": `"up"`,
		"array":  `[1,2,3]`,
		"null":   `null`,
		"bool":   `true`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeVector(json.RawMessage(payload))
			assert.Error(t, err)
		})
	}
}

func TestDecodeVector_Missing(t *testing.T) {
	_, err := DecodeVector(nil)
	assert.Error(t, err)
}

func TestDecodeVector_PartialObject(t *testing.T) {
	// Missing components default to zero; only the record shape is enforced.
	v, err := DecodeVector(json.RawMessage(`{"x":5}`))
	require.NoError(t, err)
	assert.Equal(t, Vector3{X: 5}, v)
}

func TestServerMessages_WireShape(t *testing.T) {
	msg := Pong{Type: TypePong, Timestamp: 1234, ServerTime: 5678}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong","timestamp":1234,"serverTime":5678}`, string(data))
}
