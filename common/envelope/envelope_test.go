package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextRoundTrip(t *testing.T) {
	env := Text("hello", "node1", "exec1")
	assert.Equal(t, ContentText, env.ContentType)

	s, err := env.AsText()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestJSONRoundTrip(t *testing.T) {
	env, err := JSON(map[string]interface{}{"x": float64(1)}, "node1", "exec1")
	require.NoError(t, err)

	v, err := env.AsJSON()
	require.NoError(t, err)
	m, ok := v.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), m["x"])
}

func TestMismatchedAccessFails(t *testing.T) {
	env := Text("hello", "node1", "exec1")

	_, err := env.AsJSON()
	require.Error(t, err)
	var cte *ContentTypeError
	require.ErrorAs(t, err, &cte)
	assert.Equal(t, ContentText, cte.Got)

	_, err = env.AsError()
	require.Error(t, err)
}

func TestErrorEnvelope(t *testing.T) {
	env := Error("boom", "NodeExecutionError", "node1", "exec1")
	assert.True(t, env.IsError())

	body, err := env.AsError()
	require.NoError(t, err)
	assert.Equal(t, "boom", body.Message)
	assert.Equal(t, "NodeExecutionError", body.ErrorType)
}

func TestOutputLabelDefaultsAndMeta(t *testing.T) {
	env := Text("x", "node1", "exec1")
	assert.Equal(t, "default", env.OutputLabel())

	labeled := env.WithMeta(MetaOutputLabel, "condtrue")
	assert.Equal(t, "condtrue", labeled.OutputLabel())

	// original untouched
	assert.Equal(t, "default", env.OutputLabel())
	assert.Nil(t, env.Meta)
}

func TestValueDispatch(t *testing.T) {
	env, err := JSON([]interface{}{"a", "b"}, "n", "e")
	require.NoError(t, err)
	v, err := env.Value()
	require.NoError(t, err)
	assert.Len(t, v, 2)

	bin := Binary([]byte{1, 2, 3}, "n", "e")
	v, err = bin.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, v)
}

func TestConversationEnvelope(t *testing.T) {
	msgs := []map[string]interface{}{
		{"role": "user", "content": "hi"},
		{"role": "assistant", "content": "hello"},
	}
	env, err := Conversation(msgs, "person1", "exec1")
	require.NoError(t, err)
	assert.Equal(t, ContentConversation, env.ContentType)

	v, err := env.AsJSON()
	require.NoError(t, err)
	arr, ok := v.([]interface{})
	require.True(t, ok)
	assert.Len(t, arr, 2)
}
