package validate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tcases := []struct {
		name    string
		payload string
		kind    Kind
	}{
		{
			name:    "user message",
			payload: `{"id":1,"username":"alice","content":"hi","timestamp":"2024-01-01T10:00:00"}`,
			kind:    UserMessage,
		},
		{
			name:    "user message with reply fields",
			payload: `{"id":2,"username":"alice","content":"yes","parent_id":1,"parent_username":"bob","parent_content":"q?"}`,
			kind:    UserMessage,
		},
		{
			name:    "system message",
			payload: `{"message":"alice joined the chat"}`,
			kind:    SystemMessage,
		},
		{
			name:    "message with username is not a system message",
			payload: `{"username":"alice","message":"alice joined the room"}`,
			kind:    Malformed,
		},
		{
			name:    "missing content",
			payload: `{"id":1,"username":"alice"}`,
			kind:    Malformed,
		},
		{
			name:    "non string content",
			payload: `{"id":1,"username":"alice","content":42}`,
			kind:    Malformed,
		},
		{
			name:    "non string username",
			payload: `{"id":1,"username":null,"content":"x"}`,
			kind:    Malformed,
		},
		{
			name:    "bad id type",
			payload: `{"id":"one","username":"alice","content":"x"}`,
			kind:    Malformed,
		},
		{
			name:    "array",
			payload: `["username","content"]`,
			kind:    Malformed,
		},
		{
			name:    "null",
			payload: `null`,
			kind:    Malformed,
		},
		{
			name:    "string",
			payload: `"hello"`,
			kind:    Malformed,
		},
		{
			name:    "empty object",
			payload: `{}`,
			kind:    Malformed,
		},
		{
			name:    "not json",
			payload: `{username:`,
			kind:    Malformed,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			res := Classify(json.RawMessage(tc.payload))
			assert.Equal(t, tc.kind, res.Kind, "unexpected classification for %s", tc.payload)

			switch tc.kind {
			case UserMessage:
				assert.NotNil(t, res.Message, "expected decoded message")
				assert.Nil(t, res.System)
			case SystemMessage:
				assert.NotNil(t, res.System, "expected decoded system message")
				assert.Nil(t, res.Message)
			case Malformed:
				assert.Error(t, res.Err, "expected a reason for malformed payload")
				assert.Nil(t, res.Message)
				assert.Nil(t, res.System)
			}
		})
	}
}

func TestClassify_DecodesFields(t *testing.T) {
	res := Classify(json.RawMessage(`{"id":7,"username":"bob","content":"x","parent_id":3,"is_direct_message":true,"attachments":[{"id":1,"original_filename":"a.txt"}]}`))
	require.Equal(t, UserMessage, res.Kind)

	msg := res.Message
	assert.Equal(t, 7, msg.Id)
	assert.Equal(t, "bob", msg.Username)
	require.NotNil(t, msg.ParentId)
	assert.Equal(t, 3, *msg.ParentId)
	direct, set := msg.DirectFlag()
	assert.True(t, set)
	assert.True(t, direct)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "a.txt", msg.Attachments[0].OriginalFilename)
}

func TestClassifyBatch(t *testing.T) {
	t.Run("mixed batch", func(t *testing.T) {
		results, err := ClassifyBatch(json.RawMessage(`[{"username":"a","content":"1"},{"message":"sys"},{"bogus":true}]`))
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, UserMessage, results[0].Kind)
		assert.Equal(t, SystemMessage, results[1].Kind)
		assert.Equal(t, Malformed, results[2].Kind)
	})

	t.Run("not an array", func(t *testing.T) {
		_, err := ClassifyBatch(json.RawMessage(`{"username":"a","content":"1"}`))
		assert.Error(t, err)
	})
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "user_message", UserMessage.String())
	assert.Equal(t, "system_message", SystemMessage.String())
	assert.Equal(t, "malformed", Malformed.String())
}
