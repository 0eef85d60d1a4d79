package pkg

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeConstructorsKeepCompletedAndRetryExclusive(t *testing.T) {
	cases := map[string]Envelope{
		"complete":    Complete("ok"),
		"retry":       RetryWith("bad", nil),
		"retryHelper": RetryWithHelper("bad", nil),
		"fail":        Fail("nope", nil),
	}
	for name, env := range cases {
		assert.False(t, env.Completed && env.Retry, name)
	}

	assert.True(t, Complete("ok").Completed)
	assert.True(t, RetryWith("bad", "meta").Retry)
	assert.True(t, Fail("nope", nil).Failed())
	assert.False(t, Fail("nope", nil).Retry)
}

func TestEnvelopeJSONOmitsHelper(t *testing.T) {
	env := RetryWithHelper("Memory was requested", nil)
	env.Meta = map[string]string{"session_id": "abc"}

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"response":"Memory was requested","completed":false,"retry":true,"meta":{"session_id":"abc"}}`, string(data))
}

func TestEnvelopeText(t *testing.T) {
	assert.Equal(t, "", Envelope{}.Text())
	assert.Equal(t, "hi", Complete("hi").Text())
	assert.Equal(t, "[a b]", Complete([]string{"a", "b"}).Text())
	assert.Equal(t, "true", Complete(true).Text())
}

func TestIntentValidate(t *testing.T) {
	ok := Intent{Name: "clock", Agent: "clock", Description: "tell the time", Keywords: []string{"time"}}
	require.NoError(t, ok.Validate())

	err := Intent{Name: "clock"}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "agent, description, keywords")
}

func TestParseValueKind(t *testing.T) {
	for in, want := range map[string]ValueKind{"str": KindScalar, "STRING": KindScalar, "scalar": KindScalar, " list ": KindList} {
		got, err := ParseValueKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseValueKind("map")
	assert.True(t, errors.Is(err, ErrValidation), fmt.Sprint(err))
}
