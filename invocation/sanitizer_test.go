// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package invocation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeRedactsSensitiveKeys(t *testing.T) {
	in := []byte(`{
		"message": "run the report",
		"api_key": "sk_live_abc123",
		"nested": {"Password": "hunter2", "count": 3},
		"items": [{"access_token": "tok"}, {"ok": true}]
	}`)

	out := Sanitize(in)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "run the report", got["message"])
	assert.Equal(t, "[REDACTED]", got["api_key"])
	assert.Equal(t, "[REDACTED]", got["nested"].(map[string]interface{})["Password"])
	assert.Equal(t, float64(3), got["nested"].(map[string]interface{})["count"])
	assert.Equal(t, "[REDACTED]", got["items"].([]interface{})[0].(map[string]interface{})["access_token"])
}

func TestSanitizeNonJSONIsReplaced(t *testing.T) {
	out := Sanitize([]byte("plain text, not json"))
	assert.Equal(t, `"[UNPARSEABLE]"`, string(out))
}

func TestSanitizeEmptyPayload(t *testing.T) {
	assert.Nil(t, Sanitize(nil))
	assert.Nil(t, Sanitize([]byte{}))
}

func TestSanitizeMatchesKeySubstrings(t *testing.T) {
	out := Sanitize([]byte(`{"user_password_hint": "blue", "name": "x"}`))
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "[REDACTED]", got["user_password_hint"])
	assert.Equal(t, "x", got["name"])
}
