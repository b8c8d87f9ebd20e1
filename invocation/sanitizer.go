// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package invocation

import (
	"encoding/json"
	"strings"
)

// sensitiveKeys are redacted from request/response snapshots before any
// lineage or invocation row is written.
var sensitiveKeys = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"authorization", "auth", "credential", "credentials", "private_key",
	"access_token", "refresh_token", "session", "cookie", "ssn",
	"credit_card", "card_number",
}

const redactedPlaceholder = "[REDACTED]"

// Sanitize redacts sensitive fields from a JSON payload. Non-JSON input
// is replaced wholesale rather than risk leaking through it. The payload
// is also truncated to maxSnapshotBytes.
func Sanitize(payload []byte) json.RawMessage {
	if len(payload) == 0 {
		return nil
	}

	var value interface{}
	if err := json.Unmarshal(payload, &value); err != nil {
		return json.RawMessage(`"[UNPARSEABLE]"`)
	}

	cleaned := sanitizeValue(value)
	out, err := json.Marshal(cleaned)
	if err != nil {
		return json.RawMessage(`"[UNPARSEABLE]"`)
	}
	return truncateSnapshot(out)
}

const maxSnapshotBytes = 64 * 1024

func truncateSnapshot(b []byte) json.RawMessage {
	if len(b) <= maxSnapshotBytes {
		return b
	}
	// A truncated JSON document is no longer valid; wrap the fact instead.
	return json.RawMessage(`"[TRUNCATED]"`)
}

func sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, inner := range val {
			if isSensitiveKey(k) {
				val[k] = redactedPlaceholder
				continue
			}
			val[k] = sanitizeValue(inner)
		}
		return val
	case []interface{}:
		for i, inner := range val {
			val[i] = sanitizeValue(inner)
		}
		return val
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
