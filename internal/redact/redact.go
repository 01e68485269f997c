// Package redact implements the Response Redactor: a pure function over
// an OData JSON envelope that drops rows whose transitive value graph
// contains tenant-forbidden content.
package redact

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
)

// Policy is the subset of forbidden.Policy the redactor depends on.
type Policy interface {
	Contains(s string) bool
	Empty() bool
}

// Redact inspects body as an OData collection envelope ({"value": [...]}).
// Rows whose transitive value graph (excluding "@odata.*" keys) contains a
// forbidden string are dropped. If parsing fails, body isn't a recognised
// envelope, or no row matches, body is returned byte-identical.
func Redact(body []byte, policy Policy) []byte {
	if policy == nil || policy.Empty() {
		return body
	}

	// UseNumber keeps @odata.count and any large entity IDs as json.Number
	// (their original literal text) instead of decoding through float64,
	// which loses precision above 2^53 and can reformat the digits.
	var envelope map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&envelope); err != nil {
		return body
	}

	rawValue, ok := envelope["value"]
	if !ok {
		return body
	}
	rows, ok := rawValue.([]any)
	if !ok {
		return body
	}

	visited := map[uintptr]bool{}
	survivors := make([]any, 0, len(rows))
	for _, row := range rows {
		if containsForbidden(row, policy, visited) {
			continue
		}
		survivors = append(survivors, row)
	}

	if len(survivors) == len(rows) {
		return body
	}

	envelope["value"] = survivors
	out, err := json.Marshal(envelope)
	if err != nil {
		// Should not happen: envelope round-tripped through Unmarshal.
		return body
	}
	return out
}

// containsForbidden walks v's transitive value graph looking for a string
// whose trimmed, lowercased form matches the policy. An identity-visited
// set guards against cycles in adversarial payloads, even though a tree
// decoded from JSON cannot actually contain one.
func containsForbidden(v any, policy Policy, visited map[uintptr]bool) bool {
	switch val := v.(type) {
	case string:
		return policy.Contains(strings.ToLower(strings.TrimSpace(val)))
	case map[string]any:
		ptr := reflect.ValueOf(val).Pointer()
		if visited[ptr] {
			return false
		}
		visited[ptr] = true
		for k, child := range val {
			if strings.HasPrefix(k, "@odata.") {
				continue
			}
			if containsForbidden(child, policy, visited) {
				return true
			}
		}
		return false
	case []any:
		ptr := reflect.ValueOf(val).Pointer()
		if visited[ptr] {
			return false
		}
		visited[ptr] = true
		for _, child := range val {
			if containsForbidden(child, policy, visited) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
