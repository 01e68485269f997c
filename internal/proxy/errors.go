package proxy

import (
	"encoding/json"
	"regexp"
)

// errorEnvelope is the JSON shape the router returns for an upstream
// non-2xx response — spec.md §4.7.
type errorEnvelope struct {
	Error           string   `json:"error"`
	Status          int      `json:"status"`
	Entity          string   `json:"entity"`
	Suggestion      string   `json:"suggestion,omitempty"`
	AvailableFields []string `json:"availableFields,omitempty"`
	InvalidField    string   `json:"invalidField,omitempty"`
}

// upstreamErrorBody is the shape of a structured OData error body:
// {"error": {"message": "..."}}. Heterogeneous upstream bodies are
// projected onto this tagged-variant idea by trying to decode it and
// falling back to the raw bytes — spec.md §9 "Polymorphic error envelopes".
type upstreamErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// missingPropertyPattern matches the upstream's "unknown field" message
// shape so the router can surface the offending field name and a
// catalog-aware suggestion.
var missingPropertyPattern = regexp.MustCompile(`property named '([^']+)'`)

// buildErrorEnvelope turns an upstream non-2xx status and body into the
// Error Envelope of spec.md §4.7.
func buildErrorEnvelope(status int, body []byte, entity string, fields []string) errorEnvelope {
	env := errorEnvelope{
		Error:  extractMessage(body),
		Status: status,
		Entity: entity,
	}

	if m := missingPropertyPattern.FindSubmatch(body); m != nil {
		field := string(m[1])
		env.InvalidField = field
		env.Suggestion = "The field '" + field + "' does not exist on " + entity + "."
		env.AvailableFields = fields
	}

	return env
}

// extractMessage decodes body as {"error":{"message":...}} and returns the
// message; if body isn't that shape, the raw body text is returned.
func extractMessage(body []byte) string {
	var structured upstreamErrorBody
	if err := json.Unmarshal(body, &structured); err == nil && structured.Error.Message != "" {
		return structured.Error.Message
	}
	return string(body)
}
