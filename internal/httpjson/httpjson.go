// Package httpjson centralizes the small set of response helpers the
// router uses on every request: CORS headers, JSON envelopes, and a
// status-capturing ResponseWriter for logging. Generalized from the
// teacher's narrower writeError/writeOCIError pair (internal/proxy/proxy.go)
// — that proxy only needed JSON on its error path; this one needs it on
// every path, plus the status visibility its logging middleware wants.
package httpjson

import (
	"encoding/json"
	"net/http"
)

// CORS headers applied to every response this proxy sends — spec.md §4.1
// step 1.
const (
	allowOrigin  = "*"
	allowMethods = "GET, OPTIONS"
	allowHeaders = "Authorization, Content-Type"
	maxAge       = "86400"
)

// SetCORSHeaders applies the standard CORS headers to w.
func SetCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", allowOrigin)
	h.Set("Access-Control-Allow-Methods", allowMethods)
	h.Set("Access-Control-Allow-Headers", allowHeaders)
	h.Set("Access-Control-Max-Age", maxAge)
}

// Preflight replies to an OPTIONS request with 204 and no body.
func Preflight(w http.ResponseWriter) {
	SetCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// WriteJSON writes v as a JSON body with the given status and CORS
// headers set.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	SetCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": msg} with the given status and CORS headers.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// StatusRecorder wraps an http.ResponseWriter to capture the status code a
// handler wrote, for callers that need to log it after the fact.
type StatusRecorder struct {
	http.ResponseWriter
	Status int
}

// NewStatusRecorder wraps w, defaulting Status to 200 (the code net/http
// assumes if WriteHeader is never called explicitly).
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
}

// WriteHeader implements http.ResponseWriter.
func (r *StatusRecorder) WriteHeader(code int) {
	r.Status = code
	r.ResponseWriter.WriteHeader(code)
}
