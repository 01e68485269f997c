package proxy

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/bloxs/odata-agent-proxy/internal/catalog"
	"github.com/bloxs/odata-agent-proxy/internal/httpjson"
	"github.com/bloxs/odata-agent-proxy/internal/learn"
	"github.com/bloxs/odata-agent-proxy/internal/query"
	"github.com/bloxs/odata-agent-proxy/internal/redact"
	"github.com/bloxs/odata-agent-proxy/internal/token"
)

const feedPrefix = "/odatafeed/"

// Handler is the Request Router of spec.md §4.1: the single HTTP entry
// point wiring every other component together.
type Handler struct {
	Catalog   *catalog.Catalog
	Forbidden redact.Policy
	Tokens    *token.Manager
	Upstream  *UpstreamClient
	Learner   *learn.Learner
	ShortKey  string
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Step 1: CORS preflight.
	if r.Method == http.MethodOptions {
		httpjson.Preflight(w)
		return
	}

	// Step 2: method gate.
	if r.Method != http.MethodGet {
		httpjson.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Step 3: credential check, before any upstream access.
	if !h.authorized(r) {
		if !hasBearer(r) {
			httpjson.WriteError(w, http.StatusUnauthorized, "Missing or invalid Authorization header")
			return
		}
		httpjson.WriteError(w, http.StatusUnauthorized, "Invalid API key")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, feedPrefix)

	// Step 4: special endpoints.
	switch path {
	case "$metadata-summary":
		httpjson.WriteJSON(w, http.StatusOK, buildMetadataSummary(h.Catalog))
		return
	case "$learn-summary":
		h.serveLearnSummary(w, r)
		return
	}

	h.serveEntity(w, r, path)
}

// authorized implements step 3's two checks.
func (h *Handler) authorized(r *http.Request) bool {
	key, ok := bearerKey(r)
	return ok && key == h.ShortKey
}

func hasBearer(r *http.Request) bool {
	_, ok := bearerKey(r)
	return ok
}

func bearerKey(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(auth, prefix)
	if key == "" {
		return "", false
	}
	return key, true
}

// serveEntity runs steps 5-12 of the router pipeline for a plain entity
// request.
func (h *Handler) serveEntity(w http.ResponseWriter, r *http.Request, path string) {
	// Step 5-6: alias normalisation and entity extraction.
	segment, rest, _ := strings.Cut(path, "/")
	entity := segment
	if canon, ok := h.Catalog.AliasFor(segment); ok && !strings.HasPrefix(segment, "$") {
		entity = canon
		path = canon
		if rest != "" {
			path = canon + "/" + rest
		}
	}

	// Step 7: acquire a valid JWT.
	jwt, err := h.Tokens.Acquire(r.Context())
	if err != nil {
		httpjson.WriteError(w, http.StatusInternalServerError, "Failed to get Bloxs token: "+err.Error())
		return
	}

	// Step 8: sanitise the query string.
	sanitised := query.Sanitize(h.Catalog, entity, r.URL.RawQuery)

	// Step 9: required-filter guardrail, no upstream call on violation.
	if h.Catalog.RequiresFilter(entity) && !strings.Contains(sanitised, "$filter") {
		httpjson.WriteError(w, http.StatusBadRequest,
			"A $filter is required on "+entity+"; results are capped at "+topCapMessage(h.Catalog.TopCapFor(entity))+".")
		return
	}

	// Step 10: forward to upstream.
	result, err := h.Upstream.Fetch(r, path, sanitised, jwt)
	if err != nil {
		httpjson.WriteError(w, http.StatusBadGateway, "Failed to fetch from Bloxs: "+err.Error())
		return
	}

	// Step 11: error mapping on non-2xx.
	if result.Status < 200 || result.Status >= 300 {
		env := buildErrorEnvelope(result.Status, result.Body, entity, h.Catalog.FieldsFor(entity))
		httpjson.WriteJSON(w, result.Status, env)
		return
	}

	// Step 12: redact, enqueue learning in the background, respond.
	redacted := redact.Redact(result.Body, h.Forbidden)
	h.Learner.Observe(entity, redacted)

	httpjson.SetCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(redacted); err != nil {
		slog.Debug("writing response body failed", "entity", entity, "error", err)
	}
}

func topCapMessage(cap int) string {
	return "a $top of " + strconv.Itoa(cap)
}

// serveLearnSummary implements the $learn-summary read path of spec.md §4.6.
func (h *Handler) serveLearnSummary(w http.ResponseWriter, r *http.Request) {
	if !h.Learner.Enabled() {
		httpjson.WriteError(w, http.StatusBadRequest, "Learning is disabled. Set ENABLE_LEARNING and a KV backend to enable it.")
		return
	}

	if entity := r.URL.Query().Get("entity"); entity != "" {
		rec, err := h.Learner.ReadEntity(r.Context(), entity)
		if err != nil {
			httpjson.WriteError(w, http.StatusBadRequest, "Learning is disabled. Set ENABLE_LEARNING and a KV backend to enable it.")
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, map[string]any{"record": rec})
		return
	}

	summary, err := h.Learner.ReadSummary(r.Context())
	if err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "Learning is disabled. Set ENABLE_LEARNING and a KV backend to enable it.")
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, summary)
}
