package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bloxs/odata-agent-proxy/internal/catalog"
	"github.com/bloxs/odata-agent-proxy/internal/forbidden"
	"github.com/bloxs/odata-agent-proxy/internal/learn"
	"github.com/bloxs/odata-agent-proxy/internal/token"
)

const testShortKey = "short-key-123"

// newTestHandler wires a Handler against a single httptest server that
// plays both the auth endpoint and the OData data endpoint, recording
// every upstream data request it receives.
func newTestHandler(t *testing.T, dataHandler http.HandlerFunc, forbiddenNames []string) (*Handler, *[]*http.Request) {
	t.Helper()
	var captured []*http.Request

	mux := http.NewServeMux()
	mux.HandleFunc("/Authorization", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"token":      "opaque-not-jwt",
			"expiration": "01/01/2099 00:00:00",
		})
	})
	mux.HandleFunc("/odatafeed/", func(w http.ResponseWriter, r *http.Request) {
		captured = append(captured, r)
		dataHandler(w, r)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	h := &Handler{
		Catalog:   catalog.New(),
		Forbidden: forbidden.New(forbiddenNames),
		Tokens:    token.New(server.URL, "key", "secret", server.Client()),
		Upstream:  NewUpstreamClient(server.Client(), server.URL),
		Learner:   learn.New(false, nil),
		ShortKey:  testShortKey,
	}
	return h, &captured
}

func TestPreflightRequiresNoAuthAndMakesNoUpstreamCall(t *testing.T) {
	h, captured := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream should not be called for OPTIONS")
	}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/odatafeed/Units", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
	if len(*captured) != 0 {
		t.Errorf("upstream calls = %d, want 0", len(*captured))
	}
}

func TestMissingAuthorizationHeader(t *testing.T) {
	h, captured := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream should not be called")
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/odatafeed/Units", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(*captured) != 0 {
		t.Errorf("upstream calls = %d, want 0", len(*captured))
	}
}

func TestInvalidShortKeyNeverReachesUpstream(t *testing.T) {
	h, captured := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream should not be called for a bad short key")
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/odatafeed/Units", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(*captured) != 0 {
		t.Errorf("upstream calls = %d, want 0", len(*captured))
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {}, nil)

	req := httptest.NewRequest(http.MethodPost, "/odatafeed/Units", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestTopCapIsEnforcedOnOutgoingRequest(t *testing.T) {
	h, captured := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[]}`))
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/odatafeed/FinancialMutations?$filter=FinancialYear%20eq%202025&$top=500", nil)
	req.Header.Set("Authorization", "Bearer "+testShortKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if len(*captured) != 1 {
		t.Fatalf("upstream calls = %d, want 1", len(*captured))
	}
	gotQuery := (*captured)[0].URL.RawQuery
	wantQuery := "$filter=FinancialYear%20eq%202025&$top=100"
	if gotQuery != wantQuery {
		t.Errorf("upstream query = %q, want %q", gotQuery, wantQuery)
	}
}

func TestOrderByRewrite(t *testing.T) {
	h, captured := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[]}`))
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/odatafeed/Units?$orderby=Foo%20desc,UnitId%20asc", nil)
	req.Header.Set("Authorization", "Bearer "+testShortKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := (*captured)[0].URL.RawQuery; !strings.Contains(got, "$orderby=UnitId") {
		t.Errorf("upstream query = %q, want to contain $orderby=UnitId", got)
	}
}

func TestRequiredFilterMissingRejectsBeforeUpstream(t *testing.T) {
	h, captured := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream should not be called when a required filter is missing")
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/odatafeed/FinancialMutations?$top=10", nil)
	req.Header.Set("Authorization", "Bearer "+testShortKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "FinancialMutations") || !strings.Contains(body, "100") {
		t.Errorf("body = %q, want to mention entity name and cap 100", body)
	}
	if len(*captured) != 0 {
		t.Errorf("upstream calls = %d, want 0", len(*captured))
	}
}

func TestRedactionDropsForbiddenRowAndSetsResponse(t *testing.T) {
	h, _ := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[{"OwnerName":"Acme"},{"OwnerName":"Wals Huren"}]}`))
	}, []string{"wals huren"})

	req := httptest.NewRequest(http.MethodGet, "/odatafeed/Owners", nil)
	req.Header.Set("Authorization", "Bearer "+testShortKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var parsed struct {
		Value []map[string]string `json:"value"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(parsed.Value) != 1 || parsed.Value[0]["OwnerName"] != "Acme" {
		t.Fatalf("value = %v, want only Acme", parsed.Value)
	}
}

func TestAliasResolvesToCanonicalSegmentInUpstreamPath(t *testing.T) {
	h, captured := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[]}`))
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/odatafeed/unit", nil)
	req.Header.Set("Authorization", "Bearer "+testShortKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := (*captured)[0].URL.Path; got != "/odatafeed/Units" {
		t.Errorf("upstream path = %q, want /odatafeed/Units", got)
	}
}

func TestUpstreamErrorMapsFieldNameSuggestion(t *testing.T) {
	h, _ := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Could not find a property named 'Bogus' on type X"}}`))
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/odatafeed/Units", nil)
	req.Header.Set("Authorization", "Bearer "+testShortKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var env errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.InvalidField != "Bogus" {
		t.Errorf("InvalidField = %q, want Bogus", env.InvalidField)
	}
	if len(env.AvailableFields) == 0 {
		t.Error("AvailableFields is empty, want the entity's sortable fields")
	}
}

func TestMetadataSummaryEndpoint(t *testing.T) {
	h, captured := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream should not be called for $metadata-summary")
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/odatafeed/$metadata-summary", nil)
	req.Header.Set("Authorization", "Bearer "+testShortKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var doc metadataSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := doc.Entities["Units"]; !ok {
		t.Error("Entities does not contain Units")
	}
	if len(*captured) != 0 {
		t.Errorf("upstream calls = %d, want 0", len(*captured))
	}
}

func TestLearnSummaryDisabled(t *testing.T) {
	h, _ := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {}, nil)

	req := httptest.NewRequest(http.MethodGet, "/odatafeed/$learn-summary", nil)
	req.Header.Set("Authorization", "Bearer "+testShortKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
