package proxy

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bloxs/odata-agent-proxy/internal/httpjson"
)

// LoggingMiddleware returns an http.Handler that logs every request at
// Debug level, keyed by the entity being served rather than the raw
// method/path — the same field handler.go itself logs on the
// write-failure path.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := httpjson.NewStatusRecorder(w)
		next.ServeHTTP(rec, r)
		slog.Debug("request", "entity", entityFromPath(r.URL.Path), "status", rec.Status, "duration", time.Since(start))
	})
}

// entityFromPath strips the feed prefix and any sub-resource segment,
// leaving just the entity name (or special endpoint, e.g.
// "$metadata-summary") for log correlation.
func entityFromPath(path string) string {
	trimmed := strings.TrimPrefix(path, feedPrefix)
	segment, _, _ := strings.Cut(trimmed, "/")
	if segment == "" {
		return "(root)"
	}
	return segment
}
