// Package query implements the Query Sanitiser: a pure rewrite of an
// inbound OData query string against the Entity Catalog's whitelist.
// Sanitize never performs I/O.
package query

import (
	"net/url"
	"strconv"
	"strings"
)

// Catalog is the subset of catalog.Catalog the sanitiser depends on.
type Catalog interface {
	FieldsFor(entity string) []string
	TopCapFor(entity string) int
}

// param is one raw "key=value" pair from the query string, in the order
// it appeared.
type param struct {
	key   string
	value string
}

// Sanitize rewrites rawQuery for entity: $top is capped, $orderby is
// validated against the catalog's whitelist, and every other parameter is
// passed through unchanged and in its original order. The result is
// prefixed with "?", or empty if no parameters remain.
func Sanitize(cat Catalog, entity, rawQuery string) string {
	params := parseOrdered(rawQuery)

	fields := cat.FieldsFor(entity)
	topCap := cat.TopCapFor(entity)

	out := make([]param, 0, len(params))
	for _, p := range params {
		switch p.key {
		case "$top":
			if v, ok := sanitizeTop(p.value, topCap); ok {
				out = append(out, param{key: "$top", value: v})
			}
			// drop $top entirely on parse failure or non-positive value
		case "$orderby":
			if v, ok := sanitizeOrderBy(p.value, fields); ok {
				out = append(out, param{key: "$orderby", value: v})
			}
			// drop $orderby entirely when the entity has no known fields
		default:
			out = append(out, p)
		}
	}

	return encode(out)
}

// sanitizeTop parses value as a positive base-10 integer and caps it at
// topCap. It reports ok=false when value is not a positive integer.
func sanitizeTop(value string, topCap int) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return "", false
	}
	if n > topCap {
		n = topCap
	}
	return strconv.Itoa(n), true
}

// sanitizeOrderBy validates each comma-separated segment of value against
// fields (case-insensitive on the field name). Segments that don't match
// are dropped; surviving segments are rejoined with ", ". If every segment
// is invalid, a single safe-field segment is substituted, preserving the
// original string's direction when it mentioned "desc". If fields is
// empty, $orderby is dropped outright.
func sanitizeOrderBy(value string, fields []string) (string, bool) {
	if len(fields) == 0 {
		return "", false
	}

	hadDesc := strings.Contains(strings.ToLower(value), "desc")

	var survivors []string
	for _, raw := range strings.Split(value, ",") {
		seg := strings.TrimSpace(raw)
		if seg == "" {
			continue
		}
		tokens := strings.Fields(seg)
		fieldToken := tokens[0]
		canonical, ok := matchField(fieldToken, fields)
		if !ok {
			continue
		}
		rewritten := canonical
		if len(tokens) > 1 && strings.EqualFold(tokens[1], "desc") {
			rewritten += " desc"
		}
		survivors = append(survivors, rewritten)
	}

	if len(survivors) > 0 {
		return strings.Join(survivors, ", "), true
	}

	safe := safeField(fields)
	if hadDesc {
		safe += " desc"
	}
	return safe, true
}

// matchField looks up token against fields case-insensitively and returns
// the catalog's canonical spelling.
func matchField(token string, fields []string) (string, bool) {
	for _, f := range fields {
		if strings.EqualFold(f, token) {
			return f, true
		}
	}
	return "", false
}

// safeField picks the default orderby field: the first field ending in
// "Id" or equal to "Reference", else the first field in the list.
func safeField(fields []string) string {
	for _, f := range fields {
		if strings.HasSuffix(f, "Id") || f == "Reference" {
			return f
		}
	}
	return fields[0]
}

// parseOrdered splits a raw query string into ordered key/value pairs,
// preserving duplicate keys and original ordering (url.Values does not).
func parseOrdered(raw string) []param {
	raw = strings.TrimPrefix(raw, "?")
	if raw == "" {
		return nil
	}

	var params []param
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		params = append(params, param{key: decode(key), value: decode(value)})
	}
	return params
}

func decode(s string) string {
	if v, err := url.QueryUnescape(s); err == nil {
		return v
	}
	return s
}

// encode rebuilds a query string from ordered params, prefixed with "?".
// It returns "" when params is empty.
func encode(params []param) string {
	if len(params) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte('?')
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escape(p.key))
		b.WriteByte('=')
		b.WriteString(escape(p.value))
	}
	return b.String()
}

// escape percent-encodes a query component the way OData URLs are
// conventionally written: spaces as "%20", not "+", and "$" left literal so
// system query options read "$filter", "$top", "$orderby". url.QueryEscape
// only ever emits "+" for a literal space (a real "+" becomes "%2B") and
// "%24" for a literal "$" (a real "%" becomes "%25"), so the substitutions
// below are unambiguous.
func escape(s string) string {
	return strings.NewReplacer("+", "%20", "%24", "$").Replace(url.QueryEscape(s))
}
