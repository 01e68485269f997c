package token

import (
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryFromJWT decodes token as a three-part JWT and extracts a numeric
// exp claim, converted to milliseconds. ParseUnverified performs no
// signature check — the proxy is a relying party that forwards the token,
// never one that validates it.
func expiryFromJWT(token string) (int64, bool) {
	if strings.Count(token, ".") != 2 {
		return 0, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, false
	}

	expTime, err := claims.GetExpirationTime()
	if err != nil || expTime == nil {
		return 0, false
	}
	return expTime.Time.UnixMilli(), true
}

// parseExpirationString parses the upstream "expiration" field, formatted
// "D/M/YYYY[ H:M[:S]]" and interpreted as UTC. Day-first parsing is tried
// first; if it yields an invalid calendar date, month-first is tried next.
func parseExpirationString(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	datePart, timePart, _ := strings.Cut(s, " ")
	dateFields := strings.Split(datePart, "/")
	if len(dateFields) != 3 {
		return 0, false
	}
	a, errA := strconv.Atoi(dateFields[0])
	b, errB := strconv.Atoi(dateFields[1])
	year, errC := strconv.Atoi(dateFields[2])
	if errA != nil || errB != nil || errC != nil {
		return 0, false
	}

	hour, min, sec, ok := parseTimeOfDay(timePart)
	if !ok {
		return 0, false
	}

	// Day-first: a=day, b=month.
	if validCalendarDate(year, b, a) {
		return time.Date(year, time.Month(b), a, hour, min, sec, 0, time.UTC).UnixMilli(), true
	}
	// Month-first retry: a=month, b=day.
	if validCalendarDate(year, a, b) {
		return time.Date(year, time.Month(a), b, hour, min, sec, 0, time.UTC).UnixMilli(), true
	}
	return 0, false
}

// parseTimeOfDay parses an optional "H:M[:S]" suffix. An empty string is
// treated as midnight.
func parseTimeOfDay(s string) (hour, min, sec int, ok bool) {
	if s == "" {
		return 0, 0, 0, true
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, 0, false
	}
	var errH, errM, errS error
	hour, errH = strconv.Atoi(parts[0])
	min, errM = strconv.Atoi(parts[1])
	if len(parts) == 3 {
		sec, errS = strconv.Atoi(parts[2])
	}
	if errH != nil || errM != nil || errS != nil {
		return 0, 0, 0, false
	}
	if hour < 0 || hour > 23 || min < 0 || min > 59 || sec < 0 || sec > 59 {
		return 0, 0, 0, false
	}
	return hour, min, sec, true
}

// validCalendarDate reports whether day is a valid day-of-month for the
// given month and year, without the auto-normalizing overflow behavior of
// time.Date.
func validCalendarDate(year, month, day int) bool {
	if month < 1 || month > 12 || day < 1 {
		return false
	}
	// Day 0 of the following month is the last day of this one.
	lastDay := time.Date(year, time.Month(month+1), 0, 0, 0, 0, 0, time.UTC).Day()
	return day <= lastDay
}
