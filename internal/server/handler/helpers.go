package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

const (
	defaultLimit = 500
	maxLimit     = 10000
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseFilter extracts the journal filter from the query string:
// account, venue, symbol, from, to, limit and type (comma separated).
// Defaults: limit=500 (max 10000).
func parseFilter(r *http.Request) (domain.Filter, error) {
	q := r.URL.Query()
	f := domain.Filter{
		AccountTag: q.Get("account"),
		Venue:      q.Get("venue"),
		Symbol:     strings.ToUpper(q.Get("symbol")),
		Limit:      defaultLimit,
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = min(n, maxLimit)
	}
	for _, k := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.Since}, {"to", &f.Until}} {
		v := q.Get(k.name)
		if v == "" {
			continue
		}
		ts, err := parseTime(v)
		if err != nil {
			return f, fmt.Errorf("invalid %s %q", k.name, v)
		}
		*k.dst = &ts
	}
	if f.Since != nil && f.Until != nil && !f.Since.Before(*f.Until) {
		return f, fmt.Errorf("from must be before to")
	}
	for _, t := range strings.Split(q.Get("type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			f.Types = append(f.Types, domain.EventType(t))
		}
	}
	return f, nil
}

// parseTime accepts RFC 3339, a bare date (UTC midnight) or unix seconds.
func parseTime(v string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, v); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.DateOnly, v); err == nil {
		return ts, nil
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", v)
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}

// emptyIfNil keeps list responses as [] rather than null.
func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
