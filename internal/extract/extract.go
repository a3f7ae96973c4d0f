// Package extract pulls structured JSON out of free-text model responses.
//
// Models wrap JSON in prose and code fences. Every caller that parses model
// output goes through this package so the tolerance rules live in one place.
package extract

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoObject is returned when no JSON object could be recovered from text.
var ErrNoObject = errors.New("no JSON object found")

// candidates yields the substrings worth trying, best first: the span from
// the first '{' to the last '}', then each line that starts with '{'.
func candidates(text string) []string {
	var out []string
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		out = append(out, text[start:end+1])
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "{") {
			out = append(out, line)
		}
	}
	return out
}

// Into decodes the best-effort JSON object in text into v.
func Into(text string, v any) error {
	var lastErr error = ErrNoObject
	for _, c := range candidates(text) {
		err := json.Unmarshal([]byte(c), v)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// Object returns the best-effort JSON object in text as a generic map.
func Object(text string) (map[string]any, bool) {
	var m map[string]any
	if err := Into(text, &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// Decode parses text into a T, returning fallback when nothing usable is found.
func Decode[T any](text string, fallback T) T {
	var v T
	if err := Into(text, &v); err != nil {
		return fallback
	}
	return v
}

// Float reads a numeric field from a decoded object. JSON numbers and
// numeric strings are accepted.
func Float(m map[string]any, key string) (float64, bool) {
	raw, ok := m[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		var f float64
		if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &f); err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
