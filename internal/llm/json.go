package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when a model reply contains no JSON object.
var ErrNoJSON = errors.New("no json object in model reply")

// StripFences removes a surrounding ``` or ```json fence from a reply.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line
		if tag := strings.TrimSpace(s[:nl]); !strings.ContainsAny(tag, "{[") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// DecodeJSON decodes the first JSON object found in a model reply into v.
// Prose before or after the object is ignored.
func DecodeJSON(reply string, v any) error {
	s := StripFences(reply)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ErrNoJSON
	}
	return json.NewDecoder(strings.NewReader(s[start:])).Decode(v)
}
