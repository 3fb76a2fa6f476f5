package jsonx

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

func StructToString(s any) (string, error) {
	if s == nil {
		return "", errors.New("nil struct")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal struct: %w", err)
	}
	return string(b), nil
}

// StripCodeFences removes a surrounding ```json ... ``` or ``` ... ``` block.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
	} else if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+len("```"):]
	} else {
		return s
	}
	if end := strings.Index(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// ExtractObject returns the first balanced JSON object in s, ignoring braces
// inside string literals.
func ExtractObject(s string) (string, error) {
	s = StripCodeFences(s)
	start := strings.Index(s, "{")
	if start < 0 {
		return "", errors.New("no json object found")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errors.New("unterminated json object")
}
