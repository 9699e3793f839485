// Package llmjson extracts structured JSON from free-form model output.
package llmjson

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no candidate in the text decodes
var ErrNoJSON = errors.New("no JSON found in response")

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

// Extract decodes the first usable JSON value found in text into v.
// It tries, in order: the whole text, a fenced code block, the outermost
// object or array, and finally a bracket-balanced repair of a truncated value.
func Extract(text string, v any) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrNoJSON
	}

	var lastErr error
	for _, candidate := range candidates(text) {
		if !json.Valid([]byte(candidate)) {
			continue
		}
		if lastErr = json.Unmarshal([]byte(candidate), v); lastErr == nil {
			return nil
		}
	}

	for _, candidate := range candidates(text) {
		repaired, ok := Repair(candidate)
		if !ok || !json.Valid([]byte(repaired)) {
			continue
		}
		if lastErr = json.Unmarshal([]byte(repaired), v); lastErr == nil {
			return nil
		}
	}

	if lastErr != nil {
		return lastErr
	}
	return ErrNoJSON
}

func candidates(text string) []string {
	out := []string{text}

	if m := fencedBlock.FindStringSubmatch(text); len(m) > 1 {
		out = append(out, strings.TrimSpace(m[1]))
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		// Unterminated fence, typical of a truncated response
		body := text[idx+3:]
		body = strings.TrimPrefix(body, "json")
		body = strings.TrimPrefix(body, "JSON")
		out = append(out, strings.TrimSpace(body))
	}

	if s := outermost(text, '{', '}'); s != "" {
		out = append(out, s)
	}
	if s := outermost(text, '[', ']'); s != "" {
		out = append(out, s)
	}

	return out
}

// outermost returns text from the first open bracket to the last close bracket,
// or to the end of the text when no close bracket follows.
func outermost(text string, open, close byte) string {
	start := strings.IndexByte(text, open)
	if start < 0 {
		return ""
	}
	end := strings.LastIndexByte(text, close)
	if end < start {
		return text[start:]
	}
	return text[start : end+1]
}

// Repair closes an unterminated string and any unbalanced brackets and drops
// dangling commas. It reports false when the input does not start like JSON.
func Repair(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return "", false
	}

	var (
		stack    []byte
		inString bool
		escaped  bool
		b        strings.Builder
	)

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return "", false
			}
			stack = stack[:len(stack)-1]
			trimTrailingComma(&b)
		}
		b.WriteByte(c)

		if len(stack) == 0 && (c == '}' || c == ']') {
			return b.String(), true
		}
	}

	out := b.String()
	if escaped {
		out = out[:len(out)-1]
	}
	if inString {
		out += `"`
	}
	return finish(out, stack), true
}

func finish(s string, stack []byte) string {
	s = strings.TrimRight(s, " \t\r\n")
	s = strings.TrimSuffix(s, ",")
	// A key without a value cannot be closed meaningfully
	if strings.HasSuffix(s, ":") {
		s = s + "null"
	}

	var b strings.Builder
	b.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

func trimTrailingComma(b *strings.Builder) {
	s := strings.TrimRight(b.String(), " \t\r\n")
	if strings.HasSuffix(s, ",") {
		s = strings.TrimSuffix(s, ",")
		b.Reset()
		b.WriteString(s)
	}
}
