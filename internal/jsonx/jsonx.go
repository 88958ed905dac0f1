// Package jsonx recovers structured data from messy model output.
package jsonx

import (
	"encoding/json"
	"regexp"
	"strings"
)

const previewLen = 500

var trailingCommas = regexp.MustCompile(`,\s*([}\]])`)

// ParseError reports that every parse strategy failed.
type ParseError struct {
	// Preview is a truncated copy of the last-attempted text.
	Preview string
}

func (e *ParseError) Error() string {
	return "no parse strategy succeeded: " + e.Preview
}

// Normalize strips surrounding markdown code fences and trims whitespace.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = s[3:]
		// the opening fence may declare a language tag
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			first := strings.TrimSpace(s[:i])
			if first == "" || isLanguageTag(first) {
				s = s[i+1:]
			}
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isLanguageTag(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// Parse attempts a cascade of progressively more destructive strategies and
// returns the first value that decodes. Strategies, in order: the text as-is,
// the first-{ to last-} substring, that substring with trailing commas
// removed, and the text with control characters stripped. The cascade order
// keeps well-formed responses untouched.
func Parse(text string) (any, error) {
	last := text
	if v, err := unmarshal(text); err == nil {
		return v, nil
	}

	if sub, ok := objectSubstring(text); ok {
		last = sub
		if v, err := unmarshal(sub); err == nil {
			return v, nil
		}

		fixed := trailingCommas.ReplaceAllString(sub, "$1")
		last = fixed
		if v, err := unmarshal(fixed); err == nil {
			return v, nil
		}
	}

	cleaned := stripControl(text)
	last = cleaned
	v, err := unmarshal(cleaned)
	if err == nil {
		return v, nil
	}

	return nil, &ParseError{Preview: preview(last)}
}

func unmarshal(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err //nolint:wrapcheck
	}
	return v, nil
}

// objectSubstring cuts from the first { to the last }, dropping any prose the
// model wrapped around the payload.
func objectSubstring(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 {
			return -1
		}
		return r
	}, s)
}

func preview(s string) string {
	if len(s) > previewLen {
		return s[:previewLen]
	}
	return s
}
