package jsonx

import (
	"encoding/json"
	"regexp"
)

var itemsOpen = regexp.MustCompile(`"items"\s*:\s*\[`)

// Salvage recovers the complete elements of a truncated or malformed
// `{"items": [...]}` payload. It scans the array with a string- and
// escape-aware brace counter so that braces and delimiters inside string
// literals are ignored. Every object closed back to depth zero is parsed in
// isolation; an object that still fails to parse is dropped without aborting
// the scan. The scan ends at the array's own closing bracket or wherever the
// text was cut off.
//
// Salvage never fails: it returns the recovered payload, or nil when not a
// single element could be saved.
func Salvage(text string) map[string]any {
	loc := itemsOpen.FindStringIndex(text)
	if loc == nil {
		return nil
	}

	var (
		items    []any
		start    = -1
		depth    = 0
		inString = false
		escaped  = false
	)

scan:
	for i := loc[1]; i < len(text); i++ {
		c := text[i]
		if inString {
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
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start >= 0 {
				if v, ok := parseElement(text[start : i+1]); ok {
					items = append(items, v)
				}
				start = -1
			}
		case ']':
			if depth == 0 {
				break scan
			}
		}
	}

	if len(items) == 0 {
		return nil
	}
	return map[string]any{"items": items}
}

func parseElement(s string) (any, bool) {
	s = trailingCommas.ReplaceAllString(s, "$1")
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}
