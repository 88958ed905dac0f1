package cache

import (
	"regexp"
	"strings"
)

// topicPattern matches the topic clause the app embeds in recommendation
// prompts, e.g. `topic: "ordering food"` or `Topic: travel`.
var topicPattern = regexp.MustCompile(`(?i)\btopic\s*:\s*"?([^"\n.]+)"?`)

// Topic extracts the semantic topic from a user prompt. The second return
// value is false when no topic clause is present, which makes the request
// ineligible for caching.
func Topic(prompt string) (string, bool) {
	m := topicPattern.FindStringSubmatch(prompt)
	if m == nil {
		return "", false
	}
	topic := strings.ToLower(strings.TrimSpace(m[1]))
	return topic, topic != ""
}

// Key builds the composite cache key. Including the model identifier means a
// provider or model switch naturally misses instead of serving stale entries.
func Key(topic, model string) string {
	return topic + "|" + model
}
