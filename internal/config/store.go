package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// The durable store is a plain text file of KEY=VALUE lines. Comment and
// blank lines survive rewrites verbatim, as do keys the current update does
// not touch.

func readStoreFile(path string) (map[string]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	values := make(map[string]string)
	for _, line := range strings.Split(string(content), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		key, value, ok := strings.Cut(trimmed, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return values, nil
}

func mergeStoreFile(path string, values map[string]string) error {
	pending := make(map[string]string, len(values))
	for k, v := range values {
		pending[k] = v
	}

	var out []string
	if content, err := os.ReadFile(path); err == nil {
		for line := range strings.SplitSeq(strings.TrimRight(string(content), "\n"), "\n") {
			trimmed := strings.TrimSpace(line)
			key, _, isPair := strings.Cut(trimmed, "=")
			key = strings.TrimSpace(key)
			if trimmed == "" || strings.HasPrefix(trimmed, "#") || !isPair {
				out = append(out, line)
				continue
			}
			if v, ok := pending[key]; ok {
				out = append(out, key+"="+v)
				delete(pending, key)
			} else {
				out = append(out, line)
			}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read store: %w", err)
	}

	rest := make([]string, 0, len(pending))
	for k, v := range pending {
		rest = append(rest, k+"="+v)
	}
	sort.Strings(rest)
	out = append(out, rest...)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	data := strings.Join(out, "\n") + "\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	return nil
}
