package cache

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Expiring is a file-backed cache whose entries expire. The expiry timestamp
// is part of the filename so reads can discard stale entries without
// decoding them. It backs the remote models list across restarts.
type Expiring[T any] struct {
	dir string
}

// NewExpiring creates an expiring cache rooted at dir.
func NewExpiring[T any](dir string) (*Expiring[T], error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Expiring[T]{dir: dir}, nil
}

// Read decodes the entry for id into v. It returns [os.ErrNotExist] when the
// entry is absent or already expired; expired files are removed on the way.
func (c *Expiring[T]) Read(id string, v *T) error {
	matches, err := filepath.Glob(filepath.Join(c.dir, id+".*"))
	if err != nil {
		return fmt.Errorf("read expiring cache: %w", err)
	}
	if len(matches) == 0 {
		return os.ErrNotExist
	}

	parts := strings.Split(filepath.Base(matches[0]), ".")
	if len(parts) != 2 {
		return fmt.Errorf("invalid cache filename %q", matches[0])
	}
	expiresAt, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid expiration timestamp in %q: %w", matches[0], err)
	}
	if expiresAt < time.Now().Unix() {
		_ = os.Remove(matches[0])
		return os.ErrNotExist
	}

	file, err := os.Open(matches[0])
	if err != nil {
		return fmt.Errorf("open expiring cache file: %w", err)
	}
	defer file.Close() //nolint:errcheck

	if err := gob.NewDecoder(file).Decode(v); err != nil {
		return fmt.Errorf("decode expiring cache entry: %w", err)
	}
	return nil
}

// Write stores v under id, replacing any previous entry for that id.
func (c *Expiring[T]) Write(id string, expiresAt int64, v *T) error {
	old, _ := filepath.Glob(filepath.Join(c.dir, id+".*"))
	for _, f := range old {
		if err := os.Remove(f); err != nil {
			return fmt.Errorf("remove old cache file: %w", err)
		}
	}

	name := fmt.Sprintf("%s.%d", id, expiresAt)
	file, err := os.Create(filepath.Join(c.dir, name))
	if err != nil {
		return fmt.Errorf("create expiring cache file: %w", err)
	}
	defer file.Close() //nolint:errcheck

	if err := gob.NewEncoder(file).Encode(v); err != nil {
		return fmt.Errorf("encode expiring cache entry: %w", err)
	}
	return nil
}
