package cache

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLRU(t *testing.T) {
	t.Run("get absent", func(t *testing.T) {
		c := NewLRU[string](3)
		_, ok := c.Get("nope")
		require.False(t, ok)
	})

	t.Run("set and get", func(t *testing.T) {
		c := NewLRU[string](3)
		c.Set("a", "1")
		v, ok := c.Get("a")
		require.True(t, ok)
		require.Equal(t, "1", v)
	})

	t.Run("update existing key", func(t *testing.T) {
		c := NewLRU[string](2)
		c.Set("a", "1")
		c.Set("a", "2")
		v, _ := c.Get("a")
		require.Equal(t, "2", v)
		require.Equal(t, 1, c.Stats().Size)
	})

	t.Run("evicts least recently used", func(t *testing.T) {
		c := NewLRU[int](3)
		c.Set("a", 1)
		c.Set("b", 2)
		c.Set("c", 3)
		c.Set("d", 4)

		_, ok := c.Get("a")
		require.False(t, ok)
		for _, k := range []string{"b", "c", "d"} {
			_, ok := c.Get(k)
			require.True(t, ok, k)
		}
	})

	t.Run("get promotes entry", func(t *testing.T) {
		c := NewLRU[int](3)
		c.Set("a", 1)
		c.Set("b", 2)
		c.Set("c", 3)

		// touching a makes b the eviction candidate
		_, ok := c.Get("a")
		require.True(t, ok)
		c.Set("d", 4)

		_, ok = c.Get("b")
		require.False(t, ok)
		_, ok = c.Get("a")
		require.True(t, ok)
	})

	t.Run("capacity exactly honored", func(t *testing.T) {
		c := NewLRU[int](5)
		for i := range 20 {
			c.Set(fmt.Sprintf("k%d", i), i)
		}
		require.Equal(t, 5, c.Stats().Size)
	})

	t.Run("stats", func(t *testing.T) {
		c := NewLRU[int](4)
		c.Set("a", 1)
		s := c.Stats()
		require.Equal(t, 1, s.Size)
		require.Equal(t, 4, s.Capacity)
		require.InDelta(t, 25.0, s.Utilization, 0.001)
	})
}

func TestTopic(t *testing.T) {
	t.Run("quoted", func(t *testing.T) {
		topic, ok := Topic(`Recommend 5 exercises for the topic: "ordering food" in Spanish.`)
		require.True(t, ok)
		require.Equal(t, "ordering food", topic)
	})

	t.Run("unquoted", func(t *testing.T) {
		topic, ok := Topic("Give recommendations.\nTopic: travel\n")
		require.True(t, ok)
		require.Equal(t, "travel", topic)
	})

	t.Run("absent", func(t *testing.T) {
		_, ok := Topic("Explain the difference between ser and estar.")
		require.False(t, ok)
	})

	t.Run("key includes model", func(t *testing.T) {
		require.Equal(t, "travel|llama3", Key("travel", "llama3"))
		require.NotEqual(t, Key("travel", "llama3"), Key("travel", "gpt-4o"))
	})
}

func TestExpiring(t *testing.T) {
	t.Run("read absent", func(t *testing.T) {
		c, err := NewExpiring[[]string](t.TempDir())
		require.NoError(t, err)
		var v []string
		require.ErrorIs(t, c.Read("models", &v), os.ErrNotExist)
	})

	t.Run("write and read", func(t *testing.T) {
		c, err := NewExpiring[[]string](t.TempDir())
		require.NoError(t, err)
		in := []string{"a", "b"}
		require.NoError(t, c.Write("models", time.Now().Add(time.Hour).Unix(), &in))

		var out []string
		require.NoError(t, c.Read("models", &out))
		require.Equal(t, in, out)
	})

	t.Run("expired entry is a miss", func(t *testing.T) {
		c, err := NewExpiring[[]string](t.TempDir())
		require.NoError(t, err)
		in := []string{"a"}
		require.NoError(t, c.Write("models", time.Now().Add(-time.Minute).Unix(), &in))

		var out []string
		require.ErrorIs(t, c.Read("models", &out), os.ErrNotExist)
	})

	t.Run("write replaces previous entry", func(t *testing.T) {
		dir := t.TempDir()
		c, err := NewExpiring[[]string](dir)
		require.NoError(t, err)
		first := []string{"old"}
		require.NoError(t, c.Write("models", time.Now().Add(time.Hour).Unix(), &first))
		second := []string{"new"}
		require.NoError(t, c.Write("models", time.Now().Add(2*time.Hour).Unix(), &second))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)

		var out []string
		require.NoError(t, c.Read("models", &out))
		require.Equal(t, second, out)
	})
}
