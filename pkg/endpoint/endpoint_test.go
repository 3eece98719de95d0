package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromString(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		addr, err := FromString("10.0.0.1:8080")
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.1", addr.Host)
		assert.Equal(t, uint16(8080), addr.Port)
		assert.Equal(t, "10.0.0.1:8080", addr.Key())
	})

	t.Run("missing_port", func(t *testing.T) {
		_, err := FromString("10.0.0.1")
		require.Error(t, err)
	})

	t.Run("bad_port", func(t *testing.T) {
		_, err := FromString("10.0.0.1:http")
		require.Error(t, err)
	})

	t.Run("port_out_of_range", func(t *testing.T) {
		_, err := FromString("10.0.0.1:70000")
		require.Error(t, err)
	})

	t.Run("empty_host", func(t *testing.T) {
		_, err := FromString(":8080")
		require.Error(t, err)
	})
}

func TestParse(t *testing.T) {
	t.Run("string", func(t *testing.T) {
		addrs, err := Parse("localhost:9000")
		require.NoError(t, err)
		require.Len(t, addrs, 1)
		assert.Equal(t, "localhost:9000", addrs[0].Key())
	})

	t.Run("addr_passthrough", func(t *testing.T) {
		addrs, err := Parse(Addr{Host: "a", Port: 1})
		require.NoError(t, err)
		require.Len(t, addrs, 1)
		assert.Equal(t, "a:1", addrs[0].Key())
	})

	t.Run("string_list", func(t *testing.T) {
		addrs, err := Parse([]string{"a:1", "b:2"})
		require.NoError(t, err)
		require.Len(t, addrs, 2)
		assert.Equal(t, "a:1", addrs[0].Key())
		assert.Equal(t, "b:2", addrs[1].Key())
	})

	t.Run("record", func(t *testing.T) {
		addrs, err := Parse(map[string]any{"host": "c", "port": 3})
		require.NoError(t, err)
		require.Len(t, addrs, 1)
		assert.Equal(t, "c:3", addrs[0].Key())
	})

	t.Run("record_port_string", func(t *testing.T) {
		addrs, err := Parse(map[string]any{"host": "c", "port": "33"})
		require.NoError(t, err)
		assert.Equal(t, "c:33", addrs[0].Key())
	})

	t.Run("mixed_list", func(t *testing.T) {
		addrs, err := Parse([]any{"a:1", Addr{Host: "b", Port: 2}})
		require.NoError(t, err)
		require.Len(t, addrs, 2)
	})

	t.Run("record_without_host", func(t *testing.T) {
		_, err := Parse(map[string]any{"port": 3})
		require.Error(t, err)
	})

	t.Run("nil", func(t *testing.T) {
		_, err := Parse(nil)
		require.Error(t, err)
	})

	t.Run("unsupported_type", func(t *testing.T) {
		_, err := Parse(42)
		require.Error(t, err)
	})
}

func TestPool(t *testing.T) {
	a1 := Addr{Host: "h1", Port: 1}
	a2 := Addr{Host: "h2", Port: 2}
	a3 := Addr{Host: "h3", Port: 3}

	t.Run("add_rejects_duplicates", func(t *testing.T) {
		p := NewPool()
		assert.True(t, p.Add(a1))
		assert.False(t, p.Add(a1))
		assert.Equal(t, 1, p.Len())
	})

	t.Run("pop_is_lifo", func(t *testing.T) {
		p := NewPool(a1, a2, a3)
		got, ok := p.PopNext()
		require.True(t, ok)
		assert.Equal(t, a3, got)
		got, ok = p.PopNext()
		require.True(t, ok)
		assert.Equal(t, a2, got)
		assert.Equal(t, 1, p.Len())
	})

	t.Run("pop_empty", func(t *testing.T) {
		p := NewPool()
		_, ok := p.PopNext()
		assert.False(t, ok)
	})

	t.Run("remove", func(t *testing.T) {
		p := NewPool(a1, a2)
		assert.True(t, p.Remove(a1))
		assert.False(t, p.Remove(a1))
		assert.Equal(t, 1, p.Len())
		got, ok := p.PopNext()
		require.True(t, ok)
		assert.Equal(t, a2, got)
	})

	t.Run("no_duplicates_over_sequences", func(t *testing.T) {
		p := NewPool()
		p.Add(a1)
		p.Add(a2)
		p.Remove(a1)
		p.Add(a1)
		assert.False(t, p.Add(a1))

		seen := make(map[string]bool)
		for _, addr := range p.Snapshot() {
			assert.False(t, seen[addr.Key()])
			seen[addr.Key()] = true
		}
	})
}
