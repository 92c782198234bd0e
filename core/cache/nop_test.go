package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNop(t *testing.T) {
	n := NewNop()
	n.Put("key", "val", WithTTL(0))
	n.Delete("key")

	val, ok := n.Get("key")
	require.False(t, ok)
	require.Nil(t, val)
	require.Zero(t, n.Len())
	n.Close()
}

func TestTyped(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 4})
	defer l.Close()

	ints := NewTyped[int](l)
	ints.Put("a", 1)
	l.Put("b", "not an int")

	v, ok := ints.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	_, ok = ints.Get("b")
	require.False(t, ok)

	ints.Delete("a")
	_, ok = ints.Get("a")
	require.False(t, ok)
	require.Equal(t, 1, l.Len())
}
