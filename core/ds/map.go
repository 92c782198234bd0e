package ds

// Map is a map that creates missing values on demand and remembers the order
// in which keys were first seen.
type Map[K comparable, V any] struct {
	create func(K) V
	d      map[K]V
	keys   *Set[K]
}

func NewMap[K comparable, V any](create func(K) V) *Map[K, V] {
	return &Map[K, V]{create: create, d: map[K]V{}, keys: NewSet[K]()}
}

func (m *Map[K, V]) Len() int { return len(m.d) }

func (m *Map[K, V]) Get(k K) (V, bool) {
	v, ok := m.d[k]
	return v, ok
}

// Ensure returns the value for k, creating it first if needed.
func (m *Map[K, V]) Ensure(k K) V {
	if v, ok := m.d[k]; ok {
		return v
	}
	v := m.create(k)
	m.d[k] = v
	m.keys.Add(k)
	return v
}

func (m *Map[K, V]) Remove(k K) {
	delete(m.d, k)
	m.keys.Remove(k)
}

// Keys returns the keys in first-seen order.
func (m *Map[K, V]) Keys() *Set[K] { return m.keys.Copy() }
