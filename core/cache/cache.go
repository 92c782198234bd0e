package cache

import "time"

type PutOptions struct {
	// TTL expires the entry after the given duration; zero keeps it until evicted.
	TTL time.Duration
}

type PutOption func(*PutOptions)

func WithTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) { o.TTL = ttl }
}

func newPutOptions(opts ...PutOption) PutOptions {
	var po PutOptions
	for _, opt := range opts {
		opt(&po)
	}
	return po
}

// Cache is a string keyed store of arbitrary values. Implementations are safe
// for concurrent use.
type Cache interface {
	Get(key string) (any, bool)
	Put(key string, val any, opts ...PutOption)
	Delete(key string)
	Len() int
	// Close releases background resources. The cache behaves like an empty
	// cache afterwards.
	Close()
}

// TypedCache narrows a Cache to values of type T. An entry of another type
// reads as a miss.
type TypedCache[T any] struct {
	c Cache
}

func NewTyped[T any](c Cache) TypedCache[T] { return TypedCache[T]{c: c} }

func (t TypedCache[T]) Get(key string) (T, bool) {
	v, ok := t.c.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	out, ok := v.(T)
	return out, ok
}

func (t TypedCache[T]) Put(key string, val T, opts ...PutOption) { t.c.Put(key, val, opts...) }
func (t TypedCache[T]) Delete(key string)                        { t.c.Delete(key) }
