// Package cache provides a small key-value cache interface with LRU eviction
// and per-entry TTL.
//
// [Cache] stores values as any; [NewTyped] wraps one for a single value type.
// [LRU] is safe for concurrent use: a single goroutine owns the entries and
// callers reach it over channels. [Nop] never stores anything and is the
// default wherever caching is optional.
//
//	c := cache.NewLRU(cache.LRUOpts{Size: 1000})
//	defer c.Close()
//
//	c.Put("todo_list/6f1c...", envelopes, cache.WithTTL(5*time.Minute))
//	if v, ok := c.Get("todo_list/6f1c..."); ok {
//	    // use v
//	}
//
// Expired entries are evicted lazily, on the next Get.
package cache
