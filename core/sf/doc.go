// Package sf is a typed wrapper around golang.org/x/sync/singleflight.
//
// Concurrent calls to [Singleflight.Do] with the same key collapse into one
// execution; every caller receives its result:
//
//	lists := sf.New[[]uuid.UUID]()
//	ids, _, err := lists.Do(ownerID, func() ([]uuid.UUID, error) {
//	    return loadCollection(ctx, ownerID)
//	})
package sf
