// Package cache tracks id lookups made within one request context so
// that repeated reads of the same document can be spotted.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/evergreen-ci/utility/ttlcache"
)

type (
	// Using a custom type to avoid collisions with other context keys.
	cacheContextKey string
)

const lifetime = time.Second

// Embed attaches a lookup cache for each collection to ctx. Collections
// that already have a cache keep it.
func Embed(ctx context.Context, namePrefix string, collections ...string) context.Context {
	for _, collection := range collections {
		if ctx.Value(cacheContextKey(collection)) != nil {
			continue
		}
		cacheName := fmt.Sprintf("%s-db-cache-%s", namePrefix, collection)
		cache := ttlcache.WithOtel(ttlcache.NewInMemory[any](), cacheName)
		ctx = context.WithValue(ctx, cacheContextKey(collection), cache)
	}

	return ctx
}

// Embedded reports whether ctx carries a cache for collection.
func Embedded(ctx context.Context, collection string) bool {
	_, ok := getCache[any](ctx, collection)
	return ok
}

func GetFromCache[T any](ctx context.Context, collection, id string) (T, bool) {
	cache, ok := getCache[T](ctx, collection)
	if !ok {
		return *new(T), false
	}

	return cache.Get(ctx, id, 0)
}

func SetInCache[T any](ctx context.Context, collection, id string, value T) {
	cache, ok := getCache[T](ctx, collection)
	if !ok {
		return
	}

	cache.Put(ctx, id, value, time.Now().Add(lifetime))
}

func getCache[T any](ctx context.Context, collection string) (ttlcache.Cache[T], bool) {
	cache, ok := ctx.Value(cacheContextKey(collection)).(ttlcache.Cache[T])
	return cache, ok
}
