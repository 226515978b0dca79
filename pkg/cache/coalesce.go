// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache implements the content cache and transport layer (component
// F): fetching and pushing files across heterogeneous transports, with a
// local content-addressed cache in front, and at-most-one in-flight fetch
// per (server, location) as required by §8 property 6.
package cache

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrNotExist is returned when a key has no coalesced value yet.
var ErrNotExist = errors.New("cache: does not exist")

// Coalescing is a generic sync.Map-backed cache that coalesces concurrent
// calls for the same key into a single execution of fetch, modeled directly
// on the teacher's internal/cache.CoalescingMemoryCache. It underlies the
// Cache's per-(server,location) fetch lock (§4.4, §8 property 6).
type Coalescing[K comparable, V any] struct {
	data sync.Map // K -> *onceFn[V]
}

type onceFn[V any] struct {
	do   func() (V, error)
	once sync.Once
	val  V
	err  error
}

func (o *onceFn[V]) run() (V, error) {
	o.once.Do(func() { o.val, o.err = o.do() })
	return o.val, o.err
}

func (c *Coalescing[K, V]) valueOrClear(key K, o *onceFn[V]) (V, error) {
	val, err := o.run()
	if err != nil {
		c.data.CompareAndDelete(key, o)
	}
	return val, err
}

// Get returns the previously-set value for key, or ErrNotExist.
func (c *Coalescing[K, V]) Get(key K) (V, error) {
	var zero V
	v, ok := c.data.Load(key)
	if !ok {
		return zero, ErrNotExist
	}
	return c.valueOrClear(key, v.(*onceFn[V]))
}

// GetOrSet returns the value for key, computing it via fetch if absent.
// Concurrent callers for the same key observe a single invocation of fetch.
func (c *Coalescing[K, V]) GetOrSet(key K, fetch func() (V, error)) (V, error) {
	o := &onceFn[V]{do: fetch}
	actual, _ := c.data.LoadOrStore(key, o)
	return c.valueOrClear(key, actual.(*onceFn[V]))
}

// Del removes the cached value for key, forcing the next GetOrSet to
// recompute it.
func (c *Coalescing[K, V]) Del(key K) {
	c.data.Delete(key)
}

// Clear empties the cache.
func (c *Coalescing[K, V]) Clear() {
	c.data = sync.Map{}
}
