// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncx provides small generic wrappers around sync primitives used
// by the engine's concurrent components: the chroot registry (component M)
// needs a map keyed by name that many goroutines touch concurrently.
package syncx

import "sync"

// Map is a type-safe wrapper around sync.Map.
type Map[K comparable, V any] struct {
	m sync.Map
}

// Load returns the value stored for key, or the zero value if absent.
func (m *Map[K, V]) Load(key K) (value V, ok bool) {
	v, ok := m.m.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Store sets the value for key.
func (m *Map[K, V]) Store(key K, value V) {
	m.m.Store(key, value)
}

// Delete removes key, if present.
func (m *Map[K, V]) Delete(key K) {
	m.m.Delete(key)
}

// LoadOrStore returns the existing value for key if present; otherwise it
// stores and returns value. loaded reports which happened.
func (m *Map[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	a, loaded := m.m.LoadOrStore(key, value)
	return a.(V), loaded
}

// LoadAndDelete removes key and returns its prior value, if any.
func (m *Map[K, V]) LoadAndDelete(key K) (value V, loaded bool) {
	v, loaded := m.m.LoadAndDelete(key)
	if !loaded {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Range calls f for each entry until f returns false or entries are
// exhausted. As with sync.Map, f must not itself call Store/Delete on m in
// a way that races the underlying traversal.
func (m *Map[K, V]) Range(f func(key K, value V) bool) {
	m.m.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}

// Len counts the current entries by ranging; sync.Map has no O(1) size.
func (m *Map[K, V]) Len() int {
	n := 0
	m.Range(func(K, V) bool { n++; return true })
	return n
}
