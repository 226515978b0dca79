// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package envx implements the environment model: ordered key-value maps
// that overlay (project env < source env < result env) and a content
// identity, envid, over the merged set.
package envx

import (
	"sort"

	"github.com/emlix/e2factory/internal/hashx"
)

// Env is an environment overlay: a set of key-value pairs. Declaration
// order is preserved for display purposes, but identity (see ID) always
// sorts by key first -- the historical e2factory bug where envid depended
// on insertion order is intentionally not reproduced here (§4.2).
type Env struct {
	keys   []string
	values map[string]string
}

// New creates an empty Env.
func New() *Env {
	return &Env{values: map[string]string{}}
}

// Set assigns key=value, preserving first-seen declaration order for Keys().
func (e *Env) Set(key, value string) {
	if e.values == nil {
		e.values = map[string]string{}
	}
	if _, ok := e.values[key]; !ok {
		e.keys = append(e.keys, key)
	}
	e.values[key] = value
}

// Get returns the value for key and whether it was present.
func (e *Env) Get(key string) (string, bool) {
	if e == nil {
		return "", false
	}
	v, ok := e.values[key]
	return v, ok
}

// Keys returns the keys in declaration order.
func (e *Env) Keys() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.keys))
	copy(out, e.keys)
	return out
}

// SortedKeys returns the keys in lexicographic order, the order identity
// and serialization use.
func (e *Env) SortedKeys() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.keys))
	copy(out, e.keys)
	sort.Strings(out)
	return out
}

// Len reports how many entries are present.
func (e *Env) Len() int {
	if e == nil {
		return 0
	}
	return len(e.keys)
}

// Merge returns a new Env that is the receiver overlaid by over: entries in
// over win on key collision. Declaration order in the result is the
// receiver's order, followed by any new keys from over in over's order.
func Merge(base, over *Env) *Env {
	out := New()
	for _, k := range base.Keys() {
		v, _ := base.Get(k)
		out.Set(k, v)
	}
	for _, k := range over.Keys() {
		v, _ := over.Get(k)
		out.Set(k, v)
	}
	return out
}

// ID computes the envid: the hash of entries enumerated in lexicographic
// key order, "k1\0v1\0k2\0v2\0...". Always sorted -- see the historical
// ordering-bug note in §4.2.
func (e *Env) ID() string {
	b := hashx.New(hashx.SHA256)
	for _, k := range e.SortedKeys() {
		v, _ := e.Get(k)
		b.Field(k).Field(v)
	}
	return b.Sum()
}

// AsMap returns a copy of the entries as a plain map, for passing to an
// exec.Cmd's Env or for serializing into the chroot's env file.
func (e *Env) AsMap() map[string]string {
	out := make(map[string]string, e.Len())
	for _, k := range e.Keys() {
		v, _ := e.Get(k)
		out[k] = v
	}
	return out
}

// AsSortedPairs returns "KEY=VALUE" strings in sorted key order, the format
// written into the chroot's generated `env` file by the build process.
func (e *Env) AsSortedPairs() []string {
	keys := e.SortedKeys()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		v, _ := e.Get(k)
		out = append(out, k+"="+v)
	}
	return out
}
