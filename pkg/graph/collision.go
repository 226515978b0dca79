// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import "github.com/emlix/e2factory/internal/e2err"

// BuildIDRegistry tracks which result produced which buildid across a build
// set, so a collision -- two distinct results' inputs hashing to the same
// id -- surfaces as the fatal invariant breach §4.3 step 5 calls for,
// instead of silently letting one clobber the other's cache entry.
type BuildIDRegistry struct {
	byID map[string]string // buildid -> result name that first claimed it
}

// NewBuildIDRegistry creates an empty registry.
func NewBuildIDRegistry() *BuildIDRegistry {
	return &BuildIDRegistry{byID: map[string]string{}}
}

// Claim registers id as belonging to result. A second, different result
// claiming the same id is a collision and returns an Identity error; the
// same result claiming the same id twice (e.g. recomputed during a retry)
// is not an error.
func (reg *BuildIDRegistry) Claim(result, id string) error {
	if owner, ok := reg.byID[id]; ok {
		if owner != result {
			return e2err.Newf(e2err.Identity, "buildid collision: %q and %q both hash to %s", owner, result, id)
		}
		return nil
	}
	reg.byID[id] = result
	return nil
}
