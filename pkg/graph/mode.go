// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package graph implements the dependency graph and build scheduler
// (component K): transitive closure over result dependencies, cycle
// detection, a stable topological order, build-mode propagation down to
// sources, and buildid collision detection across the computed build set.
package graph

import "github.com/emlix/e2factory/pkg/model"

// BuildMode selects which sourceset a result's sources resolve to (§6
// --build-mode and its aliases).
type BuildMode string

const (
	ModeRelease     BuildMode = "release"
	ModeTag         BuildMode = "tag"
	ModeBranch      BuildMode = "branch"
	ModeWorkingCopy BuildMode = "working-copy"
)

// SourceSet maps a BuildMode to the model.SourceSet a driver materializes.
// "release" and "tag" both resolve sources in tag mode; release additionally
// implies stricter remote-tag verification at the caller's discretion (§6
// --check-remote), which this package does not itself decide.
func (m BuildMode) SourceSet() model.SourceSet {
	switch m {
	case ModeBranch:
		return model.SetBranch
	case ModeWorkingCopy:
		return model.SetWorkingCopy
	default:
		return model.SetTag
	}
}
