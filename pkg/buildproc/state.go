// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package buildproc implements the build process pipeline (component L):
// the fixed, plugin-extensible sequence of named steps that turns one
// scheduled result into a stored, content-addressed tarball, plus the
// per-result build state machine (§4.6).
package buildproc

// State is one node in the per-result build state machine (§4.6):
//
//	pending -> ready -> chroot-prepared -> built -> stored -> cleaned
//
// with a transition to failed from any state, which always triggers
// teardown unless the keep option is set.
type State string

const (
	StatePending        State = "pending"
	StateReady          State = "ready"
	StateChrootPrepared State = "chroot-prepared"
	StateBuilt          State = "built"
	StateStored         State = "stored"
	StateCleaned        State = "cleaned"
	StateFailed         State = "failed"
)

// Transition describes one state change for a result build. The pipeline
// in this package does not record transitions.
type Transition struct {
	Result string
	From   State
	To     State
}
