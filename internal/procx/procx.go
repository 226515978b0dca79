// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package procx abstracts child-process execution behind one seam, modeled
// on the teacher's pkg/build/local.CommandExecutor. Every place the engine
// shells out -- SCM drivers, rsync/scp transports, the privileged chroot
// helper, the result build script -- goes through this interface so it can
// be faked in tests without touching the real process table.
package procx

import (
	"context"
	"io"
	"os/exec"
)

// Options configures a single command invocation.
type Options struct {
	// Input provides stdin to the command, if non-nil.
	Input io.Reader
	// Output streams combined stdout/stderr, if non-nil.
	Output io.Writer
	// Dir is the working directory for the command.
	Dir string
	// Env, if non-nil, replaces the inherited environment entirely --
	// used by the privileged helper, which must clear its environment
	// before exec'ing the underlying tool (§4.7).
	Env []string
}

// Executor abstracts process execution for testability.
type Executor interface {
	// Run executes name with args under opts, blocking until completion.
	Run(ctx context.Context, opts Options, name string, args ...string) error
	// LookPath reports whether an executable is available on PATH.
	LookPath(name string) (string, error)
}

// Real executes commands via os/exec.
type Real struct{}

// NewReal returns the real, os/exec-backed Executor.
func NewReal() Executor { return Real{} }

func (Real) Run(ctx context.Context, opts Options, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if opts.Input != nil {
		cmd.Stdin = opts.Input
	}
	if opts.Output != nil {
		cmd.Stdout = opts.Output
		cmd.Stderr = opts.Output
	}
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	return cmd.Run()
}

func (Real) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

var _ Executor = Real{}
