// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package e2err provides the engine's nestable diagnostic object.
//
// Every fallible operation in the engine returns either a value or an *Error.
// An *Error carries a category (for programmatic dispatch), a source
// location (for config-file errors), and an optional prior error so chains
// of failure can be printed in full at the top level.
package e2err

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Category classifies an error for both log formatting and for the few
// places the engine takes a different code path depending on error kind
// (e.g. distinguishing a Transport timeout from a Identity mismatch).
type Category string

const (
	Configuration Category = "configuration"
	Identity      Category = "identity"
	Transport     Category = "transport"
	SCM           Category = "scm"
	Privileged    Category = "privileged"
	Build         Category = "build"
	Resource      Category = "resource"
	Interruption  Category = "interruption"
)

// Location pinpoints a position in a configuration file.
type Location struct {
	File string
	Line int
}

func (l Location) String() string {
	if l.File == "" {
		return ""
	}
	if l.Line > 0 {
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return l.File
}

// Error is the engine's nestable diagnostic value.
type Error struct {
	Category Category
	Message  string
	Location Location
	Prior    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if loc := e.Location.String(); loc != "" {
		fmt.Fprintf(&b, "%s: ", loc)
	}
	fmt.Fprintf(&b, "[%s] %s", e.Category, e.Message)
	if e.Prior != nil {
		fmt.Fprintf(&b, ": %s", e.Prior.Error())
	}
	return b.String()
}

// Unwrap exposes the nested error to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Prior }

// New creates a new categorized error with no location.
func New(cat Category, msg string) *Error {
	return &Error{Category: cat, Message: msg}
}

// Newf creates a new categorized error with a formatted message.
func Newf(cat Category, format string, args ...any) *Error {
	return &Error{Category: cat, Message: fmt.Sprintf(format, args...)}
}

// Wrap nests err under a new categorized error, analogous to errors.Wrap but
// retaining a Category for the whole chain.
func Wrap(err error, cat Category, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Category: cat, Message: msg, Prior: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, cat Category, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Category: cat, Message: fmt.Sprintf(format, args...), Prior: err}
}

// At attaches a source location to err, constructing a new *Error if
// necessary so config-file errors always carry a position.
func At(err error, loc Location) *Error {
	if e, ok := err.(*Error); ok {
		e2 := *e
		e2.Location = loc
		return &e2
	}
	return &Error{Category: Configuration, Message: err.Error(), Location: loc}
}

// Chain renders the full nested chain, one entry per line, innermost last.
// This is what the top-level CLI logs before exiting nonzero.
func Chain(err error) string {
	var lines []string
	for err != nil {
		if e, ok := err.(*Error); ok {
			prefix := string(e.Category)
			if loc := e.Location.String(); loc != "" {
				prefix = loc + " " + prefix
			}
			lines = append(lines, fmt.Sprintf("[%s] %s", prefix, e.Message))
			err = e.Prior
		} else {
			lines = append(lines, err.Error())
			err = errors.Unwrap(err)
		}
	}
	return strings.Join(lines, "\n  caused by: ")
}

// Is reports whether err or any error in its chain is categorized as cat.
func Is(err error, cat Category) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Category == cat {
				return true
			}
			err = e.Prior
			continue
		}
		err = errors.Unwrap(err)
	}
	return false
}
