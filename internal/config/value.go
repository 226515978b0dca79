// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package config implements the sandboxed configuration-file evaluator
// (component D): a hand-written tokenizer and restricted-grammar parser for
// the declarative builder syntax project/source/result/chroot/licence/
// environment files use, in the same direct-parser spirit as the pack's
// pkg/ini rather than embedding a general-purpose scripting language.
package config

import (
	"fmt"
	"sort"

	"github.com/emlix/e2factory/internal/e2err"
)

// Kind discriminates the dynamically-typed values a config file can build.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindList
	KindDict
)

// Value is the restricted value type the evaluator produces: strings,
// numbers, booleans, ordered lists, and ordered dictionaries. There is no
// function, filesystem, or process value -- those are exactly the
// capabilities the sandbox withholds (§4.1).
type Value struct {
	Kind Kind
	Str  string
	Num  float64
	Bool bool
	List []Value
	Dict *Dict
}

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return fmt.Sprintf("%g", v.Num)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindList:
		return fmt.Sprintf("<list len=%d>", len(v.List))
	case KindDict:
		return fmt.Sprintf("<dict keys=%d>", len(v.Dict.Keys))
	default:
		return "<invalid>"
	}
}

// StringList coerces a KindList of strings into a []string, erroring if any
// element isn't a string.
func (v Value) StringList() ([]string, error) {
	if v.Kind != KindList {
		return nil, fmt.Errorf("expected a list, got %s", v.String())
	}
	out := make([]string, 0, len(v.List))
	for _, e := range v.List {
		if e.Kind != KindString {
			return nil, fmt.Errorf("expected list of strings, found %s", e.String())
		}
		out = append(out, e.Str)
	}
	return out, nil
}

// Dict is an insertion-ordered string-keyed map -- declaration order in a
// config file is part of the identity contract (§4.2), so a plain Go map
// alone would lose it.
type Dict struct {
	Keys   []string
	Values map[string]Value
}

// NewDict creates an empty ordered dictionary.
func NewDict() *Dict {
	return &Dict{Values: make(map[string]Value)}
}

// Set assigns key=val, appending key to the order on first assignment and
// leaving order unchanged (but updating the value) on reassignment.
func (d *Dict) Set(key string, val Value) {
	if _, exists := d.Values[key]; !exists {
		d.Keys = append(d.Keys, key)
	}
	d.Values[key] = val
}

// Get returns the value for key and whether it was present.
func (d *Dict) Get(key string) (Value, bool) {
	v, ok := d.Values[key]
	return v, ok
}

// GetString returns a string field, or an error if absent or non-string.
func (d *Dict) GetString(key string) (string, error) {
	v, ok := d.Get(key)
	if !ok {
		return "", e2err.Newf(e2err.Configuration, "missing required key %q", key)
	}
	if v.Kind != KindString {
		return "", e2err.Newf(e2err.Configuration, "key %q must be a string, got %s", key, v.String())
	}
	return v.Str, nil
}

// GetStringOr returns a string field or def if absent.
func (d *Dict) GetStringOr(key, def string) string {
	v, ok := d.Get(key)
	if !ok || v.Kind != KindString {
		return def
	}
	return v.Str
}

// GetBoolOr returns a bool field or def if absent.
func (d *Dict) GetBoolOr(key string, def bool) bool {
	v, ok := d.Get(key)
	if !ok || v.Kind != KindBool {
		return def
	}
	return v.Bool
}

// GetStringList returns a list-of-strings field, treating an absent key as
// an empty list.
func (d *Dict) GetStringList(key string) ([]string, error) {
	v, ok := d.Get(key)
	if !ok {
		return nil, nil
	}
	return v.StringList()
}

// SortedKeys returns d's keys sorted lexicographically, independent of
// declaration order -- useful where the identity contract calls for sorted
// rather than declared order (e.g. envid, §4.2).
func (d *Dict) SortedKeys() []string {
	out := append([]string(nil), d.Keys...)
	sort.Strings(out)
	return out
}
