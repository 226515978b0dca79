// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package hashx provides the incremental hash engine underlying every
// identity computation in the engine (fileid, envid, licenceid,
// chrootgroupid, sourceid, buildid). All of these are, at bottom, a hash
// over an ordered sequence of byte strings; this package pins that
// encoding in one place so every identity function agrees on it.
package hashx

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Kind selects the underlying digest algorithm.
type Kind int

const (
	SHA1 Kind = iota
	SHA256
)

func (k Kind) new() hash.Hash {
	switch k {
	case SHA256:
		return sha256.New()
	default:
		return sha1.New()
	}
}

// Builder accumulates an ordered sequence of fields into a single digest.
// Each field is separated by a NUL byte, matching the project's documented
// "k1\0v1\0k2\0v2\0..." encoding (§4.2) so that identity computations
// across the codebase are bit-for-bit reproducible from the same inputs.
type Builder struct {
	h hash.Hash
	n int
}

// New starts a new Builder using the given digest kind.
func New(k Kind) *Builder {
	return &Builder{h: k.new()}
}

// Field appends one field to the sequence.
func (b *Builder) Field(s string) *Builder {
	if b.n > 0 {
		b.h.Write([]byte{0})
	}
	b.h.Write([]byte(s))
	b.n++
	return b
}

// Fields appends a list of fields in order.
func (b *Builder) Fields(ss ...string) *Builder {
	for _, s := range ss {
		b.Field(s)
	}
	return b
}

// Bytes appends raw bytes as a single field, useful for embedding another
// identity's raw digest rather than its hex form.
func (b *Builder) Bytes(p []byte) *Builder {
	if b.n > 0 {
		b.h.Write([]byte{0})
	}
	b.h.Write(p)
	b.n++
	return b
}

// Sum returns the lowercase hex digest of the fields written so far.
func (b *Builder) Sum() string {
	return hex.EncodeToString(b.h.Sum(nil))
}

// SumID returns the same bare hex digest as Sum; kind is not included in
// the result.
func (b *Builder) SumID(kind Kind) string {
	return b.Sum()
}

// SHA1Hex returns the sha1 hex digest of r's content.
func SHA1Hex(r io.Reader) (string, error) {
	h := sha1.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SHA256Hex returns the sha256 hex digest of r's content.
func SHA256Hex(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SHA1HexBytes returns the sha1 hex digest of p.
func SHA1HexBytes(p []byte) string {
	h := sha1.Sum(p)
	return hex.EncodeToString(h[:])
}

// SHA256HexBytes returns the sha256 hex digest of p.
func SHA256HexBytes(p []byte) string {
	h := sha256.Sum256(p)
	return hex.EncodeToString(h[:])
}

// ValidHex reports whether s looks like a hex digest of the given byte
// length (20 for sha1, 32 for sha256).
func ValidHex(s string, byteLen int) bool {
	if len(s) != byteLen*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
