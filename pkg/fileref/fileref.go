// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package fileref implements the File reference value: an immutable
// (server, location, checksum) triple plus its derived fileid, as specified
// in §3 and §4.2.
package fileref

import (
	"io"

	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/internal/hashx"
	"github.com/emlix/e2factory/internal/locator"
)

// File is an immutable reference to a piece of content addressable on a
// server. Either SHA256 or SHA1 (or both) may be set; at least one is
// required unless Server is the in-project server, in which case the
// engine computes both from the bytes on disk.
type File struct {
	Server   string
	Location string
	SHA1     string // 40 hex chars, optional
	SHA256   string // 64 hex chars, optional

	// HashUpdate, if set, means the checksum is recomputed from the actual
	// bytes on every access and the owning config file is rewritten with
	// the observed value -- the one config-rewriting side effect the
	// engine performs (§9 design notes).
	HashUpdate bool

	// Unpack/Copy/Patch select the single placement action for a files-type
	// source entry. Exactly one is set; PatchStrip is only meaningful when
	// Patch is true.
	Unpack     bool
	Copy       bool
	Patch      bool
	PatchStrip int
}

// Ref returns the (server, location) locator for this file.
func (f File) Ref() locator.Ref {
	return locator.Ref{Server: f.Server, Location: f.Location}
}

// Validate checks the structural invariants from §3: exactly one of
// unpack/copy/patch, and a checksum present unless the server is "in
// project" (where the engine computes one locally).
func (f File) Validate(enabledKinds ChecksumKinds) error {
	nactions := 0
	if f.Unpack {
		nactions++
	}
	if f.Copy {
		nactions++
	}
	if f.Patch {
		nactions++
	}
	if nactions != 1 {
		return e2err.Newf(e2err.Configuration,
			"file %s: exactly one of unpack/copy/patch must be set, got %d", f.Ref(), nactions)
	}
	if f.Server == locator.InProjectServer {
		return nil
	}
	if f.SHA256 == "" && f.SHA1 == "" {
		return e2err.Newf(e2err.Identity, "file %s: missing required checksum", f.Ref())
	}
	if f.SHA256 != "" && enabledKinds.SHA256 && !hashx.ValidHex(f.SHA256, 32) {
		return e2err.Newf(e2err.Configuration, "file %s: malformed sha256 %q", f.Ref(), f.SHA256)
	}
	if f.SHA1 != "" && enabledKinds.SHA1 && !hashx.ValidHex(f.SHA1, 20) {
		return e2err.Newf(e2err.Configuration, "file %s: malformed sha1 %q", f.Ref(), f.SHA1)
	}
	return nil
}

// ChecksumKinds is the project-wide set of enabled checksum algorithms.
type ChecksumKinds struct {
	SHA1   bool
	SHA256 bool
}

// ByteSource supplies the raw bytes behind a File reference, used to
// compute a local checksum for in-project files and to verify/update a
// hashupdate file. Implementations: the cache layer (for any server) or a
// direct project-root filesystem reader (for the "." server).
type ByteSource interface {
	Open(ref locator.Ref) (io.ReadCloser, error)
}

// Verify checks that the actual bytes behind the reference match the
// configured checksum(s), returning an Identity error on mismatch (§4.4,
// §8 property 5). If no checksum is configured (only possible for
// in-project files), it computes and returns one without erroring.
func Verify(f File, src ByteSource) (sha1, sha256 string, err error) {
	rc, oerr := src.Open(f.Ref())
	if oerr != nil {
		return "", "", e2err.Wrapf(oerr, e2err.Transport, "opening %s", f.Ref())
	}
	defer rc.Close()
	h1 := hashx.New(hashx.SHA1)
	h256 := hashx.New(hashx.SHA256)
	mw := io.MultiWriter(hashWriter{h1}, hashWriter{h256})
	if _, cerr := io.Copy(mw, rc); cerr != nil {
		return "", "", e2err.Wrapf(cerr, e2err.Transport, "reading %s", f.Ref())
	}
	sha1 = h1.Sum()
	sha256 = h256.Sum()
	if f.SHA256 != "" && f.SHA256 != sha256 {
		return "", "", e2err.Newf(e2err.Identity, "checksum mismatch for %s: configured sha256 %s, got %s", f.Ref(), f.SHA256, sha256)
	}
	if f.SHA1 != "" && f.SHA1 != sha1 {
		return "", "", e2err.Newf(e2err.Identity, "checksum mismatch for %s: configured sha1 %s, got %s", f.Ref(), f.SHA1, sha1)
	}
	return sha1, sha256, nil
}

// hashWriter adapts *hashx.Builder to io.Writer for use with io.MultiWriter.
type hashWriter struct{ b *hashx.Builder }

func (h hashWriter) Write(p []byte) (int, error) {
	h.b.Bytes(p)
	return len(p), nil
}

// ID computes the fileid: the checksum to use (sha256 if present, else
// sha1, else a freshly computed local hash) combined with the location, as
// specified in §4.2. src is consulted only when neither checksum is
// configured, which §3 only permits for the in-project server.
func ID(f File, src ByteSource) (string, error) {
	checksum := f.SHA256
	if checksum == "" {
		checksum = f.SHA1
	}
	if checksum == "" {
		if f.Server != locator.InProjectServer {
			return "", e2err.Newf(e2err.Identity, "file %s: no checksum configured and server is not in-project", f.Ref())
		}
		sha1, sha256, err := Verify(f, src)
		if err != nil {
			return "", err
		}
		checksum = sha256
		if checksum == "" {
			checksum = sha1
		}
	}
	return hashx.New(hashx.SHA256).Field(checksum).Field(f.Location).Sum(), nil
}
