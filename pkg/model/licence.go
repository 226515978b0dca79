// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/internal/hashx"
	"github.com/emlix/e2factory/pkg/fileref"
)

// Licence is a named, ordered list of file references whose text
// constitutes the licence (§3).
type Licence struct {
	Name  string
	Files []fileref.File

	// fileIDs is populated by Resolve once the byte source is available;
	// ID() uses it rather than recomputing fileids on every call.
	fileIDs []string
}

// Resolve computes and caches each file's fileid against src.
func (l *Licence) Resolve(src fileref.ByteSource) error {
	l.fileIDs = make([]string, len(l.Files))
	for i, f := range l.Files {
		id, err := fileref.ID(f, src)
		if err != nil {
			return e2err.Wrapf(err, e2err.Identity, "resolving licence %q file %d", l.Name, i)
		}
		l.fileIDs[i] = id
	}
	return nil
}

// ID computes licenceid = hash(name, fileid[0], fileid[1], ...) (§4.2).
// Resolve must have been called first.
func (l *Licence) ID() string {
	b := hashx.New(hashx.SHA256).Field(l.Name)
	for _, id := range l.fileIDs {
		b.Field(id)
	}
	return b.Sum()
}
