// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/internal/hashx"
	"github.com/emlix/e2factory/pkg/fileref"
)

// ChrootGroup is a named, ordered list of tarball file references that
// compose part of a build chroot (§3).
type ChrootGroup struct {
	Name    string
	Default bool // membership-by-default flag
	Files   []fileref.File

	fileIDs []string
}

// Resolve computes and caches each file's fileid against src.
func (g *ChrootGroup) Resolve(src fileref.ByteSource) error {
	g.fileIDs = make([]string, len(g.Files))
	for i, f := range g.Files {
		id, err := fileref.ID(f, src)
		if err != nil {
			return e2err.Wrapf(err, e2err.Identity, "resolving chroot group %q file %d", g.Name, i)
		}
		g.fileIDs[i] = id
	}
	return nil
}

// ID computes chrootgroupid = hash(group-name, fileid[0], ...) (§4.2).
func (g *ChrootGroup) ID() string {
	b := hashx.New(hashx.SHA256).Field(g.Name)
	for _, id := range g.fileIDs {
		b.Field(id)
	}
	return b.Sum()
}
