// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"strings"

	"github.com/emlix/e2factory/internal/e2err"
	"github.com/emlix/e2factory/pkg/envx"
	"github.com/emlix/e2factory/pkg/fileref"
)

// SourceType discriminates the source variants in §3/§4.5.
type SourceType string

const (
	SourceFiles   SourceType = "files"
	SourceGit     SourceType = "git"
	SourceGitRepo SourceType = "gitrepo"
	SourceSVN     SourceType = "svn"
	SourceCVS     SourceType = "cvs"
	SourceLicence SourceType = "licence"
)

// SourceSet selects which version of a source a build sees (§3, GLOSSARY).
type SourceSet string

const (
	SetTag         SourceSet = "tag"
	SetBranch      SourceSet = "branch"
	SetWorkingCopy SourceSet = "working-copy"
)

// WorkingCopySourceID is the constant literal sourceid for a source in
// working-copy mode -- it disables result caching entirely (§4.2, §3).
const WorkingCopySourceID = "working-copy"

// Source is the common shape every source variant embeds. Type-specific
// data lives in the Files/SCM fields below; exactly one is populated,
// selected by Type.
type Source struct {
	Name     string
	Type     SourceType
	Env      *envx.Env
	Licences []string // licence names referenced, in declaration order

	Files   *FilesSpec   // when Type == SourceFiles
	SCM     *SCMSpec     // when Type is git/gitrepo/svn/cvs
	Licence *LicenceSpec // when Type == SourceLicence
}

// FilesSpec is the files-source payload: an ordered list of file
// references, each with its placement action already validated onto the
// fileref.File itself.
type FilesSpec struct {
	Files []fileref.File
}

// SCMSpec is the shared payload for git/gitrepo/svn/cvs sources.
type SCMSpec struct {
	Server  string
	Location string
	Branch  string
	Tag     string
	WorkDir string // working-directory path relative to in/<source>
}

// LicenceSpec lists the results and sources whose licence texts a
// licence-source materializes (§3).
type LicenceSpec struct {
	Results []string
	Sources []string
}

// Validate checks the structural invariants from §3 common to all sources.
func (s *Source) Validate(knownLicences map[string]*Licence, kinds fileref.ChecksumKinds) error {
	if s.Name == "" {
		return e2err.New(e2err.Configuration, "source: name is required")
	}
	if strings.HasPrefix(s.Name, ".") || strings.Contains(s.Name, "..") {
		return e2err.Newf(e2err.Configuration, "source %q: invalid dotted name", s.Name)
	}
	for _, l := range s.Licences {
		if _, ok := knownLicences[l]; !ok {
			return e2err.Newf(e2err.Configuration, "source %q: references unknown licence %q", s.Name, l)
		}
	}
	switch s.Type {
	case SourceFiles:
		if s.Files == nil {
			return e2err.Newf(e2err.Configuration, "source %q: files source missing file list", s.Name)
		}
		for i, f := range s.Files.Files {
			if err := f.Validate(kinds); err != nil {
				return e2err.Wrapf(err, e2err.Configuration, "source %q: file entry %d", s.Name, i)
			}
		}
	case SourceGit, SourceGitRepo, SourceSVN, SourceCVS:
		if s.SCM == nil {
			return e2err.Newf(e2err.Configuration, "source %q: %s source missing server/location", s.Name, s.Type)
		}
		if s.SCM.Server == "" || s.SCM.Location == "" {
			return e2err.Newf(e2err.Configuration, "source %q: %s source requires server and location", s.Name, s.Type)
		}
	case SourceLicence:
		if s.Licence == nil {
			return e2err.Newf(e2err.Configuration, "source %q: licence source missing result/source references", s.Name)
		}
	default:
		return e2err.Newf(e2err.Configuration, "source %q: unknown type %q", s.Name, s.Type)
	}
	return nil
}
