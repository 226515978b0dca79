// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package buildproc

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/emlix/e2factory/internal/e2err"
)

// packResult walks srcDir and writes a deterministic, uncompressed tar
// archive to tarPath: members in lexicographic path order, no leading "./"
// (§6 "Result tarball format"), zeroed timestamps so two builds with
// byte-identical content always produce a byte-identical tarball.
//
// The ordering fix is the same one the teacher applies to its own tar
// output (pkg/stabilize/tar.go's StableTarFileOrder): sort entries by name
// with a plain byte-wise compare rather than relying on directory walk
// order, which varies by filesystem.
func packResult(srcDir, tarPath string) error {
	type entry struct {
		relPath string
		absPath string
		info    os.FileInfo
	}
	var entries []entry
	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == srcDir {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		entries = append(entries, entry{relPath: filepath.ToSlash(rel), absPath: path, info: info})
		return nil
	})
	if err != nil {
		return e2err.Wrapf(err, e2err.Resource, "walking %s", srcDir)
	}
	sort.Slice(entries, func(i, j int) bool {
		return strings.Compare(entries[i].relPath, entries[j].relPath) < 0
	})

	out, err := os.Create(tarPath)
	if err != nil {
		return e2err.Wrapf(err, e2err.Resource, "creating %s", tarPath)
	}
	defer out.Close()
	tw := tar.NewWriter(out)
	for _, e := range entries {
		hdr, err := tar.FileInfoHeader(e.info, "")
		if err != nil {
			return e2err.Wrapf(err, e2err.Build, "building tar header for %s", e.relPath)
		}
		hdr.Name = e.relPath
		if e.info.IsDir() {
			hdr.Name += "/"
		}
		hdr.ModTime = time.UnixMilli(0)
		hdr.AccessTime = time.Time{}
		hdr.ChangeTime = time.Time{}
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "", ""
		if err := tw.WriteHeader(hdr); err != nil {
			return e2err.Wrapf(err, e2err.Build, "writing tar header for %s", e.relPath)
		}
		if e.info.Mode().IsRegular() {
			if err := copyFileInto(tw, e.absPath); err != nil {
				return err
			}
		}
	}
	if err := tw.Close(); err != nil {
		return e2err.Wrapf(err, e2err.Build, "closing tar writer")
	}
	return nil
}

// extractTarFile unpacks the uncompressed tar at tarPath into destDir, used
// to install a dependency's already-built result tarball under
// /tmp/e2/dep/<name>/ (§4.6 step 4). Unlike chroot-group tarballs, this
// content was produced by a prior build in this same cache and needs no
// privileged extraction -- fix_permissions (step 8) chowns it along with
// everything else under /tmp/e2.
func extractTarFile(tarPath, destDir string) error {
	f, err := os.Open(tarPath)
	if err != nil {
		return e2err.Wrapf(err, e2err.Resource, "opening %s", tarPath)
	}
	defer f.Close()
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return e2err.Wrapf(err, e2err.Build, "reading tar entry from %s", tarPath)
		}
		target := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return e2err.Wrapf(err, e2err.Resource, "creating %s", target)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return e2err.Wrapf(err, e2err.Resource, "creating %s", filepath.Dir(target))
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return e2err.Wrapf(err, e2err.Resource, "creating %s", target)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return e2err.Wrapf(err, e2err.Build, "writing %s", target)
			}
			out.Close()
		case tar.TypeSymlink:
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return e2err.Wrapf(err, e2err.Resource, "creating symlink %s", target)
			}
		}
	}
}

func copyFileInto(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return e2err.Wrapf(err, e2err.Resource, "opening %s", path)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return e2err.Wrapf(err, e2err.Build, "copying %s into tar", path)
	}
	return nil
}

// appendGzipMember adds logPath to the tar at tarPath as a gzip-compressed
// member, appending after packResult already wrote the output tree (§6:
// "The compressed build log is included as a member").
func appendGzipMember(tarPath, logPath, memberName string, compress func(dst io.Writer, src io.Reader) error) error {
	f, err := os.OpenFile(tarPath, os.O_RDWR, 0o644)
	if err != nil {
		return e2err.Wrapf(err, e2err.Resource, "opening %s to append log", tarPath)
	}
	defer f.Close()
	// Seek past the two 512-byte zero blocks tar.Writer.Close wrote, so the
	// new member is appended before the end-of-archive marker.
	if _, err := f.Seek(-1024, io.SeekEnd); err != nil {
		return e2err.Wrapf(err, e2err.Build, "seeking to append position in %s", tarPath)
	}
	tw := tar.NewWriter(f)
	log, err := os.Open(logPath)
	if err != nil {
		return e2err.Wrapf(err, e2err.Resource, "opening build log %s", logPath)
	}
	defer log.Close()

	var buf strings.Builder
	if err := compress(&buf, log); err != nil {
		return e2err.Wrapf(err, e2err.Build, "compressing build log")
	}
	data := buf.String()
	hdr := &tar.Header{
		Name:     memberName,
		Mode:     0o644,
		Size:     int64(len(data)),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return e2err.Wrapf(err, e2err.Build, "writing log member header")
	}
	if _, err := tw.Write([]byte(data)); err != nil {
		return e2err.Wrapf(err, e2err.Build, "writing log member content")
	}
	return tw.Close()
}
