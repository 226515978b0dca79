// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/emlix/e2factory/internal/locator"
)

// lockTable serializes fetches of the same (server, location) both within
// this process and across processes sharing the same cache directory, in
// both cases through one exclusive lockfile per entry, satisfying §8
// property 6 and the resource-management contract in §5.
type lockTable struct {
	dir string
}

func newLockTable(cacheDir string) *lockTable {
	return &lockTable{dir: filepath.Join(cacheDir, ".locks")}
}

// Lock acquires the lock for ref, blocking (subject to ctx) until held, and
// returns a function to release it.
func (t *lockTable) Lock(ctx context.Context, ref locator.Ref) (func(), error) {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(t.dir, sanitize(ref.Server)+"__"+sanitize(ref.Location)+".lock")
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return func() {
				f.Close()
				os.Remove(path)
			}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
