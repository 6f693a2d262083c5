// Copyright 2016 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package utimens packs timestamps for a Futimes call, the same
// helper the teacher keeps for applying an inode's mtime/ctime to its
// backing file. Adapted here to golang.org/x/sys/unix.Timeval (which
// is already correctly sized per platform) instead of the teacher's
// own syscall.Timeval plus fuse.Attr fallback, since this module has
// no fuse.Attr type to fall back to.
package utimens

import (
	"time"

	"golang.org/x/sys/unix"
)

func timeToTimeval(t time.Time) unix.Timeval {
	return unix.NsecToTimeval(t.UnixNano())
}

// Fill packs a and m into a two-element []unix.Timeval suitable for
// unix.Futimes, substituting now for whichever of a, m is nil.
func Fill(a, m *time.Time, now time.Time) []unix.Timeval {
	if a == nil {
		a = &now
	}
	if m == nil {
		m = &now
	}
	return []unix.Timeval{timeToTimeval(*a), timeToTimeval(*m)}
}
