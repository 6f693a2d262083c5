// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package e2dir

import "syscall"

// Errno is the only error type the engine and namespace layers
// return, matching the teacher's "all error reporting must use the
// syscall.Errno type" convention (fs/api.go).
type Errno = syscall.Errno

// OK indicates success; identical in spirit to the teacher's fs.OK.
const OK Errno = 0

// Named errno values for the taxonomy in spec §7. These are the only
// errors this module's public API returns.
const (
	ENOENT       = Errno(syscall.ENOENT)
	EEXIST       = Errno(syscall.EEXIST)
	ENOTEMPTY    = Errno(syscall.ENOTEMPTY)
	ENAMETOOLONG = Errno(syscall.ENAMETOOLONG)
	EIO          = Errno(syscall.EIO)
	ENOSPC       = Errno(syscall.ENOSPC)
	EXDEV        = Errno(syscall.EXDEV)
)

// AsErrno normalizes an error from a host collaborator (PagedIO,
// InodeService, QuotaService) to the Errno taxonomy this package
// promises to return. A host that already returns Errno (e.g. ENOSPC
// from a block allocator refusing to extend) passes through
// unchanged; anything else becomes EIO. namei uses this at every
// boundary crossing into a host collaborator for the same reason the
// engine does.
func AsErrno(err error) Errno {
	if err == nil {
		return OK
	}
	if errno, ok := err.(Errno); ok {
		return errno
	}
	return EIO
}

// asErrno is the engine's own unexported spelling of AsErrno.
func asErrno(err error) Errno { return AsErrno(err) }
