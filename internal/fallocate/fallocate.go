// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fallocate preallocates backing-file bytes for a fresh
// directory chunk, matching the posix_fallocate semantics the kernel
// directory code relies on to avoid writing into a sparse hole one
// page at a time.
package fallocate

// Fallocate preallocates [off, off+len) of the file backing fd. mode
// is the platform fallocate mode word (0 for the default "allocate
// and zero-fill" behaviour used by every caller in this module).
func Fallocate(fd int, mode uint32, off int64, len int64) error {
	return fallocate(fd, mode, off, len)
}
