// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This repository implements the on-disk directory subsystem of a
// second-extended-style UNIX filesystem: the chunk codec, the
// page-cache-backed directory engine, and the namespace operations
// built on top of it.
//
// The core library lives in three packages:
//
//   - github.com/go-ext2fs/e2dir/dirent: pure encode/decode of
//     directory records within a fixed-size chunk.
//   - github.com/go-ext2fs/e2dir/e2dir: the page accessor and
//     directory engine (iterate, find, insert, delete, set-link,
//     make-empty, empty-test, dotdot), and the contracts it expects
//     from a host inode/superblock/paged-cache layer.
//   - github.com/go-ext2fs/e2dir/namei: lookup/create/link/unlink/
//     mkdir/rmdir/rename/symlink composed over the engine.
//
// internal/hostfs is a reference implementation of the host contracts
// backed by plain files, one per inode, used by the package tests and by
// cmd/e2dirdump; it is not part of the public API.
package lib
