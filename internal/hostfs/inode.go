// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hostfs is a reference implementation of the e2dir host
// contracts (PagedIO, InodeService, QuotaService, NameCache,
// SymlinkStore, SuperBlock), backing each directory inode with a
// regular file on the local filesystem. It exists for tests and for
// cmd/e2dirdump; it is not a mountable filesystem of its own.
package hostfs

import (
	"sync"
	"sync/atomic"
	"time"
)

// Inode is hostfs's implementation of e2dir.InodeRef. One Inode backs
// one directory; its data lives in a single backing file managed by
// the owning FS.
type Inode struct {
	fs *FS

	ino  uint64
	mode uint32

	mu         sync.Mutex
	size       uint64
	linkCount  uint32
	version    uint64
	lookupHint uint64
	blockCount uint64
	btree      bool
	ctime      time.Time
	mtime      time.Time
}

func (n *Inode) Ino() uint64 { return n.ino }

func (n *Inode) Size() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.size
}

func (n *Inode) SetSize(sz uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.size = sz
	n.blockCount = (sz + 511) / 512
}

func (n *Inode) Mode() uint32 { return n.mode }

func (n *Inode) LinkCount() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.linkCount
}

func (n *Inode) SetLinkCount(c uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.linkCount = c
}

func (n *Inode) Version() uint64 {
	return atomic.LoadUint64(&n.version)
}

// BumpVersion must be called with the mutated page's lock held (spec
// §5.3); hostfs doesn't police that, it trusts e2dir.
func (n *Inode) BumpVersion() uint64 {
	return atomic.AddUint64(&n.version, 1)
}

func (n *Inode) LookupHint() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lookupHint
}

func (n *Inode) SetLookupHint(h uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lookupHint = h
}

func (n *Inode) BlockCount() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.blockCount
}

func (n *Inode) ClearBtree() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.btree = false
}

func (n *Inode) TouchCtime() {
	n.mu.Lock()
	n.ctime = n.fs.now()
	n.mu.Unlock()
	n.fs.stampTimes(n.ino)
}

func (n *Inode) TouchMtime() {
	n.mu.Lock()
	n.mtime = n.fs.now()
	n.mu.Unlock()
	n.fs.stampTimes(n.ino)
}

// Ctime and Mtime are hostfs additions, not part of e2dir.InodeRef;
// they let a caller check that TouchCtime/TouchMtime fired.
func (n *Inode) Ctime() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ctime
}

func (n *Inode) Mtime() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mtime
}
