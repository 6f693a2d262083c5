// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hostfs

import (
	"fmt"
	"sync"

	"github.com/go-ext2fs/e2dir/e2dir"
)

// Inodes is hostfs's InodeService: it allocates a backing file per
// inode and tracks them by number so Iget can find them again.
type Inodes struct {
	fs *FS
}

func (fs *FS) InodeService() *Inodes { return &Inodes{fs: fs} }

func (s *Inodes) NewInode(parent e2dir.InodeRef, mode uint32, name string) (e2dir.InodeRef, error) {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()
	n, err := s.fs.newInodeLocked(mode)
	if err != nil {
		return nil, err
	}
	n.linkCount = 1
	return n, nil
}

func (s *Inodes) Iget(ino e2dir.Ino) (e2dir.InodeRef, error) {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()
	n, ok := s.fs.inodes[ino]
	if !ok {
		return nil, e2dir.ENOENT
	}
	return n, nil
}

func (s *Inodes) IncLink(ref e2dir.InodeRef) {
	n := ref.(*Inode)
	n.mu.Lock()
	n.linkCount++
	n.mu.Unlock()
}

func (s *Inodes) DecLink(ref e2dir.InodeRef) {
	n := ref.(*Inode)
	n.mu.Lock()
	if n.linkCount > 0 {
		n.linkCount--
	}
	n.mu.Unlock()
}

func (s *Inodes) MarkDirty(e2dir.InodeRef) {}

// Quota is a no-op QuotaService: hostfs tracks no disk-usage limits.
type Quota struct{}

func (Quota) Initialize(e2dir.InodeRef) error { return nil }

// Names records the splice/instantiate/tmpfile calls namei makes, so
// tests can assert on them without a real dentry cache.
type Names struct {
	mu      sync.Mutex
	Spliced []SpliceCall
	Named   []NameCall
	Tmp     []e2dir.InodeRef
}

type SpliceCall struct {
	Inode e2dir.InodeRef
	Name  string
}

type NameCall struct {
	Inode e2dir.InodeRef
	Name  string
}

func (n *Names) SpliceAlias(inode e2dir.InodeRef, name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Spliced = append(n.Spliced, SpliceCall{inode, name})
}

func (n *Names) Instantiate(inode e2dir.InodeRef, name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Named = append(n.Named, NameCall{inode, name})
}

func (n *Names) Tmpfile(inode e2dir.InodeRef) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Tmp = append(n.Tmp, inode)
}

// Symlinks stores symlink targets in memory, inline vs paged exactly
// as the real inode would route them, keyed by inode number.
type Symlinks struct {
	mu     sync.Mutex
	inline map[uint64]string
	paged  map[uint64]string
}

func NewSymlinks() *Symlinks {
	return &Symlinks{inline: map[uint64]string{}, paged: map[uint64]string{}}
}

func (s *Symlinks) WriteInline(inode e2dir.InodeRef, target string) error {
	if len(target)+1 > e2dir.SymlinkInlineMax {
		return fmt.Errorf("hostfs: target too long for inline storage: %d bytes", len(target))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inline[inode.Ino()] = target
	return nil
}

func (s *Symlinks) WritePage(inode e2dir.InodeRef, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paged[inode.Ino()] = target
	return nil
}

// Readlink returns the target stored for ino, wherever it was routed.
func (s *Symlinks) Readlink(ino uint64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.inline[ino]; ok {
		return t, true
	}
	t, ok := s.paged[ino]
	return t, ok
}
