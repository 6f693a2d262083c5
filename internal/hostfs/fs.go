// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hostfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/go-ext2fs/e2dir/e2dir"
	"github.com/go-ext2fs/e2dir/internal/fallocate"
	"github.com/go-ext2fs/e2dir/internal/openat"
	"github.com/go-ext2fs/e2dir/internal/utimens"
)

// FS is a small standalone directory filesystem: every Inode it hands
// out is backed by its own regular file under Root, named by inode
// number. It implements every host contract e2dir and namei need.
type FS struct {
	Root   string
	Params e2dir.Params

	mu        sync.Mutex
	rootFd    int
	nextIno   uint64
	inodesCnt uint32
	inodes    map[uint64]*Inode
	files     map[uint64]*os.File

	// clock lets tests pin time.Now(); nil means use the real clock.
	clock func() time.Time
}

// NewFS creates a reference host rooted at dir, which must already
// exist and be empty. inodesCount bounds sb.InodesCount() for the
// page-validation inode-bounds check (spec §4.B). Every backing file
// is subsequently opened relative to dir's fd via openat, mirroring
// the teacher's own root-fd-relative opens in fs/loopback_linux.go.
func NewFS(dir string, params e2dir.Params, inodesCount uint32) (*FS, error) {
	rootFd, err := unix.Open(dir, unix.O_DIRECTORY|unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return &FS{
		Root:      dir,
		Params:    params,
		rootFd:    rootFd,
		nextIno:   1,
		inodesCnt: inodesCount,
		inodes:    make(map[uint64]*Inode),
		files:     make(map[uint64]*os.File),
	}, nil
}

func (fs *FS) now() time.Time {
	if fs.clock != nil {
		return fs.clock()
	}
	return time.Now()
}

func (fs *FS) path(ino uint64) string {
	return filepath.Join(fs.Root, fs.relname(ino))
}

func (fs *FS) relname(ino uint64) string {
	return fmt.Sprintf("ino.%d", ino)
}

// NewDirInode allocates a fresh, empty inode for use as a directory
// root in tests; it does not go through InodeService.NewInode since
// that requires a parent.
func (fs *FS) NewDirInode(mode uint32) (*Inode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.newInodeLocked(mode)
}

func (fs *FS) newInodeLocked(mode uint32) (*Inode, error) {
	ino := fs.nextIno
	fs.nextIno++

	fd, err := openat.OpenatNofollow(fs.rootFd, fs.relname(ino), unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0600)
	if err != nil {
		return nil, err
	}
	f := os.NewFile(uintptr(fd), fs.path(ino))
	n := &Inode{fs: fs, ino: ino, mode: mode, linkCount: 0}
	fs.inodes[ino] = n
	fs.files[ino] = f
	return n, nil
}

func (fs *FS) fileFor(ino uint64) (*os.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[ino]
	if !ok {
		return nil, unix.ENOENT
	}
	return f, nil
}

// ReadPage implements e2dir.PagedIO: it reads the page through, never
// from a cache layer, since the reference host's "cache" is just the
// Page struct the caller is already holding.
func (fs *FS) ReadPage(dir e2dir.InodeRef, index uint64) (*e2dir.Page, error) {
	f, err := fs.fileFor(dir.Ino())
	if err != nil {
		return nil, err
	}
	buf := make([]byte, fs.Params.PageSize)
	off := int64(index) * int64(fs.Params.PageSize)
	n, err := f.ReadAt(buf, off)
	if err != nil && n == 0 && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &e2dir.Page{Index: index, Bytes: buf}, nil
}

// PutPage implements e2dir.PagedIO. hostfs pages aren't refcounted or
// cached beyond the call that fetched them, so this is a no-op; it
// exists so callers keep to the acquire/release discipline the real
// page cache requires.
func (fs *FS) PutPage(p *e2dir.Page) {}

// PrepareChunk implements e2dir.PagedIO: it ensures the backing file
// is at least pos+length bytes, growing it with Fallocate when
// possible so the directory's block count reflects real usage instead
// of a sparse-file illusion.
func (fs *FS) PrepareChunk(dir e2dir.InodeRef, p *e2dir.Page, pos int64, length uint32) error {
	f, err := fs.fileFor(dir.Ino())
	if err != nil {
		return err
	}
	want := pos + int64(length)
	if uint64(want) <= dir.Size() {
		return nil
	}
	if err := fallocate.Fallocate(int(f.Fd()), 0, pos, int64(length)); err != nil && err != unix.EOPNOTSUPP {
		return err
	}
	return nil
}

// CommitChunk implements e2dir.PagedIO: writes the mutated page range
// back, bumps the directory's version, and extends i_size when the
// write crossed it (spec §5.3, §4.C.3 step 9).
func (fs *FS) CommitChunk(dir e2dir.InodeRef, p *e2dir.Page, pos int64, length uint32) error {
	f, err := fs.fileFor(dir.Ino())
	if err != nil {
		return err
	}
	pageOff := pos - int64(p.Index)*int64(fs.Params.PageSize)
	if pageOff < 0 || uint64(pageOff)+uint64(length) > uint64(len(p.Bytes)) {
		return fmt.Errorf("hostfs: chunk [%d,%d) out of range for page %d", pos, pos+int64(length), p.Index)
	}
	if _, err := f.WriteAt(p.Bytes[pageOff:pageOff+int64(length)], pos); err != nil {
		return err
	}
	dir.BumpVersion()
	if want := uint64(pos + int64(length)); want > dir.Size() {
		dir.SetSize(want)
	}
	if fs.Params.Dirsync {
		return f.Sync()
	}
	return nil
}

// SyncPage implements e2dir.PagedIO with fdatasync, matching
// make_empty's synchronous-commit requirement (spec §4.C.6).
func (fs *FS) SyncPage(dir e2dir.InodeRef, p *e2dir.Page) error {
	f, err := fs.fileFor(dir.Ino())
	if err != nil {
		return err
	}
	return unix.Fdatasync(int(f.Fd()))
}

// InodesCount implements e2dir.SuperBlock.
func (fs *FS) InodesCount() uint32 { return fs.inodesCnt }

// FiletypeEnabled implements e2dir.SuperBlock.
func (fs *FS) FiletypeEnabled() bool { return fs.Params.FiletypeEnabled }

// stampTimes applies now as both atime and mtime on ino's backing
// file, matching the teacher's use of the utimens package to push an
// in-memory timestamp out to the real inode on commit
// (fs/loopback_linux.go's Utimens handling, adapted here to fire from
// Inode.TouchCtime/TouchMtime instead of a SetAttr call).
func (fs *FS) stampTimes(ino uint64) {
	f, err := fs.fileFor(ino)
	if err != nil {
		return
	}
	now := fs.now()
	tv := utimens.Fill(nil, nil, now)
	unix.Futimes(int(f.Fd()), tv)
}

// Close releases every backing file hostfs opened.
func (fs *FS) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var first error
	for _, f := range fs.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	if fs.rootFd >= 0 {
		if err := unix.Close(fs.rootFd); err != nil && first == nil {
			first = err
		}
	}
	return first
}
