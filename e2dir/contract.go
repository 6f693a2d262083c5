// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package e2dir implements the directory page engine: the page
// accessor and the mutation/iteration operations that maintain
// variable-length directory records inside fixed-size chunks. It
// consumes, but does not implement, a small set of host contracts
// (paged I/O, inode bookkeeping, superblock feature flags) defined in
// this file; internal/hostfs is a reference implementation of them.
package e2dir

import "sync"

// Params are the mount-time layout parameters the engine needs. They
// are immutable for the lifetime of a mount (spec §9, "Global state").
type Params struct {
	// BlockSize is the filesystem block size: 1024, 2048, or 4096.
	BlockSize uint32
	// PageSize is the host cache page size; must be >= BlockSize and
	// a multiple of it. A chunk never straddles a page, but a page
	// may hold several chunks.
	PageSize uint32
	// FiletypeEnabled mirrors s_feature_incompat & FILETYPE.
	FiletypeEnabled bool
	// Dirsync mirrors IS_DIRSYNC(dir): commits flush synchronously.
	Dirsync bool
	// Quiet suppresses the page accessor's check_page logging; it does
	// not silence the zero-length-entry messages the engine logs while
	// walking a directory. The package tests set it to
	// !testutil.VerboseTest(), so check_page logs only in DEBUG=1 runs.
	Quiet bool
}

// ChunkSize is the directory chunk size for these Params: always the
// block size (original_source/dir.c's ext21_chunk_size).
func (p Params) ChunkSize() uint32 { return p.BlockSize }

// ChunksPerPage is how many whole chunks fit in one page.
func (p Params) ChunksPerPage() uint32 { return p.PageSize / p.BlockSize }

// Page is a validated, mapped view of one logical directory page. The
// host constructs these (see PagedIO.ReadPage); the engine only reads
// and writes Bytes and the two sticky bits.
type Page struct {
	Index   uint64
	Bytes   []byte
	mu      sync.Mutex // guards a single page across prepare->mutate->commit (spec §5.2)
	Checked bool
	Err     bool
}

// Lock acquires the page's mutation lock. Each engine mutator holds a
// single page's lock, only for the duration of that one call; a host
// that holds several pages' locks at once orders them with
// PageLockLess.
func (p *Page) Lock()   { p.mu.Lock() }
func (p *Page) Unlock() { p.mu.Unlock() }

// PageLockLess orders two pages for deadlock-free multi-page locking:
// by inode identity first (so cross-directory acquisition is address
// ordered per spec §5.4), then by page index within one directory.
func PageLockLess(aIno, bIno uint64, a, b *Page) bool {
	if aIno != bIno {
		return aIno < bIno
	}
	return a.Index < b.Index
}

// Ino is the opaque inode-number type the engine threads through
// without interpreting; the host's InodeService resolves it.
type Ino = uint64

// InodeRef is everything the engine needs to read or mutate about a
// directory's own inode. The host owns the storage; the engine only
// calls these accessors under the caller-held inode lock (spec §5.1).
type InodeRef interface {
	Ino() Ino
	Size() uint64
	SetSize(uint64)
	Mode() uint32
	LinkCount() uint32
	SetLinkCount(uint32)
	Version() uint64
	// BumpVersion increments and returns the new version; always
	// called under the mutated page's lock (spec §5.3).
	BumpVersion() uint64
	LookupHint() uint64
	SetLookupHint(uint64)
	BlockCount() uint64
	// ClearBtree clears the BTREE flag; a no-op if the host doesn't
	// model hashed directories, but every mutation must call it
	// (spec §4.C.3 step 8, §4.C.4 step 4).
	ClearBtree()
	TouchCtime()
	TouchMtime()
}

// PagedIO is the host's paged-cache contract (spec §6.4).
type PagedIO interface {
	// ReadPage fetches page index n of dir, reading through if not
	// resident. It does not validate; the page accessor does that.
	ReadPage(dir InodeRef, index uint64) (*Page, error)
	// PutPage releases a page obtained from ReadPage.
	PutPage(p *Page)
	// PrepareChunk readies the byte range [pos, pos+length) of dir's
	// data for a write (e.g. allocating backing blocks).
	PrepareChunk(dir InodeRef, p *Page, pos int64, length uint32) error
	// CommitChunk finalizes the write prepared above: bumps the
	// directory version, extends i_size if pos+length crossed it,
	// and (if Dirsync) flushes synchronously.
	CommitChunk(dir InodeRef, p *Page, pos int64, length uint32) error
	// SyncPage forces page to stable storage; used for the
	// make_empty path, which is always synchronous (spec §4.C.6).
	SyncPage(dir InodeRef, p *Page) error
}

// SuperBlock is the subset of superblock state the engine consults
// (spec §6.2).
type SuperBlock interface {
	InodesCount() uint32
	FiletypeEnabled() bool
}

// InodeService is the host's inode lifecycle contract (spec §6.4); the
// namei package uses it, the engine itself only uses InodeRef.
type InodeService interface {
	NewInode(parent InodeRef, mode uint32, name string) (InodeRef, error)
	Iget(ino Ino) (InodeRef, error)
	IncLink(InodeRef)
	DecLink(InodeRef)
	MarkDirty(InodeRef)
}

// QuotaService models the external quota collaborator: Initialize is
// called once per mutation on the parent (spec §6.4).
type QuotaService interface {
	Initialize(InodeRef) error
}

// NameCache models the host dentry/name cache collaborator.
type NameCache interface {
	SpliceAlias(inode InodeRef, name string)
	Instantiate(inode InodeRef, name string)
	Tmpfile(inode InodeRef)
}

// SymlinkInlineMax is the size in bytes of an inode's direct-block
// area. A symlink target is stored there when it fits together with
// its terminating NUL, i.e. when it is at most 59 bytes long.
const SymlinkInlineMax = 60

// SymlinkStore models the external collaborator that owns symlink
// target storage: either inline in the inode's direct-block area, or
// out in the inode's first data page when the target doesn't fit.
type SymlinkStore interface {
	WriteInline(inode InodeRef, target string) error
	WritePage(inode InodeRef, target string) error
}
