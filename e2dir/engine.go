// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package e2dir

import (
	"log"

	"github.com/go-ext2fs/e2dir/dirent"
)

// Engine is the directory page engine (spec §4.C): iteration, find,
// insert, delete, update, empty-test, make-empty, dotdot, all
// operating over a directory inode through the host contracts.
type Engine struct {
	IO     PagedIO
	Params Params
	SB     SuperBlock
}

// Entry identifies one on-disk record: the page it lives in (held,
// not yet released) and its byte offset within that page.
type Entry struct {
	Page   *Page
	Offset uint32
}

func (e *Entry) recLen(pageSize uint32) uint32 {
	return dirent.RecLenAt(e.Page.Bytes[e.Offset:], pageSize)
}

// PutEntry releases the page backing an Entry returned by FindEntry
// or Dotdot.
func (eng *Engine) PutEntry(ent *Entry) {
	if ent != nil {
		putPage(eng.IO, ent.Page)
	}
}

func (eng *Engine) npages(dir InodeRef) uint64 {
	ps := uint64(eng.Params.PageSize)
	return (dir.Size() + ps - 1) / ps
}

// Cursor is a resumable readdir position (spec §4.C.1).
type Cursor struct {
	Pos     uint64
	Version uint64
}

// Readdir walks dir starting at cur.Pos, invoking sink for every live
// record. sink returns false to stop without consuming the current
// entry (the next call resumes there). Cur is updated in place.
func (eng *Engine) Readdir(dir InodeRef, cur *Cursor, sink func(name string, ino Ino, dtype uint8) bool) error {
	pageSize := eng.Params.PageSize
	minRec1 := dirent.MinRecLen(1)

	if cur.Pos > dir.Size()-uint64(minRec1) {
		return nil // EOF
	}

	page := cur.Pos / uint64(pageSize)
	offset := uint32(cur.Pos % uint64(pageSize))
	needRevalidate := cur.Version != dir.Version()
	npages := eng.npages(dir)

	for ; page < npages; page, offset = page+1, 0 {
		p, err := getPage(eng.IO, dir, page, eng.Params, eng.SB, eng.Params.Quiet)
		if err != nil {
			return err
		}

		if needRevalidate {
			if offset != 0 {
				offset = validateEntry(p.Bytes, offset, eng.Params.ChunkSize(), pageSize)
				cur.Pos = page*uint64(pageSize) + uint64(offset)
			}
			cur.Version = dir.Version()
			needRevalidate = false
		}

		limit := lastByte(dir, page, pageSize)
		for offset+minRec1 <= limit {
			rec := p.Bytes[offset:]
			recLen := dirent.RecLenAt(rec, pageSize)
			if recLen == 0 {
				putPage(eng.IO, p)
				log.Printf("e2dir: zero-length directory entry in #%d", dir.Ino())
				return EIO
			}
			if ino := dirent.InodeAt(rec); ino != 0 {
				nameLen := rec[6]
				name := string(rec[dirent.HeaderLen : dirent.HeaderLen+int(nameLen)])
				ft := dirent.FileType(rec[7])
				dtype := dirent.DtypeFromFileType(ft)
				if !sink(name, Ino(ino), dtype) {
					putPage(eng.IO, p)
					return nil
				}
			}
			offset += recLen
			cur.Pos += uint64(recLen)
		}
		putPage(eng.IO, p)
	}
	return nil
}

// validateEntry re-aligns offset to a record boundary after a version
// change, by walking from the chunk start forward until reaching or
// passing it (spec §4.C.1 step 3; original_source/dir.c's
// ext21_validate_entry).
func validateEntry(buf []byte, offset uint32, chunkSize, pageSize uint32) uint32 {
	start := offset &^ (chunkSize - 1)
	p := start
	for p < offset {
		recLen := dirent.RecLenAt(buf[p:], pageSize)
		if recLen == 0 {
			break
		}
		p += recLen
	}
	return p
}

// lastByte is the offset, within page n, one past the last valid byte
// of dir's directory data (original_source/dir.c's ext21_last_byte).
func lastByte(dir InodeRef, n uint64, pageSize uint32) uint32 {
	size := dir.Size()
	lb := size - n*uint64(pageSize)
	if lb > uint64(pageSize) {
		return pageSize
	}
	return uint32(lb)
}

// FindEntry performs the linear scan of spec §4.C.2, starting from
// dir's lookup hint and wrapping at npages. On success the returned
// Entry holds its page unreleased; on miss every visited page has
// already been released.
func (eng *Engine) FindEntry(dir InodeRef, name string) (*Entry, error) {
	npages := eng.npages(dir)
	if npages == 0 {
		return nil, ENOENT
	}

	start := dir.LookupHint()
	if start >= npages {
		start = 0
	}

	dirHasError := false
	n := start
	for {
		p, err := getPage(eng.IO, dir, n, eng.Params, eng.SB, eng.Params.Quiet || dirHasError)
		if err != nil {
			dirHasError = true
		} else {
			limit := lastByte(dir, n, eng.Params.PageSize) - dirent.MinRecLen(len(name))
			var offs uint32
			found := false
			for offs <= limit {
				rec := p.Bytes[offs:]
				recLen := dirent.RecLenAt(rec, eng.Params.PageSize)
				if recLen == 0 {
					putPage(eng.IO, p)
					log.Printf("e2dir: zero-length directory entry in #%d", dir.Ino())
					return nil, EIO
				}
				if dirent.Match(rec, name) {
					found = true
					break
				}
				offs += recLen
			}
			if found {
				dir.SetLookupHint(n)
				return &Entry{Page: p, Offset: offs}, nil
			}
			putPage(eng.IO, p)
		}

		n++
		if n >= npages {
			n = 0
		}
		// Sanity guard (spec §4.C.2): bound the scan to the inode's
		// allocated block count scaled to pages. BlockCount is in
		// 512-byte sectors (original_source/dir.c's i_blocks unit).
		maxPage := dir.BlockCount() * 512 / uint64(eng.Params.PageSize)
		if n > maxPage {
			log.Printf("e2dir: dir %d size %d exceeds block count %d", dir.Ino(), dir.Size(), dir.BlockCount())
			return nil, EIO
		}
		if n == start {
			break
		}
	}
	return nil, ENOENT
}

// InodeByName is a thin wrapper over FindEntry (spec §4.C.9).
func (eng *Engine) InodeByName(dir InodeRef, name string) (Ino, error) {
	ent, err := eng.FindEntry(dir, name)
	if err != nil {
		if err == ENOENT {
			return 0, nil
		}
		return 0, err
	}
	ino := dirent.InodeAt(ent.Page.Bytes[ent.Offset:])
	eng.PutEntry(ent)
	return Ino(ino), nil
}

// Dotdot fetches page 0 and returns its second record (spec §4.C.8).
func (eng *Engine) Dotdot(dir InodeRef) (*Entry, error) {
	p, err := getPage(eng.IO, dir, 0, eng.Params, eng.SB, eng.Params.Quiet)
	if err != nil {
		return nil, err
	}
	dotLen := dirent.RecLenAt(p.Bytes, eng.Params.PageSize)
	return &Entry{Page: p, Offset: dotLen}, nil
}

// Insert adds a (name -> ino) link into dir (spec §4.C.3, add_link).
// mode is the target inode's mode, used to populate file_type.
func (eng *Engine) Insert(dir InodeRef, name string, ino Ino, mode uint32) error {
	pageSize := eng.Params.PageSize
	chunkSize := eng.Params.ChunkSize()
	required := dirent.MinRecLen(len(name))
	npages := eng.npages(dir)

	for n := uint64(0); n <= npages; n++ {
		p, err := getPage(eng.IO, dir, n, eng.Params, eng.SB, eng.Params.Quiet)
		if err != nil {
			return err
		}
		p.Lock()

		dirEnd := lastByte(dir, n, pageSize)
		var offs uint32
		var recLen uint32
		var existingNameLen uint32
		gotIt := false

		for offs+required <= pageSize {
			if offs == dirEnd {
				// Past i_size: fresh space. Synthesize a
				// chunk-spanning tombstone (spec §4.C.3 step 4).
				recLen = chunkSize
				existingNameLen = 0
				gotIt = true
				break
			}
			rec := p.Bytes[offs:]
			thisRecLen := dirent.RecLenAt(rec, pageSize)
			if thisRecLen == 0 {
				p.Unlock()
				putPage(eng.IO, p)
				log.Printf("e2dir: zero-length directory entry in #%d", dir.Ino())
				return EIO
			}
			if dirent.Match(rec, name) {
				p.Unlock()
				putPage(eng.IO, p)
				return EEXIST
			}
			nameLenHere := dirent.MinRecLen(int(rec[6]))
			if dirent.InodeAt(rec) == 0 && thisRecLen >= required {
				recLen = thisRecLen
				existingNameLen = 0
				gotIt = true
				break
			}
			if thisRecLen >= nameLenHere+required {
				recLen = thisRecLen
				existingNameLen = nameLenHere
				gotIt = true
				break
			}
			offs += thisRecLen
		}

		if !gotIt {
			p.Unlock()
			putPage(eng.IO, p)
			continue
		}

		pos := int64(n)*int64(pageSize) + int64(offs)
		if err := eng.IO.PrepareChunk(dir, p, pos, recLen); err != nil {
			p.Unlock()
			putPage(eng.IO, p)
			return asErrno(err)
		}

		target := offs
		if dirent.InodeAt(p.Bytes[offs:]) != 0 {
			// Split case: shrink the live record, new one follows.
			dirent.SetRecLen(p.Bytes[offs:], existingNameLen, pageSize)
			target = offs + existingNameLen
			dirent.SetRecLen(p.Bytes[target:], recLen-existingNameLen, pageSize)
		} else {
			dirent.SetRecLen(p.Bytes[target:], recLen, pageSize)
		}

		rec := dirent.Record{
			Inode:    uint32(ino),
			RecLen:   dirent.RecLenAt(p.Bytes[target:], pageSize),
			NameLen:  uint8(len(name)),
			FileType: dirent.FiletypeFromMode(mode, eng.Params.FiletypeEnabled),
			Name:     []byte(name),
		}
		dirent.Encode(p.Bytes[target:target+rec.RecLen], rec, pageSize)

		if err := eng.IO.CommitChunk(dir, p, pos, recLen); err != nil {
			p.Unlock()
			putPage(eng.IO, p)
			return asErrno(err)
		}
		dir.TouchMtime()
		dir.TouchCtime()
		dir.ClearBtree()

		p.Unlock()
		putPage(eng.IO, p)
		return nil
	}
	// Unreachable given the spec's contract (the npages-th page is
	// always fresh space and always satisfies offs==dirEnd), kept as
	// a defensive backstop mirroring the source's BUG()/-EINVAL path.
	return EIO
}

// Delete removes ent from its directory by coalescing with its left
// neighbour, or tombstoning it if it has none (spec §4.C.4). It always
// releases ent's page.
func (eng *Engine) Delete(dir InodeRef, ent *Entry) error {
	pageSize := eng.Params.PageSize
	chunkSize := eng.Params.ChunkSize()
	p := ent.Page

	from := ent.Offset &^ (chunkSize - 1)
	to := ent.Offset + ent.recLen(pageSize)

	var pdeOffset uint32
	havePde := false
	walk := from
	for walk < ent.Offset {
		recLen := dirent.RecLenAt(p.Bytes[walk:], pageSize)
		if recLen == 0 {
			putPage(eng.IO, p)
			log.Printf("e2dir: zero-length directory entry in #%d", dir.Ino())
			return EIO
		}
		pdeOffset = walk
		havePde = true
		walk += recLen
	}
	if havePde {
		from = pdeOffset
	}

	pos := int64(p.Index)*int64(pageSize) + int64(from)
	p.Lock()
	if err := eng.IO.PrepareChunk(dir, p, pos, to-from); err != nil {
		p.Unlock()
		putPage(eng.IO, p)
		return asErrno(err)
	}
	if havePde {
		dirent.SetRecLen(p.Bytes[pdeOffset:], to-from, pageSize)
	}
	dirent.SetInode(p.Bytes[ent.Offset:], 0)
	if err := eng.IO.CommitChunk(dir, p, pos, to-from); err != nil {
		p.Unlock()
		putPage(eng.IO, p)
		return asErrno(err)
	}
	dir.TouchCtime()
	dir.TouchMtime()
	dir.ClearBtree()
	p.Unlock()
	putPage(eng.IO, p)
	return nil
}

// SetLink atomically retargets ent to newIno, preserving rec_len and
// name (spec §4.C.5). Always releases ent's page.
func (eng *Engine) SetLink(dir InodeRef, ent *Entry, newIno Ino, newMode uint32, updateTimes bool) error {
	pageSize := eng.Params.PageSize
	p := ent.Page
	recLen := ent.recLen(pageSize)
	pos := int64(p.Index)*int64(pageSize) + int64(ent.Offset)

	p.Lock()
	if err := eng.IO.PrepareChunk(dir, p, pos, recLen); err != nil {
		p.Unlock()
		putPage(eng.IO, p)
		return asErrno(err)
	}
	dirent.SetInode(p.Bytes[ent.Offset:], uint32(newIno))
	p.Bytes[ent.Offset+7] = byte(dirent.FiletypeFromMode(newMode, eng.Params.FiletypeEnabled))
	if err := eng.IO.CommitChunk(dir, p, pos, recLen); err != nil {
		p.Unlock()
		putPage(eng.IO, p)
		return asErrno(err)
	}
	if updateTimes {
		dir.TouchMtime()
		dir.TouchCtime()
	}
	dir.ClearBtree()
	p.Unlock()
	putPage(eng.IO, p)
	return nil
}

// MakeEmpty builds the initial chunk of a new directory: "." pointing
// at dir, ".." pointing at parent, synchronously committed (spec
// §4.C.6).
func (eng *Engine) MakeEmpty(dir InodeRef, parent InodeRef) error {
	chunkSize := eng.Params.ChunkSize()
	p, err := getPage(eng.IO, dir, 0, eng.Params, eng.SB, true)
	if err != nil {
		return err
	}
	p.Lock()
	defer p.Unlock()
	defer putPage(eng.IO, p)

	if err := eng.IO.PrepareChunk(dir, p, 0, chunkSize); err != nil {
		return asErrno(err)
	}
	for i := range p.Bytes[:chunkSize] {
		p.Bytes[i] = 0
	}

	dotLen := dirent.MinRecLen(1)
	dot := dirent.Record{Inode: uint32(dir.Ino()), RecLen: dotLen, NameLen: 1,
		FileType: dirent.FiletypeFromMode(dir.Mode(), eng.Params.FiletypeEnabled), Name: []byte(".")}
	dirent.Encode(p.Bytes[:dotLen], dot, eng.Params.PageSize)

	dotdotLen := chunkSize - dotLen
	dotdot := dirent.Record{Inode: uint32(parent.Ino()), RecLen: dotdotLen, NameLen: 2,
		FileType: dirent.FiletypeFromMode(dir.Mode(), eng.Params.FiletypeEnabled), Name: []byte("..")}
	dirent.Encode(p.Bytes[dotLen:dotLen+dotdotLen], dotdot, eng.Params.PageSize)

	if err := eng.IO.CommitChunk(dir, p, 0, chunkSize); err != nil {
		return asErrno(err)
	}
	dir.SetSize(uint64(chunkSize))
	if err := eng.IO.SyncPage(dir, p); err != nil {
		return asErrno(err)
	}
	return nil
}

// EmptyDir reports whether dir has no live entries beyond "." and
// ".." (spec §4.C.7).
func (eng *Engine) EmptyDir(dir InodeRef) (bool, error) {
	pageSize := eng.Params.PageSize
	minRec1 := dirent.MinRecLen(1)
	npages := eng.npages(dir)
	dirHasError := false

	for n := uint64(0); n < npages; n++ {
		p, err := getPage(eng.IO, dir, n, eng.Params, eng.SB, eng.Params.Quiet || dirHasError)
		if err != nil {
			dirHasError = true
			continue
		}

		limit := lastByte(dir, n, pageSize)
		var offs uint32
		ok := true
		for offs+minRec1 <= limit {
			rec := p.Bytes[offs:]
			recLen := dirent.RecLenAt(rec, pageSize)
			if recLen == 0 {
				putPage(eng.IO, p)
				log.Printf("e2dir: zero-length directory entry in #%d", dir.Ino())
				return false, EIO
			}
			if ino := dirent.InodeAt(rec); ino != 0 {
				nameLen := rec[6]
				if rec[dirent.HeaderLen] != '.' {
					ok = false
				} else if nameLen > 2 {
					ok = false
				} else if nameLen < 2 {
					if ino != uint32(dir.Ino()) {
						ok = false
					}
				} else if rec[dirent.HeaderLen+1] != '.' {
					ok = false
				}
				if !ok {
					break
				}
			}
			offs += recLen
		}
		putPage(eng.IO, p)
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
