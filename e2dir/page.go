// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package e2dir

import (
	"log"

	"github.com/go-ext2fs/e2dir/dirent"
)

// getPage fetches page n of dir through the host's paged cache,
// validating it on first touch (spec §4.B). quiet suppresses logging
// only, never the error itself.
func getPage(io PagedIO, dir InodeRef, n uint64, params Params, sb SuperBlock, quiet bool) (*Page, error) {
	p, err := io.ReadPage(dir, n)
	if err != nil {
		if _, ok := err.(Errno); ok {
			return nil, err
		}
		return nil, EIO
	}
	if !p.Checked {
		checkPage(p, dir, params, sb, quiet)
	}
	if p.Err {
		io.PutPage(p)
		return nil, EIO
	}
	return p, nil
}

func putPage(io PagedIO, p *Page) {
	if p != nil {
		io.PutPage(p)
	}
}

// checkPage walks page p from offset 0, validating every record
// against the chunk invariants of spec §3.3. It sets Checked
// unconditionally and Err on any violation. Grounded directly on
// original_source/dir.c's ext21_check_page, including its "last page
// may be short" special case.
func checkPage(p *Page, dir InodeRef, params Params, sb SuperBlock, quiet bool) {
	defer func() { p.Checked = true }()

	pageSize := params.PageSize
	limit := uint32(pageSize)

	if (dir.Size() >> pageShift(pageSize)) == p.Index {
		limit = uint32(dir.Size()) & (pageSize - 1)
		if limit&(params.ChunkSize()-1) != 0 {
			if !quiet {
				log.Printf("e2dir: size of directory #%d is not a multiple of chunk size", dir.Ino())
			}
			p.Err = true
			return
		}
		if limit == 0 {
			return
		}
	}

	minRec1 := dirent.MinRecLen(1)
	var offs uint32
	for offs+minRec1 <= limit {
		rec := p.Bytes[offs:]
		recLen := dirent.RecLenAt(rec, pageSize)
		nameLen := rec[6]

		if recLen < minRec1 {
			badEntry(dir, p, offs, "rec_len is smaller than minimal", quiet)
			p.Err = true
			return
		}
		if recLen&3 != 0 {
			badEntry(dir, p, offs, "unaligned directory entry", quiet)
			p.Err = true
			return
		}
		if recLen < dirent.MinRecLen(int(nameLen)) {
			badEntry(dir, p, offs, "rec_len is too small for name_len", quiet)
			p.Err = true
			return
		}
		if ((offs+recLen-1)^offs)&^(params.ChunkSize()-1) != 0 {
			badEntry(dir, p, offs, "directory entry across chunks", quiet)
			p.Err = true
			return
		}
		if ino := dirent.InodeAt(rec); ino != 0 && ino >= sb.InodesCount() {
			badEntry(dir, p, offs, "inode out of bounds", quiet)
			p.Err = true
			return
		}
		offs += recLen
	}
	if offs != limit {
		if !quiet {
			log.Printf("e2dir: entry in directory #%d spans the page boundary, offset=%d", dir.Ino(), offs)
		}
		p.Err = true
	}
}

func badEntry(dir InodeRef, p *Page, offs uint32, reason string, quiet bool) {
	if quiet {
		return
	}
	rec := p.Bytes[offs:]
	log.Printf("e2dir: bad entry in directory #%d: %s - offset=%d, inode=%d",
		dir.Ino(), reason, uint64(p.Index)*uint64(len(p.Bytes))+uint64(offs), dirent.InodeAt(rec))
}

// pageShift returns log2(pageSize); pageSize is always a power of two
// (1024/2048/4096/65536).
func pageShift(pageSize uint32) uint {
	shift := uint(0)
	for pageSize > 1 {
		pageSize >>= 1
		shift++
	}
	return shift
}
