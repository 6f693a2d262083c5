// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dirent encodes and decodes second-extended-style directory
// records: the variable-length entries packed into fixed-size chunks
// that make up a directory's data. It holds no state of its own; all
// functions operate on byte slices handed in by the caller.
package dirent

import "encoding/binary"

const (
	// HeaderLen is the fixed-size prefix of every record: inode (4),
	// rec_len (2), name_len (1), file_type (1).
	HeaderLen = 8

	// NameMax is the largest name a single record can carry.
	NameMax = 255

	// maxRecLen16 is the sentinel rec_len value meaning "65536 bytes",
	// used only when the chunk (== page, here) is a full 64 KiB.
	maxRecLen16 = 0xFFFF
	maxRecLen   = 1 << 16
)

// FileType is the on-disk, 3-bit-wide cached inode type stored in a
// directory record. It is unrelated to the dirent "d_type" constants
// a reader hands back to userspace; DtypeFromFileType converts.
type FileType uint8

const (
	Unknown FileType = iota
	RegFile
	Dir
	ChrDev
	BlkDev
	Fifo
	Sock
	Symlink
	fileTypeMax
)

// Record is the decoded view of one on-disk directory entry.
type Record struct {
	Inode    uint32
	RecLen   uint32
	NameLen  uint8
	FileType FileType
	Name     []byte // not NUL-terminated, len(Name) == int(NameLen)
}

// IsTombstone reports whether r is a free span rather than a live entry.
func (r Record) IsTombstone() bool { return r.Inode == 0 }

// MinRecLen returns the minimum record length that can hold a name of
// the given length: (name_len + 8 + 3) &^ 3.
func MinRecLen(nameLen int) uint32 {
	return (uint32(nameLen) + HeaderLen + 3) &^ 3
}

// DecodeRecLen expands the on-disk 16-bit rec_len field to its full
// value. pageSize is the size of the page (equivalently here, the
// chunk) the record lives in; only when it is at least 64 KiB does
// the 0xFFFF sentinel decode to 65536.
func DecodeRecLen(raw uint16, pageSize uint32) uint32 {
	if raw == maxRecLen16 && pageSize >= maxRecLen {
		return maxRecLen
	}
	return uint32(raw)
}

// EncodeRecLen is the inverse of DecodeRecLen. It panics if len is out
// of the representable range for pageSize, which indicates a bug in
// the caller: every rec_len written by this package is validated
// against the chunk size before being encoded.
func EncodeRecLen(length uint32, pageSize uint32) uint16 {
	if length == maxRecLen {
		if pageSize < maxRecLen {
			panic("dirent: rec_len 65536 not representable for this page size")
		}
		return maxRecLen16
	}
	if length > 0xFFFF {
		panic("dirent: rec_len out of range")
	}
	return uint16(length)
}

// filetypeTable maps a directory record's on-disk FileType to the
// dirent-style "d_type" a readdir caller expects to see.
var filetypeTable = [fileTypeMax]uint8{
	Unknown: dtUnknown,
	RegFile: dtReg,
	Dir:     dtDir,
	ChrDev:  dtChr,
	BlkDev:  dtBlk,
	Fifo:    dtFifo,
	Sock:    dtSock,
	Symlink: dtLnk,
}

// generic dirent d_type values (see <dirent.h>).
const (
	dtUnknown = 0
	dtFifo    = 1
	dtChr     = 2
	dtDir     = 4
	dtBlk     = 6
	dtReg     = 8
	dtLnk     = 10
	dtSock    = 12
)

// DtypeFromFileType converts a record's on-disk FileType to the
// generic dirent type exposed to readdir. Unrecognized values map to
// dtUnknown, matching the kernel table's implicit zero-fill.
func DtypeFromFileType(ft FileType) uint8 {
	if ft >= fileTypeMax {
		return dtUnknown
	}
	return filetypeTable[ft]
}

// modeShift is S_SHIFT from <linux/stat.h>: the shift separating the
// S_IFMT file-type bits from the rest of the mode word.
const modeShift = 12

// typeByMode is indexed by (mode&S_IFMT)>>modeShift and mirrors the
// kernel's ext2_type_by_mode table.
var typeByMode = [unix_S_IFMT>>modeShift + 1]FileType{
	unix_S_IFREG >> modeShift:  RegFile,
	unix_S_IFDIR >> modeShift:  Dir,
	unix_S_IFCHR >> modeShift:  ChrDev,
	unix_S_IFBLK >> modeShift:  BlkDev,
	unix_S_IFIFO >> modeShift:  Fifo,
	unix_S_IFSOCK >> modeShift: Sock,
	unix_S_IFLNK >> modeShift:  Symlink,
}

// Mode bits from <bits/stat.h>, spelled out locally so this package
// has no platform dependency: it only ever classifies a mode word
// handed to it by the inode layer.
const (
	unix_S_IFMT   = 0170000
	unix_S_IFREG  = 0100000
	unix_S_IFDIR  = 0040000
	unix_S_IFCHR  = 0020000
	unix_S_IFBLK  = 0060000
	unix_S_IFIFO  = 0010000
	unix_S_IFSOCK = 0140000
	unix_S_IFLNK  = 0120000
)

// FiletypeFromMode returns the on-disk FileType for an inode mode
// word, or Unknown if the filetype feature flag is disabled.
func FiletypeFromMode(mode uint32, filetypeEnabled bool) FileType {
	if !filetypeEnabled {
		return Unknown
	}
	return typeByMode[(mode&unix_S_IFMT)>>modeShift]
}

// Decode reads one record starting at buf[0]. It does not validate
// rec_len against any invariant beyond "there are enough bytes in buf
// to hold a header and the claimed name"; structural validation is
// the page accessor's job (see the e2dir package's checkPage).
func Decode(buf []byte, pageSize uint32) Record {
	raw := binary.LittleEndian.Uint16(buf[4:6])
	r := Record{
		Inode:    binary.LittleEndian.Uint32(buf[0:4]),
		RecLen:   DecodeRecLen(raw, pageSize),
		NameLen:  buf[6],
		FileType: FileType(buf[7]),
	}
	end := HeaderLen + int(r.NameLen)
	if end <= len(buf) {
		r.Name = buf[HeaderLen:end]
	}
	return r
}

// Encode writes r into buf[0:r.RecLen], which must be exactly
// r.RecLen bytes (the caller owns sizing and zeroing trailing
// padding). Encode does not zero bytes beyond HeaderLen+NameLen; the
// caller is responsible for clearing pad bytes when writing into
// previously-used chunk storage.
func Encode(buf []byte, r Record, pageSize uint32) {
	binary.LittleEndian.PutUint32(buf[0:4], r.Inode)
	binary.LittleEndian.PutUint16(buf[4:6], EncodeRecLen(r.RecLen, pageSize))
	buf[6] = r.NameLen
	buf[7] = byte(r.FileType)
	copy(buf[HeaderLen:HeaderLen+int(r.NameLen)], r.Name)
}

// SetRecLen rewrites only the rec_len field of an already-encoded
// record in place, used by the coalescing and split paths which
// change a neighbour's length without touching its name or inode.
func SetRecLen(buf []byte, length uint32, pageSize uint32) {
	binary.LittleEndian.PutUint16(buf[4:6], EncodeRecLen(length, pageSize))
}

// SetInode rewrites only the inode field in place: used both to
// tombstone a record (set to 0) and to retarget one (set-link).
func SetInode(buf []byte, ino uint32) {
	binary.LittleEndian.PutUint32(buf[0:4], ino)
}

// RecLenAt decodes just the rec_len field at buf[0:8], the hot path
// used while walking a chunk.
func RecLenAt(buf []byte, pageSize uint32) uint32 {
	return DecodeRecLen(binary.LittleEndian.Uint16(buf[4:6]), pageSize)
}

// InodeAt decodes just the inode field at buf[0:4].
func InodeAt(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf[0:4])
}

// Match reports whether the record at buf matches a lookup name: same
// length, non-tombstone, and identical bytes. Mirrors ext21_match,
// including its zero-inode-is-never-a-match rule (spec §3.3 invariant 4).
func Match(buf []byte, name string) bool {
	if int(buf[6]) != len(name) {
		return false
	}
	if InodeAt(buf) == 0 {
		return false
	}
	end := HeaderLen + len(name)
	if end > len(buf) {
		return false
	}
	return string(buf[HeaderLen:end]) == name
}
