// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dirent

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

func TestMinRecLen(t *testing.T) {
	cases := []struct {
		nameLen int
		want    uint32
	}{
		{0, 8},
		{1, 12},
		{2, 12},
		{3, 12},
		{4, 12},
		{255, 264},
	}
	for _, c := range cases {
		if got := MinRecLen(c.nameLen); got != c.want {
			t.Errorf("MinRecLen(%d) = %d, want %d", c.nameLen, got, c.want)
		}
	}
}

func TestRecLenRoundTrip(t *testing.T) {
	// A sample of (raw, pagesz) pairs (every 37th raw value) round-trips.
	for _, pagesz := range []uint32{1024, 2048, 4096, 65536} {
		for raw := 0; raw <= 0xFFFF; raw += 37 {
			got := EncodeRecLen(DecodeRecLen(uint16(raw), pagesz), pagesz)
			if got != uint16(raw) {
				t.Fatalf("pagesz=%d raw=%d: round trip got %d", pagesz, raw, got)
			}
		}
	}
}

func TestDecodeRecLenSentinel(t *testing.T) {
	if got := DecodeRecLen(0xFFFF, 4096); got != 0xFFFF {
		t.Errorf("sentinel decoded under 64KiB page: got %d", got)
	}
	if got := DecodeRecLen(0xFFFF, 65536); got != 65536 {
		t.Errorf("sentinel decode on 64KiB page: got %d, want 65536", got)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	r := Record{Inode: 17, RecLen: 4072, NameLen: 3, FileType: RegFile, Name: []byte("foo")}
	buf := make([]byte, r.RecLen)
	Encode(buf, r, 4096)

	got := Decode(buf, 4096)
	if diff := pretty.Compare(r, got); diff != "" {
		t.Errorf("round trip diff (-want +got):\n%s", diff)
	}
}

func TestFiletypeFromModeDisabled(t *testing.T) {
	if got := FiletypeFromMode(unix_S_IFDIR, false); got != Unknown {
		t.Errorf("filetype with feature disabled = %v, want Unknown", got)
	}
}

func TestFiletypeFromModeTable(t *testing.T) {
	cases := []struct {
		mode uint32
		want FileType
	}{
		{unix_S_IFREG, RegFile},
		{unix_S_IFDIR, Dir},
		{unix_S_IFCHR, ChrDev},
		{unix_S_IFBLK, BlkDev},
		{unix_S_IFIFO, Fifo},
		{unix_S_IFSOCK, Sock},
		{unix_S_IFLNK, Symlink},
	}
	for _, c := range cases {
		if got := FiletypeFromMode(c.mode, true); got != c.want {
			t.Errorf("FiletypeFromMode(%o) = %v, want %v", c.mode, got, c.want)
		}
	}
}

func TestDtypeFromFileType(t *testing.T) {
	cases := []struct {
		ft   FileType
		want uint8
	}{
		{Unknown, dtUnknown},
		{RegFile, dtReg},
		{Dir, dtDir},
		{Symlink, dtLnk},
		{FileType(200), dtUnknown}, // out-of-range defensive case
	}
	for _, c := range cases {
		if got := DtypeFromFileType(c.ft); got != c.want {
			t.Errorf("DtypeFromFileType(%v) = %d, want %d", c.ft, got, c.want)
		}
	}
}

func TestMatch(t *testing.T) {
	buf := make([]byte, MinRecLen(3))
	Encode(buf, Record{Inode: 17, RecLen: uint32(len(buf)), NameLen: 3, Name: []byte("foo")}, 4096)

	if !Match(buf, "foo") {
		t.Errorf("Match(foo) = false, want true")
	}
	if Match(buf, "ba") {
		t.Errorf("Match(ba) = true, want false (length mismatch)")
	}
	if Match(buf, "bar") {
		t.Errorf("Match(bar) = true, want false (bytes differ)")
	}

	SetInode(buf, 0)
	if Match(buf, "foo") {
		t.Errorf("Match on tombstone = true, want false")
	}
}

// TestMakeEmptyBytes pins the byte layout from the spec's concrete
// scenario 1: make-empty on a fresh 4096-byte chunk with dir_ino=11,
// parent_ino=2, filetype feature on.
func TestMakeEmptyBytes(t *testing.T) {
	const pageSize = 4096
	buf := make([]byte, pageSize)

	dot := Record{Inode: 11, RecLen: MinRecLen(1), NameLen: 1, FileType: Dir, Name: []byte(".")}
	Encode(buf[:dot.RecLen], dot, pageSize)

	dotdotLen := pageSize - dot.RecLen
	dotdot := Record{Inode: 2, RecLen: dotdotLen, NameLen: 2, FileType: Dir, Name: []byte("..")}
	Encode(buf[dot.RecLen:dot.RecLen+dotdotLen], dotdot, pageSize)

	wantDot := []byte{11, 0, 0, 0, 12, 0, 1, 2, '.', 0, 0, 0}
	if diff := pretty.Compare(wantDot, buf[:12]); diff != "" {
		t.Errorf(". record diff (-want +got):\n%s", diff)
	}

	gotDotDot := Decode(buf[12:24], pageSize)
	wantDotDot := Record{Inode: 2, RecLen: 4084, NameLen: 2, FileType: Dir, Name: []byte("..")}
	if diff := pretty.Compare(wantDotDot, gotDotDot); diff != "" {
		t.Errorf(".. record diff (-want +got):\n%s", diff)
	}
}
