// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package e2dir_test

import (
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/go-ext2fs/e2dir/dirent"
	"github.com/go-ext2fs/e2dir/e2dir"
	"github.com/go-ext2fs/e2dir/internal/hostfs"
	"github.com/go-ext2fs/e2dir/internal/testutil"
)

func newEngine(t *testing.T) (*e2dir.Engine, *hostfs.FS, *hostfs.Inode) {
	t.Helper()
	dir := t.TempDir()
	params := e2dir.Params{BlockSize: 1024, PageSize: 1024, FiletypeEnabled: true, Quiet: !testutil.VerboseTest()}
	fs, err := hostfs.NewFS(dir, params, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { fs.Close() })

	root, err := fs.NewDirInode(0040755)
	if err != nil {
		t.Fatal(err)
	}
	eng := &e2dir.Engine{IO: fs, Params: params, SB: fs}
	if err := eng.MakeEmpty(root, root); err != nil {
		t.Fatalf("MakeEmpty: %v", err)
	}
	return eng, fs, root
}

func TestMakeEmptyThenLookupDot(t *testing.T) {
	eng, _, root := newEngine(t)

	ino, err := eng.InodeByName(root, ".")
	if err != nil {
		t.Fatalf("InodeByName(.): %v", err)
	}
	if ino != root.Ino() {
		t.Errorf(". resolves to %d, want %d", ino, root.Ino())
	}
	ino, err = eng.InodeByName(root, "..")
	if err != nil {
		t.Fatalf("InodeByName(..): %v", err)
	}
	if ino != root.Ino() {
		t.Errorf(".. resolves to %d, want %d", ino, root.Ino())
	}
}

func TestInsertFindDelete(t *testing.T) {
	eng, fs, root := newEngine(t)

	child, err := fs.NewDirInode(0100644)
	if err != nil {
		t.Fatal(err)
	}

	if err := eng.Insert(root, "hello", child.Ino(), child.Mode()); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	ent, err := eng.FindEntry(root, "hello")
	if err != nil {
		t.Fatalf("FindEntry: %v", err)
	}
	if ent == nil {
		t.Fatal("FindEntry returned nil entry for a name that was just inserted")
	}
	eng.PutEntry(ent)

	if err := eng.Insert(root, "hello", child.Ino(), child.Mode()); err != e2dir.EEXIST {
		t.Errorf("Insert duplicate name: got %v, want EEXIST", err)
	}

	ent, err = eng.FindEntry(root, "hello")
	if err != nil {
		t.Fatalf("FindEntry before delete: %v", err)
	}
	if err := eng.Delete(root, ent); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	ino, err := eng.InodeByName(root, "hello")
	if err != nil {
		t.Fatalf("InodeByName after delete: %v", err)
	}
	if ino != 0 {
		t.Errorf("InodeByName after delete = %d, want 0 (not found)", ino)
	}
}

func TestInsertManyReusesTombstones(t *testing.T) {
	eng, fs, root := newEngine(t)

	var children []*hostfs.Inode
	names := []string{"aa", "bb", "cc", "dd", "ee", "ff"}
	for _, name := range names {
		c, err := fs.NewDirInode(0100644)
		if err != nil {
			t.Fatal(err)
		}
		children = append(children, c)
		if err := eng.Insert(root, name, c.Ino(), c.Mode()); err != nil {
			t.Fatalf("Insert(%s): %v", name, err)
		}
	}

	// Delete every other entry. Each deleted record's span is merged into
	// its left neighbour's rec_len, where Insert can split it off again.
	for i := 0; i < len(names); i += 2 {
		ent, err := eng.FindEntry(root, names[i])
		if err != nil {
			t.Fatalf("FindEntry(%s): %v", names[i], err)
		}
		if err := eng.Delete(root, ent); err != nil {
			t.Fatalf("Delete(%s): %v", names[i], err)
		}
	}

	sizeBefore := root.Size()
	newChild, err := fs.NewDirInode(0100644)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Insert(root, "gg", newChild.Ino(), newChild.Mode()); err != nil {
		t.Fatalf("Insert(gg): %v", err)
	}
	if root.Size() != sizeBefore {
		t.Errorf("directory grew on insert, want tombstone reuse: before=%d after=%d", sizeBefore, root.Size())
	}

	ino, err := eng.InodeByName(root, "gg")
	if err != nil || ino != newChild.Ino() {
		t.Fatalf("InodeByName(gg) = (%d, %v), want (%d, nil)", ino, err, newChild.Ino())
	}
}

func TestReaddirListsLiveEntriesOnly(t *testing.T) {
	eng, fs, root := newEngine(t)

	c1, _ := fs.NewDirInode(0100644)
	c2, _ := fs.NewDirInode(0100644)
	if err := eng.Insert(root, "one", c1.Ino(), c1.Mode()); err != nil {
		t.Fatal(err)
	}
	if err := eng.Insert(root, "two", c2.Ino(), c2.Mode()); err != nil {
		t.Fatal(err)
	}
	ent, err := eng.FindEntry(root, "one")
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Delete(root, ent); err != nil {
		t.Fatal(err)
	}

	seen := map[string]bool{}
	cur := &e2dir.Cursor{}
	err = eng.Readdir(root, cur, func(name string, ino e2dir.Ino, dtype uint8) bool {
		seen[name] = true
		return true
	})
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	if seen["one"] {
		t.Error("Readdir listed a deleted entry")
	}
	if !seen["two"] || !seen["."] || !seen[".."] {
		t.Errorf("Readdir missing expected entries: %v", seen)
	}
}

func TestReaddirResumesAcrossCalls(t *testing.T) {
	eng, fs, root := newEngine(t)
	for _, name := range []string{"a", "b", "c", "d"} {
		c, _ := fs.NewDirInode(0100644)
		if err := eng.Insert(root, name, c.Ino(), c.Mode()); err != nil {
			t.Fatal(err)
		}
	}

	cur := &e2dir.Cursor{}
	var got []string
	for {
		emitted := 0
		err := eng.Readdir(root, cur, func(name string, ino e2dir.Ino, dtype uint8) bool {
			if emitted == 1 {
				return false // refuse the second entry of each call, to exercise resumption
			}
			got = append(got, name)
			emitted++
			return true
		})
		if err != nil {
			t.Fatalf("Readdir: %v", err)
		}
		if emitted == 0 {
			break
		}
	}

	want := map[string]bool{".": true, "..": true, "a": true, "b": true, "c": true, "d": true}
	if len(got) != len(want) {
		t.Fatalf("resumed Readdir produced %v, want all of %v", got, want)
	}
	for _, name := range got {
		if !want[name] {
			t.Errorf("unexpected name %q in resumed Readdir", name)
		}
	}
}

func TestEmptyDir(t *testing.T) {
	eng, fs, root := newEngine(t)

	empty, err := eng.EmptyDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if !empty {
		t.Error("freshly made_empty directory reports non-empty")
	}

	child, _ := fs.NewDirInode(0100644)
	if err := eng.Insert(root, "x", child.Ino(), child.Mode()); err != nil {
		t.Fatal(err)
	}
	empty, err = eng.EmptyDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if empty {
		t.Error("directory with a live entry reports empty")
	}
}

func TestSetLinkPreservesRecord(t *testing.T) {
	eng, fs, root := newEngine(t)
	c1, _ := fs.NewDirInode(0100644)
	c2, _ := fs.NewDirInode(0100644)
	if err := eng.Insert(root, "target", c1.Ino(), c1.Mode()); err != nil {
		t.Fatal(err)
	}

	ent, err := eng.FindEntry(root, "target")
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.SetLink(root, ent, c2.Ino(), c2.Mode(), true); err != nil {
		t.Fatalf("SetLink: %v", err)
	}

	ino, err := eng.InodeByName(root, "target")
	if err != nil {
		t.Fatal(err)
	}
	if ino != c2.Ino() {
		t.Errorf("SetLink retarget = %d, want %d", ino, c2.Ino())
	}
}

// TestInsertDeleteFindAgainstSpecScenarios exercises spec §8's
// concrete scenarios 2-4 against the real Engine.Insert/Delete/
// FindEntry output, not just a standalone dirent.Encode/Decode round
// trip: insert "foo" into a fresh make_empty'd 4096-byte chunk and
// check the exact record layout, find it again and check the lookup
// hint, then delete it and check that the ".." record's rec_len is
// restored.
func TestInsertDeleteFindAgainstSpecScenarios(t *testing.T) {
	dir := t.TempDir()
	params := e2dir.Params{BlockSize: 4096, PageSize: 4096, FiletypeEnabled: true, Quiet: !testutil.VerboseTest()}
	fs, err := hostfs.NewFS(dir, params, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { fs.Close() })

	root, err := fs.NewDirInode(0040755)
	if err != nil {
		t.Fatal(err)
	}
	eng := &e2dir.Engine{IO: fs, Params: params, SB: fs}
	if err := eng.MakeEmpty(root, root); err != nil {
		t.Fatalf("MakeEmpty: %v", err)
	}

	child, err := fs.NewDirInode(0100644)
	if err != nil {
		t.Fatal(err)
	}

	// Scenario 2: the trailing ".." record shrinks to rec_len=12, and
	// "foo" lands at offset 24 with rec_len=4072, name_len=3,
	// file_type=1 (regular file).
	if err := eng.Insert(root, "foo", child.Ino(), child.Mode()); err != nil {
		t.Fatalf("Insert(foo): %v", err)
	}

	ent, err := eng.FindEntry(root, "foo")
	if err != nil {
		t.Fatalf("FindEntry(foo) after insert: %v", err)
	}
	p := ent.Page
	eng.PutEntry(ent)

	dotdotAfterInsert := dirent.Decode(p.Bytes[12:24], params.PageSize)
	if dotdotAfterInsert.RecLen != 12 {
		t.Errorf("..  rec_len after Insert(foo) = %d, want 12", dotdotAfterInsert.RecLen)
	}

	if ent.Offset != 24 {
		t.Errorf("foo landed at offset %d, want 24", ent.Offset)
	}
	foo := dirent.Decode(p.Bytes[24:24+4072], params.PageSize)
	if uint64(foo.Inode) != child.Ino() {
		t.Errorf("foo inode = %d, want %d", foo.Inode, child.Ino())
	}
	if foo.RecLen != 4072 {
		t.Errorf("foo rec_len = %d, want 4072", foo.RecLen)
	}
	if foo.NameLen != 3 {
		t.Errorf("foo name_len = %d, want 3", foo.NameLen)
	}
	if foo.FileType != dirent.RegFile {
		t.Errorf("foo file_type = %v, want RegFile (1)", foo.FileType)
	}
	if string(foo.Name) != "foo" {
		t.Errorf("foo name = %q, want %q", foo.Name, "foo")
	}

	// Scenario 4: find_entry returns page 0, offset 24, and sets the
	// lookup hint to page 0.
	root.SetLookupHint(7) // perturb it so the assertion below is meaningful
	ent2, err := eng.FindEntry(root, "foo")
	if err != nil {
		t.Fatalf("FindEntry(foo): %v", err)
	}
	if ent2.Page.Index != 0 {
		t.Errorf("FindEntry(foo) page = %d, want 0", ent2.Page.Index)
	}
	if ent2.Offset != 24 {
		t.Errorf("FindEntry(foo) offset = %d, want 24", ent2.Offset)
	}
	if root.LookupHint() != 0 {
		t.Errorf("lookup hint after FindEntry(foo) = %d, want 0", root.LookupHint())
	}

	// Scenario 3: deleting "foo" restores the ".." record's rec_len to
	// 4084.
	if err := eng.Delete(root, ent2); err != nil {
		t.Fatalf("Delete(foo): %v", err)
	}
	dotdotEnt, err := eng.Dotdot(root)
	if err != nil {
		t.Fatalf("Dotdot after Delete(foo): %v", err)
	}
	dotdotAfterDelete := dirent.Decode(dotdotEnt.Page.Bytes[dotdotEnt.Offset:dotdotEnt.Offset+24], params.PageSize)
	eng.PutEntry(dotdotEnt)
	if dotdotAfterDelete.RecLen != 4084 {
		t.Errorf(".. rec_len after Delete(foo) = %d, want 4084", dotdotAfterDelete.RecLen)
	}
}

// TestConcurrentInsertFind runs Inserts of distinct names from
// concurrent goroutines, each holding the directory lock that the
// engine expects its caller to hold (see InodeRef), then finds every
// name.
func TestConcurrentInsertFind(t *testing.T) {
	eng, fs, root := newEngine(t)

	var g errgroup.Group
	const n = 16
	names := make([]string, n)
	children := make([]*hostfs.Inode, n)
	for i := 0; i < n; i++ {
		c, err := fs.NewDirInode(0100644)
		if err != nil {
			t.Fatal(err)
		}
		children[i] = c
		names[i] = string(rune('a'+i)) + "-concurrent"
	}

	var dirMu sync.Mutex // stands in for the caller-held directory lock
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			dirMu.Lock()
			defer dirMu.Unlock()
			return eng.Insert(root, names[i], children[i].Ino(), children[i].Mode())
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent Insert: %v", err)
	}

	for i := 0; i < n; i++ {
		ino, err := eng.InodeByName(root, names[i])
		if err != nil {
			t.Fatalf("InodeByName(%s): %v", names[i], err)
		}
		if ino != children[i].Ino() {
			t.Errorf("InodeByName(%s) = %d, want %d", names[i], ino, children[i].Ino())
		}
	}
}

