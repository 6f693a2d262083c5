// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package namei composes the directory engine into the namespace
// operations a VFS layer calls: lookup, create, link, unlink, mkdir,
// rmdir, rename, symlink. Each operation here is a thin wrapper around
// github.com/go-ext2fs/e2dir's engine plus the external inode/quota/
// name-cache collaborators (spec §4.D).
package namei

import (
	"github.com/go-ext2fs/e2dir/dirent"
	"github.com/go-ext2fs/e2dir/e2dir"
)

// Mode bits this package needs to recognize; mirrors dirent's private
// table but exported here since namei constructs mode words for new
// inodes.
const (
	ModeDir     = 0040000
	ModeRegular = 0100000
	ModeSymlink = 0120000
)

// Ops bundles everything a namespace operation needs. It holds no
// per-call state; a single Ops is reused across every call.
type Ops struct {
	Engine *e2dir.Engine
	Inodes e2dir.InodeService
	Quota  e2dir.QuotaService
	Names  e2dir.NameCache
	Links  e2dir.SymlinkStore
}

// Lookup resolves name within dir (spec §4.D "lookup"). It returns
// (nil, OK) for a negative lookup (no such name), matching the
// teacher's d_splice_alias pattern of instantiating a negative dentry
// rather than returning ENOENT for a plain lookup miss.
func (o *Ops) Lookup(dir e2dir.InodeRef, name string) (e2dir.InodeRef, e2dir.Errno) {
	if len(name) > dirent.NameMax {
		return nil, e2dir.ENAMETOOLONG
	}
	ino, err := o.Engine.InodeByName(dir, name)
	if err != nil {
		return nil, e2dir.AsErrno(err)
	}
	if ino == 0 {
		o.Names.SpliceAlias(nil, name)
		return nil, e2dir.OK
	}
	inode, ierr := o.Inodes.Iget(ino)
	if ierr != nil {
		return nil, e2dir.EIO
	}
	o.Names.SpliceAlias(inode, name)
	return inode, e2dir.OK
}

// addNondir finishes off create/mknod/symlink: link the new inode into
// dir under name, unwinding the inode's link count on failure (spec
// §4.D, original_source/namei.c's ext21_add_nondir).
func (o *Ops) addNondir(dir, inode e2dir.InodeRef, name string) e2dir.Errno {
	err := o.Engine.Insert(dir, name, inode.Ino(), inode.Mode())
	if err == nil {
		o.Names.Instantiate(inode, name)
		return e2dir.OK
	}
	o.Inodes.DecLink(inode)
	return e2dir.AsErrno(err)
}

// Create makes a new regular file named name in dir (spec §4.D).
func (o *Ops) Create(dir e2dir.InodeRef, name string, mode uint32) (e2dir.InodeRef, e2dir.Errno) {
	if err := o.Quota.Initialize(dir); err != nil {
		return nil, e2dir.AsErrno(err)
	}
	inode, err := o.Inodes.NewInode(dir, mode, name)
	if err != nil {
		return nil, e2dir.EIO
	}
	o.Inodes.MarkDirty(inode)
	if errno := o.addNondir(dir, inode, name); errno != e2dir.OK {
		return nil, errno
	}
	return inode, e2dir.OK
}

// Mknod creates a device/fifo/socket node (spec §4.D); identical shape
// to Create, mode already carries the node type.
func (o *Ops) Mknod(dir e2dir.InodeRef, name string, mode uint32) (e2dir.InodeRef, e2dir.Errno) {
	return o.Create(dir, name, mode)
}

// Tmpfile creates an unlinked inode not visible in dir's namespace
// (spec §4.D). It is never added to any directory entry.
func (o *Ops) Tmpfile(dir e2dir.InodeRef, mode uint32) (e2dir.InodeRef, e2dir.Errno) {
	inode, err := o.Inodes.NewInode(dir, mode, "")
	if err != nil {
		return nil, e2dir.EIO
	}
	o.Inodes.MarkDirty(inode)
	o.Names.Tmpfile(inode)
	return inode, e2dir.OK
}

// Symlink creates a symlink named name in dir pointing at target (spec
// §4.D). The target is stored inline if it fits in the inode's
// direct-block area, otherwise in the inode's first data page.
func (o *Ops) Symlink(dir e2dir.InodeRef, name, target string) (e2dir.InodeRef, e2dir.Errno) {
	if len(target)+1 > int(o.Engine.Params.BlockSize) {
		return nil, e2dir.ENAMETOOLONG
	}
	if err := o.Quota.Initialize(dir); err != nil {
		return nil, e2dir.AsErrno(err)
	}
	inode, err := o.Inodes.NewInode(dir, ModeSymlink|0777, name)
	if err != nil {
		return nil, e2dir.EIO
	}

	var storeErr error
	if len(target)+1 <= e2dir.SymlinkInlineMax {
		storeErr = o.Links.WriteInline(inode, target)
	} else {
		storeErr = o.Links.WritePage(inode, target)
	}
	if storeErr != nil {
		o.Inodes.DecLink(inode)
		return nil, e2dir.EIO
	}
	o.Inodes.MarkDirty(inode)

	if errno := o.addNondir(dir, inode, name); errno != e2dir.OK {
		return nil, errno
	}
	return inode, e2dir.OK
}

// Link adds a second name for an existing inode (spec §4.D). Callers
// must have already refused cross-filesystem links; this layer
// assumes same-filesystem inodes.
func (o *Ops) Link(dir e2dir.InodeRef, name string, inode e2dir.InodeRef) e2dir.Errno {
	if err := o.Quota.Initialize(dir); err != nil {
		return e2dir.AsErrno(err)
	}
	inode.TouchCtime()
	o.Inodes.IncLink(inode)

	err := o.Engine.Insert(dir, name, inode.Ino(), inode.Mode())
	if err != nil {
		o.Inodes.DecLink(inode)
		return e2dir.AsErrno(err)
	}
	o.Names.Instantiate(inode, name)
	return e2dir.OK
}

// Mkdir creates a subdirectory named name in dir (spec §4.D). Mirrors
// the narrow window flagged in spec §9.1: the parent's link count is
// bumped before the child inode is even allocated, and unwound if
// allocation fails.
func (o *Ops) Mkdir(dir e2dir.InodeRef, name string, mode uint32) (e2dir.InodeRef, e2dir.Errno) {
	if err := o.Quota.Initialize(dir); err != nil {
		return nil, e2dir.AsErrno(err)
	}

	o.Inodes.IncLink(dir) // for the child's ".."

	inode, err := o.Inodes.NewInode(dir, ModeDir|mode, name)
	if err != nil {
		o.Inodes.DecLink(dir)
		return nil, e2dir.EIO
	}

	o.Inodes.IncLink(inode) // for its own "."

	if mkErr := o.Engine.MakeEmpty(inode, dir); mkErr != nil {
		o.Inodes.DecLink(inode)
		o.Inodes.DecLink(inode)
		o.Inodes.DecLink(dir)
		return nil, e2dir.AsErrno(mkErr)
	}

	if insErr := o.Engine.Insert(dir, name, inode.Ino(), inode.Mode()); insErr != nil {
		o.Inodes.DecLink(inode)
		o.Inodes.DecLink(inode)
		o.Inodes.DecLink(dir)
		return nil, e2dir.AsErrno(insErr)
	}

	o.Names.Instantiate(inode, name)
	return inode, e2dir.OK
}

// Unlink removes name from dir and drops the target's link count (spec
// §4.D). After the link count drop the target's ctime is touched, as
// Delete touched dir's.
func (o *Ops) Unlink(dir, target e2dir.InodeRef, name string) e2dir.Errno {
	if err := o.Quota.Initialize(dir); err != nil {
		return e2dir.AsErrno(err)
	}
	ent, err := o.Engine.FindEntry(dir, name)
	if err != nil {
		return e2dir.AsErrno(err)
	}
	if delErr := o.Engine.Delete(dir, ent); delErr != nil {
		return e2dir.AsErrno(delErr)
	}
	o.Inodes.DecLink(target)
	target.TouchCtime()
	return e2dir.OK
}

// Rmdir removes an empty subdirectory (spec §4.D).
func (o *Ops) Rmdir(dir, target e2dir.InodeRef, name string) e2dir.Errno {
	empty, err := o.Engine.EmptyDir(target)
	if err != nil {
		return e2dir.AsErrno(err)
	}
	if !empty {
		return e2dir.ENOTEMPTY
	}
	if errno := o.Unlink(dir, target, name); errno != e2dir.OK {
		return errno
	}
	target.SetSize(0)
	o.Inodes.DecLink(target) // the now-unreachable "."
	o.Inodes.DecLink(dir)    // the child's ".." no longer references dir
	return e2dir.OK
}

// Rename moves oldName in oldDir to newName in newDir, optionally
// replacing an existing newName entry (spec §4.D). Lock acquisition
// for the two parent directories is the caller's responsibility (spec
// §5.4: old parent before new parent in address order when they
// differ); this function assumes both are already held.
func (o *Ops) Rename(oldDir e2dir.InodeRef, oldName string, newDir e2dir.InodeRef, newName string,
	oldInode, newInode e2dir.InodeRef) e2dir.Errno {

	oldEnt, err := o.Engine.FindEntry(oldDir, oldName)
	if err != nil {
		return e2dir.AsErrno(err)
	}
	defer func() {
		if oldEnt != nil {
			o.Engine.PutEntry(oldEnt)
		}
	}()

	var dirEnt *e2dir.Entry
	isDir := oldInode.Mode()&ModeDir != 0
	if isDir {
		dirEnt, err = o.Engine.Dotdot(oldInode)
		if err != nil {
			return e2dir.EIO
		}
	}
	defer func() {
		if dirEnt != nil {
			o.Engine.PutEntry(dirEnt)
		}
	}()

	if newInode != nil {
		if isDir {
			empty, eerr := o.Engine.EmptyDir(newInode)
			if eerr != nil {
				return e2dir.AsErrno(eerr)
			}
			if !empty {
				return e2dir.ENOTEMPTY
			}
		}

		newEnt, ferr := o.Engine.FindEntry(newDir, newName)
		if ferr != nil {
			return e2dir.AsErrno(ferr)
		}
		if slErr := o.Engine.SetLink(newDir, newEnt, oldInode.Ino(), oldInode.Mode(), true); slErr != nil {
			return e2dir.AsErrno(slErr)
		}
		newInode.TouchCtime()
		if isDir {
			o.Inodes.DecLink(newInode) // drop_nlink for the stale ".."
		}
		o.Inodes.DecLink(newInode)
	} else {
		if insErr := o.Engine.Insert(newDir, newName, oldInode.Ino(), oldInode.Mode()); insErr != nil {
			return e2dir.AsErrno(insErr)
		}
		if isDir {
			o.Inodes.IncLink(newDir)
		}
	}

	oldInode.TouchCtime()
	o.Inodes.MarkDirty(oldInode)

	if oldDir.Ino() == newDir.Ino() {
		// The Insert or SetLink above rewrote this same directory, so
		// the page held in oldEnt may be out of date; look it up again.
		o.Engine.PutEntry(oldEnt)
		oldEnt, err = o.Engine.FindEntry(oldDir, oldName)
		if err != nil {
			return e2dir.AsErrno(err)
		}
	}

	delErr := o.Engine.Delete(oldDir, oldEnt)
	oldEnt = nil // Delete always releases the page, success or not.
	if delErr != nil {
		return e2dir.AsErrno(delErr)
	}

	if isDir {
		if oldDir.Ino() != newDir.Ino() {
			slErr := o.Engine.SetLink(oldInode, dirEnt, newDir.Ino(), newDir.Mode(), false)
			dirEnt = nil // SetLink always releases the page, success or not.
			if slErr != nil {
				return e2dir.AsErrno(slErr)
			}
		}
		o.Inodes.DecLink(oldDir)
	}

	return e2dir.OK
}
