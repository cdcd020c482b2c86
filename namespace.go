//----------------------------------------------------------------------
// This file is part of mdnsboot.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// mdnsboot is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// mdnsboot is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package mdnsboot

import (
	"errors"
	"path"
	"slices"
	"strings"
	"sync"

	"git.sr.ht/~moody/ninep"
)

// Error messages
var (
	errNoRoot = errors.New("no root directory")
	errNoFile = errors.New("no such file or directory")
	errNoDir  = errors.New("not a directory")
	errNoAbs  = errors.New("no absolute path")
	errExists = errors.New("file exists")
)

//----------------------------------------------------------------------

// Entry in the filesystem
type Entry struct {
	ref      *ninep.Dir        // 9p reference
	children map[string]*Entry // list of children (for folders) or nil
	file     File              // file implementation or nil (for folders)
}

// IsDir returns true if entry is a directory
func (e *Entry) IsDir() bool {
	return e.children != nil
}

// Name of the entry
func (e *Entry) Name() string {
	return e.ref.Name
}

// Read the content of a file entry.
func (e *Entry) Read() ([]byte, error) {
	if e.file == nil {
		return nil, errNoFile
	}
	return e.file.Read()
}

//----------------------------------------------------------------------

// Namespace is a synthetic file system describing the device.
type Namespace struct {
	ninep.NopFS // use default handlers where needed

	user, group string
	mtx         sync.RWMutex
	dict        map[uint64]*Entry // map Qid.Path to filesystem entry
	nextID      uint64            // next Qid.Path
}

// NewNamespace creates a new filesystem (with root directory) owned by
// the given user/group.
func NewNamespace(user, group string) *Namespace {
	ns := &Namespace{
		user:  user,
		group: group,
		dict:  make(map[uint64]*Entry),
	}
	e := ns.newEntry("/", 0555, nil)
	ns.dict[e.ref.Path] = e
	return ns
}

// Create a new entry in the filesystem.
// If impl is nil, the entry represents a directory; otherwise a file.
func (ns *Namespace) newEntry(name string, perm uint32, impl File) *Entry {
	e := new(Entry)
	kind := ninep.QTFile
	if impl == nil {
		kind = ninep.QTDir
		e.children = make(map[string]*Entry)
		perm |= ninep.DMDir
	} else {
		e.file = impl
	}
	e.ref = &ninep.Dir{
		Qid: ninep.Qid{
			Path: ns.nextID,
			Vers: 0,
			Type: byte(kind),
		},
		Name: name,
		Mode: perm,
		Uid:  ns.user,
		Gid:  ns.group,
		Muid: ns.user,
	}
	ns.nextID++
	return e
}

// Root returns the entry of the root directory
func (ns *Namespace) Root() *Entry {
	ns.mtx.RLock()
	defer ns.mtx.RUnlock()
	return ns.dict[0]
}

// Get entry with given path
func (ns *Namespace) Get(p string) (*Entry, error) {
	ns.mtx.RLock()
	defer ns.mtx.RUnlock()
	return ns.lookup(p)
}

// resolve a path (lock held by caller)
func (ns *Namespace) lookup(p string) (*Entry, error) {
	if len(p) == 0 || p[0] != '/' {
		return nil, errNoAbs
	}
	curr := ns.dict[0]
	for _, label := range strings.Split(p[1:], "/") {
		if len(label) == 0 {
			continue
		}
		if curr.children == nil {
			return nil, errNoDir
		}
		next, ok := curr.children[label]
		if !ok {
			return nil, errNoFile
		}
		curr = next
	}
	return curr, nil
}

// NewDir creates a directory at the given path.
func (ns *Namespace) NewDir(p string, perm uint32) error {
	return ns.add(p, perm, nil)
}

// NewFile creates a file at the given path.
func (ns *Namespace) NewFile(p string, perm uint32, impl File) error {
	return ns.add(p, perm, impl)
}

// add an entry to its parent directory
func (ns *Namespace) add(p string, perm uint32, impl File) error {
	ns.mtx.Lock()
	defer ns.mtx.Unlock()
	dir, name := path.Split(path.Clean(p))
	if len(name) == 0 {
		return errExists
	}
	parent, err := ns.lookup(dir)
	if err != nil {
		return err
	}
	if parent.children == nil {
		return errNoDir
	}
	if _, ok := parent.children[name]; ok {
		return errExists
	}
	e := ns.newEntry(name, perm, impl)
	parent.children[name] = e
	ns.dict[e.ref.Path] = e
	return nil
}

// entry for a Qid
func (ns *Namespace) entry(q *ninep.Qid) (*Entry, bool) {
	ns.mtx.RLock()
	defer ns.mtx.RUnlock()
	e, ok := ns.dict[q.Path]
	return e, ok
}

// ninep FS implementation

// Attach to 9p session
func (ns *Namespace) Attach(t *ninep.Tattach) {
	if e := ns.Root(); e != nil {
		t.Respond(&e.ref.Qid)
	} else {
		t.Err(errNoRoot)
	}
}

// Walk to child entry with name "next".
func (ns *Namespace) Walk(cur *ninep.Qid, next string) *ninep.Qid {
	e, ok := ns.entry(cur)
	if !ok {
		return nil
	}
	ns.mtx.RLock()
	defer ns.mtx.RUnlock()
	if c, ok := e.children[next]; ok {
		return &c.ref.Qid
	}
	return nil
}

// maximum payload of a single read
const iounit = 8192

// Open entry for file operation
func (ns *Namespace) Open(t *ninep.Topen, q *ninep.Qid) {
	t.Respond(q, iounit)
}

// Read from entry. Either return the content of a file
// or the listing from a directory.
func (ns *Namespace) Read(t *ninep.Tread, q *ninep.Qid) {
	e, ok := ns.entry(q)
	if !ok {
		t.Err(errNoFile)
		return
	}
	if e.children != nil {
		ninep.ReadDir(t, ns.listing(e))
		return
	}
	data, err := e.file.Read()
	if err != nil {
		t.Err(err)
	} else {
		ninep.ReadBuf(t, data)
	}
}

// directory entries sorted by name
func (ns *Namespace) listing(dir *Entry) []ninep.Dir {
	ns.mtx.RLock()
	defer ns.mtx.RUnlock()
	kids := make([]ninep.Dir, 0, len(dir.children))
	for _, c := range dir.children {
		kids = append(kids, *c.ref)
	}
	slices.SortFunc(kids, func(a, b ninep.Dir) int {
		return strings.Compare(a.Name, b.Name)
	})
	return kids
}

// Stat returns information for a filesytem entry.
func (ns *Namespace) Stat(t *ninep.Tstat, q *ninep.Qid) {
	e, ok := ns.entry(q)
	if !ok {
		t.Err(errNoFile)
	} else {
		t.Respond(e.ref)
	}
}
