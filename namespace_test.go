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
	"fmt"
	"io"
	"math/rand/v2"
	"testing"

	"git.sr.ht/~moody/ninep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// build a test namespace
func newNamespace() (ns *Namespace, err error) {
	ns = NewNamespace("sys", "sys")
	if err = ns.NewFile("/readme", 0444, NewStaticFile("Just a test...")); err != nil {
		return
	}
	if err = ns.NewDir("/sensors", 0777); err != nil {
		return
	}
	err = ns.NewFile("/sensors/temp", 0444, NewLiveFile(
		func(w io.Writer) {
			fmt.Fprintf(w, "%f\n", rand.Float32())
		},
	))
	return
}

func TestNamespaceNew(t *testing.T) {
	ns, err := newNamespace()
	require.NoError(t, err)

	root := ns.Root()
	require.NotNil(t, root)
	assert.True(t, root.IsDir())
	assert.Equal(t, uint32(0555|ninep.DMDir), root.ref.Mode)

	e, err := ns.Get("/readme")
	require.NoError(t, err)
	assert.False(t, e.IsDir())
	assert.Equal(t, "readme", e.Name())
	data, err := e.Read()
	require.NoError(t, err)
	assert.Equal(t, "Just a test...\n", string(data))

	e, err = ns.Get("/sensors/temp")
	require.NoError(t, err)
	assert.Equal(t, "sys", e.ref.Uid)
	data, err = e.Read()
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestNamespaceErrors(t *testing.T) {
	ns, err := newNamespace()
	require.NoError(t, err)

	_, err = ns.Get("readme")
	assert.ErrorIs(t, err, errNoAbs)
	_, err = ns.Get("/missing")
	assert.ErrorIs(t, err, errNoFile)
	_, err = ns.Get("/readme/x")
	assert.ErrorIs(t, err, errNoDir)

	assert.ErrorIs(t, ns.NewDir("/sensors", 0555), errExists)
	assert.ErrorIs(t, ns.NewFile("/readme/x", 0444, NewStaticFile()), errNoDir)
	assert.ErrorIs(t, ns.NewFile("/a/b", 0444, NewStaticFile()), errNoFile)

	e, err := ns.Get("/sensors")
	require.NoError(t, err)
	_, err = e.Read()
	assert.ErrorIs(t, err, errNoFile)
}

func TestNamespaceWalk(t *testing.T) {
	ns, err := newNamespace()
	require.NoError(t, err)

	root := ns.Root()
	q := ns.Walk(&root.ref.Qid, "sensors")
	require.NotNil(t, q)
	assert.Equal(t, byte(ninep.QTDir), q.Type)
	q = ns.Walk(q, "temp")
	require.NotNil(t, q)
	assert.Equal(t, byte(ninep.QTFile), q.Type)

	assert.Nil(t, ns.Walk(&root.ref.Qid, "missing"))
	assert.Nil(t, ns.Walk(&ninep.Qid{Path: 999}, "temp"))
}

func TestFiles(t *testing.T) {
	n := 0
	f := NewLiveFile(func(w io.Writer) {
		n++
		fmt.Fprintf(w, "read %d\n", n)
	})
	data, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, "read 1\n", string(data))
	data, err = f.Read()
	require.NoError(t, err)
	assert.Equal(t, "read 2\n", string(data))
	assert.ErrorIs(t, f.Write([]byte("x")), errReadOnly)

	s := NewStaticFile("a=1", "b=2")
	data, err = s.Read()
	require.NoError(t, err)
	assert.Equal(t, "a=1\nb=2\n", string(data))
	assert.ErrorIs(t, s.Write(nil), errReadOnly)

	data, err = NewStaticFile().Read()
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestNamespaceListing(t *testing.T) {
	host, svc := testZone()
	resp := NewResponder(newFakeStack("192.168.1.42"), host, svc, ResponderConfig{})
	ns, err := NewDeviceNamespace("sys", "sys", host, svc, resp, nil)
	require.NoError(t, err)

	dir, err := ns.Get("/mdns")
	require.NoError(t, err)
	var names []string
	for _, d := range ns.listing(dir) {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"service", "state", "stats", "txt"}, names)
}
