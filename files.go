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
	"bytes"
	"errors"
	"io"
	"strings"
)

// File is a node of the device namespace. Read is called by the 9p
// handler for every read request on the file.
type File interface {
	Read() ([]byte, error)
	Write([]byte) error
}

var errReadOnly = errors.New("file is read-only")

// readOnly rejects writes; all namespace files embed it.
type readOnly struct{}

func (readOnly) Write([]byte) error {
	return errReadOnly
}

//----------------------------------------------------------------------

// StaticFile content is fixed when the namespace is built.
type StaticFile struct {
	readOnly
	body []byte
}

// NewStaticFile with one line per argument.
func NewStaticFile(lines ...string) *StaticFile {
	var body strings.Builder
	for _, line := range lines {
		body.WriteString(line)
		body.WriteByte('\n')
	}
	return &StaticFile{body: []byte(body.String())}
}

// Read returns the fixed content.
func (f *StaticFile) Read() ([]byte, error) {
	return f.body, nil
}

//----------------------------------------------------------------------

// LiveFile content is rendered on every read (counters, state).
type LiveFile struct {
	readOnly
	render func(w io.Writer)
}

// NewLiveFile with a render function.
func NewLiveFile(render func(w io.Writer)) *LiveFile {
	return &LiveFile{render: render}
}

// Read renders the current content.
func (f *LiveFile) Read() ([]byte, error) {
	var buf bytes.Buffer
	f.render(&buf)
	return buf.Bytes(), nil
}
