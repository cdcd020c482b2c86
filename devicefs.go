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
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"git.sr.ht/~moody/ninep"
)

// NewDeviceNamespace builds the read-only namespace describing the
// device, its address and the mDNS session:
//
//	/net/ip         assigned IPv4 address
//	/net/hostname   announced host name
//	/mdns/service   service type, instance and port
//	/mdns/txt       TXT attributes (one "key=value" per line)
//	/mdns/state     responder state
//	/mdns/stats     responder counters
//	/status         device status
func NewDeviceNamespace(user, group string, host *HostRecord, svc *ServiceDescriptor,
	resp *Responder, status *Status) (*Namespace, error) {
	ns := NewNamespace(user, group)

	steps := []struct {
		path string
		impl File
	}{
		{"/net", nil},
		{"/net/ip", NewStaticFile(host.IPv4.String())},
		{"/net/hostname", NewStaticFile(host.FQDN())},
		{"/mdns", nil},
		{"/mdns/service", NewStaticFile(
			"type "+svc.ServiceType(),
			"instance "+svc.InstanceName(),
			fmt.Sprintf("port %d", svc.Port),
			fmt.Sprintf("priority %d", svc.Priority),
			fmt.Sprintf("weight %d", svc.Weight),
		)},
		{"/mdns/txt", NewStaticFile(svc.TXTStrings()...)},
		{"/mdns/state", NewLiveFile(func(w io.Writer) {
			fmt.Fprintln(w, resp.State())
		})},
		{"/mdns/stats", NewLiveFile(func(w io.Writer) {
			s := resp.Stats()
			fmt.Fprintf(w, "received %d\nanswered %d\nmalformed %d\nignored %d\nsendfails %d\n",
				s.Received, s.Answered, s.Malformed, s.Ignored, s.SendFails)
		})},
		{"/status", NewLiveFile(func(w io.Writer) {
			stat, repeat := status.Get()
			fmt.Fprintln(w, StatusName(stat), repeat)
		})},
	}
	for _, s := range steps {
		var err error
		if s.impl == nil {
			err = ns.NewDir(s.path, 0555)
		} else {
			err = ns.NewFile(s.path, 0444, s.impl)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.path, err)
		}
	}
	return ns, nil
}

// Serve9P serves the namespace on all connections accepted by the
// listener until the context is cancelled.
func Serve9P(ctx context.Context, lst net.Listener, ns *Namespace, logger *slog.Logger, status *Status) error {
	logger = logOrDiscard(logger)
	go func() {
		<-ctx.Done()
		lst.Close()
	}()
	logger.Info("serving 9p namespace", slog.String("addr", lst.Addr().String()))
	for {
		c, err := lst.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			logger.Warn("9p accept failed", slog.String("err", err.Error()))
			status.Set(StatSRV, 3)
			continue
		}
		logger.Debug("9p client connected", slog.String("remote", c.RemoteAddr().String()))
		gc := &guardedConn{Conn: c, log: logger}
		srv := ninep.NewSrv(func() ninep.FS { return ns })
		go srv.ServeIO(gc, gc)
	}
}

//----------------------------------------------------------------------

// 9p frame size limits (size[4] type[1] tag[2] is the smallest message)
const (
	minFrame = 7
	maxFrame = 1 << 16
)

var errFrameLength = errors.New("invalid 9p frame length")

// guardedConn hands complete, sane 9p frames to the ninep server. The
// server exits the process on any read error, so a connection that
// fails or sends garbage is closed and its read loop parked instead.
type guardedConn struct {
	net.Conn
	log *slog.Logger
	buf []byte // rest of the current frame
}

// Read the next bytes of the current frame; never fails.
func (c *guardedConn) Read(p []byte) (int, error) {
	if len(c.buf) == 0 {
		frame, err := c.frame()
		if err != nil {
			c.log.Debug("9p client gone",
				slog.String("remote", c.RemoteAddr().String()),
				slog.String("err", err.Error()))
			c.Conn.Close()
			select {}
		}
		c.buf = frame
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

// Write a response; errors show up on the next read.
func (c *guardedConn) Write(p []byte) (int, error) {
	if _, err := c.Conn.Write(p); err != nil {
		c.Conn.Close()
	}
	return len(p), nil
}

// read a complete frame
func (c *guardedConn) frame() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.Conn, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(hdr[:])
	if size < minFrame || size > maxFrame {
		return nil, fmt.Errorf("%w: %d", errFrameLength, size)
	}
	frame := make([]byte, size)
	copy(frame, hdr[:])
	if _, err := io.ReadFull(c.Conn, frame[4:]); err != nil {
		return nil, err
	}
	return frame, nil
}
